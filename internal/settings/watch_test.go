package settings_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/calvinalkan/evo/internal/settings"
)

// rewriteUntil keeps rewriting path with content until reloaded yields or
// the deadline passes. The watcher may not be registered yet when the first
// write happens.
func rewriteUntil(t *testing.T, path, content string, reloaded <-chan settings.Preferences) settings.Preferences {
	t.Helper()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		writeFile(t, path, content)

		select {
		case prefs := <-reloaded:
			return prefs
		case <-deadline:
			t.Fatalf("no reload of %s within deadline", path)
		case <-tick.C:
		}
	}
}

func Test_Watch_Applies_Reloaded_Settings_When_Project_File_Changes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, settings.ConfigFileName)
	writeFile(t, path, `{"log": {"level": "info"}}`)

	core, logs := observer.New(zap.DebugLevel)
	reloaded := make(chan settings.Preferences, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- settings.Watch(ctx, settings.WatchInput{
			Load: settings.LoadInput{
				WorkDirOverride: dir,
				Env:             map[string]string{"XDG_CONFIG_HOME": filepath.Join(dir, "xdg")},
			},
			Debounce: 10 * time.Millisecond,
			Apply:    func(p settings.Preferences) { reloaded <- p },
			Logger:   zap.New(core),
		})
	}()

	prefs := rewriteUntil(t, path, `{"log": {"level": "debug"}}`, reloaded)
	require.Equal(t, "debug", prefs.Log.Level)
	require.Equal(t, path, prefs.Sources.Project)

	cancel()
	require.NoError(t, <-done)
	require.NotZero(t, logs.FilterMessage("config reloaded").Len())
}

func Test_Watch_Keeps_Previous_Settings_When_Reload_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	writeFile(t, path, `{}`)

	core, logs := observer.New(zap.DebugLevel)
	reloaded := make(chan settings.Preferences, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- settings.Watch(ctx, settings.WatchInput{
			Load: settings.LoadInput{
				WorkDirOverride: dir,
				ConfigPath:      "custom.json",
				Env:             map[string]string{"XDG_CONFIG_HOME": filepath.Join(dir, "xdg")},
			},
			Debounce: 10 * time.Millisecond,
			Apply:    func(p settings.Preferences) { reloaded <- p },
			Logger:   zap.New(core),
		})
	}()

	// Invalid content is never applied; keep writing it until the failure
	// is logged, then fix the file.
	deadline := time.Now().Add(5 * time.Second)
	for logs.FilterMessage("config reload failed, keeping previous settings").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reload failure was never logged")
		}

		writeFile(t, path, `{"log": {"level": "loud"}}`)
		time.Sleep(50 * time.Millisecond)
	}

	require.Empty(t, reloaded)

	prefs := rewriteUntil(t, path, `{"log": {"level": "warn"}}`, reloaded)
	require.Equal(t, "warn", prefs.Log.Level)

	cancel()
	require.NoError(t, <-done)
}

func Test_Watch_Returns_Nil_When_Context_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := settings.Watch(ctx, settings.WatchInput{
		Load: settings.LoadInput{WorkDirOverride: t.TempDir()},
	})
	require.NoError(t, err)
}
