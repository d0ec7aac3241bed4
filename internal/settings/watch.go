package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce is how long Watch waits after the last change before
// reloading.
const DefaultWatchDebounce = 100 * time.Millisecond

// WatchInput holds the inputs for Watch.
type WatchInput struct {
	Load LoadInput

	// Debounce defaults to DefaultWatchDebounce.
	Debounce time.Duration

	// Apply receives every successfully reloaded Preferences.
	Apply func(Preferences)

	Logger *zap.Logger
}

// Watch reloads preferences whenever the project config file changes and
// hands the result to Apply. A file that fails to load is logged and
// skipped; the previous preferences stay in effect. Blocks until ctx is done.
//
// The containing directory is watched rather than the file itself so that
// editors which replace the file on save are picked up.
func Watch(ctx context.Context, input WatchInput) error {
	logger := input.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	debounce := input.Debounce
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	path, err := watchedPath(input.Load)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("cannot watch %s: %w", filepath.Dir(path), err)
	}

	logger.Info("watching config", zap.String("path", path))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("stopped watching config")

			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			logger.Debug("config change detected", zap.String("op", event.Op.String()))
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", zap.Error(err))
		case <-timer.C:
			prefs, err := Load(input.Load)
			if err != nil {
				logger.Warn("config reload failed, keeping previous settings", zap.Error(err))

				continue
			}

			logger.Info("config reloaded", zap.String("path", path))

			if input.Apply != nil {
				input.Apply(prefs)
			}
		}
	}
}

// watchedPath returns the absolute path of the file Load reads as project
// config.
func watchedPath(input LoadInput) (string, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	path := filepath.Join(workDir, ConfigFileName)

	if input.ConfigPath != "" {
		path = input.ConfigPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve %s: %w", path, err)
	}

	return filepath.Clean(abs), nil
}
