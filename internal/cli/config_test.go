package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/evo/internal/settings"
)

func TestPrintConfigDefaults(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stdout := c.MustRun("print-config")

	AssertContains(t, stdout, `"horizontal_granularity": 128`)
	AssertContains(t, stdout, `"engine": "queue"`)
	AssertContains(t, stdout, "effective_cwd="+c.Dir)
	AssertContains(t, stdout, "(defaults only)")
}

func TestPrintConfigProjectFile(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteConfig(`{
		// comments are allowed
		"channel": {"lock_free": true},
	}`)

	stdout := c.MustRun("print-config")

	AssertContains(t, stdout, `"lock_free": true`)
	AssertContains(t, stdout, "project_config="+c.ConfigPath())
	AssertNotContains(t, stdout, "(defaults only)")
}

func TestPrintConfigGlobalFile(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	global := settings.GlobalConfigPath(c.Env)
	if err := os.MkdirAll(filepath.Dir(global), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(global, []byte(`{"log": {"level": "warn"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	stdout := c.MustRun("print-config")

	AssertContains(t, stdout, `"level": "warn"`)
	AssertContains(t, stdout, "global_config="+global)
}

func TestPrintConfigLogLevelOverride(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteConfig(`{"log": {"level": "warn"}}`)

	stdout := c.MustRun("--log-level", "debug", "print-config")

	AssertContains(t, stdout, `"level": "debug"`)
}

func TestInitConfigWritesDefaults(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stdout := c.MustRun("init-config")
	AssertContains(t, stdout, "wrote "+c.ConfigPath())

	loaded := settings.Default()
	if err := settings.Parse([]byte(c.ReadConfig()), &loaded); err != nil {
		t.Fatalf("written config does not parse: %v", err)
	}

	// The written file is picked up as project config on the next run.
	stdout = c.MustRun("print-config")
	AssertContains(t, stdout, "project_config="+c.ConfigPath())
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteConfig(`{"log": {"level": "warn"}}`)

	stderr := c.MustFail("init-config")
	AssertContains(t, stderr, "config file already exists")

	AssertContains(t, c.ReadConfig(), `"warn"`)

	c.MustRun("init-config", "--force")
	AssertContains(t, c.ReadConfig(), `"level": "info"`)
}

func TestInitConfigRejectsArguments(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stderr := c.MustFail("init-config", "extra")
	AssertContains(t, stderr, "unexpected argument: extra")
}
