package cli

import (
	"testing"
)

func TestRunWithoutArgsPrintsUsage(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stdout := c.MustRun()

	AssertContains(t, stdout, "Usage: evo [options] <command> [args]")
	AssertContains(t, stdout, "--config")
	AssertContains(t, stdout, "--log-level")

	for _, name := range []string{"run", "repl", "print-config", "init-config"} {
		AssertContains(t, stdout, "  "+name)
	}
}

func TestRunHelpFlag(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	for _, flag := range []string{"-h", "--help"} {
		stdout := c.MustRun(flag)
		AssertContains(t, stdout, "Usage: evo")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stderr := c.MustFail("frobnicate")

	AssertContains(t, stderr, "unknown command: frobnicate")
	AssertContains(t, stderr, "Usage: evo")
}

func TestRunUnknownGlobalFlag(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stderr := c.MustFail("--frobnicate", "print-config")

	AssertContains(t, stderr, "unknown flag: --frobnicate")
}

func TestRunCommandHelp(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stdout := c.MustRun("run", "--help")

	AssertContains(t, stdout, "Usage: evo run [flags]")
	AssertContains(t, stdout, "--duration")
	AssertContains(t, stdout, "--metrics-addr")
	AssertContains(t, stdout, "--lock-free")
}

func TestRunCommandBadFlag(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stderr := c.MustFail("init-config", "--nope")

	AssertContains(t, stderr, "error: unknown flag: --nope")
	AssertContains(t, stderr, "Usage: evo init-config")
	AssertContains(t, stderr, "--force")
}

func TestRunCommandHelpGoesToStdout(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stdout, stderr, code := c.Run("init-config", "--help")
	if code != 0 {
		t.Fatalf("exit code %d\nstderr: %s", code, stderr)
	}

	AssertContains(t, stdout, "Usage: evo init-config")
	AssertNotContains(t, stderr, "Usage:")
}

func TestRunInvalidConfig(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)
	c.WriteConfig(`{"window": {"width": 0}}`)

	stderr := c.MustFail("print-config")

	AssertContains(t, stderr, "invalid config")
	AssertContains(t, stderr, "window: size 0x720 must be positive")
}

func TestRunMissingExplicitConfig(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stderr := c.MustFail("--config", "missing.json", "print-config")

	AssertContains(t, stderr, "missing.json")
}

func TestRunInvalidLogLevel(t *testing.T) {
	t.Parallel()

	c := NewCLI(t)

	stderr := c.MustFail("--log-level", "loud", "print-config")

	AssertContains(t, stderr, `log.level: unknown level "loud"`)
}
