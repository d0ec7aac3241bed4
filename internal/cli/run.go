package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/evo/internal/logging"
	"github.com/calvinalkan/evo/internal/settings"
	"github.com/calvinalkan/evo/pkg/flipbook"
)

const serviceName = "evo"

// app carries what every command needs after global flags are resolved.
type app struct {
	prefs  settings.Preferences
	load   settings.LoadInput
	logger *zap.Logger
	level  zap.AtomicLevel
	runID  string
	stdin  io.Reader
	env    map[string]string
}

// Run is the main entry point. Returns exit code.
//
// args[0] is the program name. sigCh may be nil; a value on it cancels the
// running command.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("evo", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	configPath := globals.StringP("config", "c", "", "Use specified config file")
	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	logLevel := globals.String("log-level", "", "Override log.level (debug, info, warn, error)")
	help := globals.BoolP("help", "h", false, "Show help")

	if len(args) < 2 {
		printUsage(out, globals)

		return 0
	}

	if err := globals.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals)

		return 1
	}

	rest := globals.Args()
	if *help || len(rest) == 0 {
		printUsage(out, globals)

		return 0
	}

	load := settings.LoadInput{
		WorkDirOverride: *workDir,
		ConfigPath:      *configPath,
		Env:             env,
		Override: func(p *settings.Preferences) {
			if *logLevel != "" {
				p.Log.Level = *logLevel
			}
		},
	}

	prefs, err := settings.Load(load)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger, level, err := logging.NewLeveled(logging.Config{
		Environment: prefs.Log.Environment,
		Level:       prefs.Log.Level,
		Service:     serviceName,
	}, errOut)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger, runID := logging.WithRunID(logger)
	defer func() { _ = logger.Sync() }()

	flipbook.SetLogger(logger)
	defer flipbook.SetLogger(nil)

	a := &app{
		prefs:  prefs,
		load:   load,
		logger: logger,
		level:  level,
		runID:  runID,
		stdin:  stdin,
		env:    env,
	}

	cmd := lookupCommand(commands(a), rest[0])
	if cmd == nil {
		fprintln(errOut, "error: unknown command:", rest[0])
		printUsage(errOut, globals)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case sig := <-sigCh:
				logger.Info("received signal, stopping", zap.Stringer("signal", sig))
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)

	if code := cmd.Run(ctx, o, rest[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

func commands(a *app) []*Command {
	return []*Command{
		RunCmd(a),
		ReplCmd(a),
		PrintConfigCmd(a),
		InitConfigCmd(a),
	}
}

func lookupCommand(cmds []*Command, name string) *Command {
	for _, c := range cmds {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet) {
	fprintln(w, `evo - predator/prey simulation

Usage: evo [options] <command> [args]

Options:`)

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	_, _ = io.WriteString(w, buf.String())

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands(&app{}) {
		fprintln(w, c.HelpLine())
	}

	fprintln(w)
	fprintln(w, `Run "evo <command> --help" for command flags.`)
}
