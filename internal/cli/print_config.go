package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/evo/internal/settings"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, a.prefs)
		},
	}
}

func execPrintConfig(io *IO, prefs settings.Preferences) error {
	formatted, err := settings.Format(prefs)
	if err != nil {
		return err
	}

	io.Println(formatted)
	io.Println("")
	io.Println("# sources")
	io.Println("effective_cwd=" + prefs.EffectiveCwd)

	if prefs.Sources.Global == "" && prefs.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if prefs.Sources.Global != "" {
			io.Println("global_config=" + prefs.Sources.Global)
		}

		if prefs.Sources.Project != "" {
			io.Println("project_config=" + prefs.Sources.Project)
		}
	}

	return nil
}
