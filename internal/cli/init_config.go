package cli

import (
	"context"
	"fmt"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/evo/internal/settings"
)

// InitConfigCmd returns the init-config command.
func InitConfigCmd(a *app) *Command {
	fs := flag.NewFlagSet("init-config", flag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "Overwrite an existing "+settings.ConfigFileName)

	return &Command{
		Flags: fs,
		Usage: "init-config [--force]",
		Short: "Write default " + settings.ConfigFileName,
		Long: "Write the default configuration to " + settings.ConfigFileName +
			" in the working directory. Refuses to overwrite an existing file unless --force is given.",
		Exec: func(_ context.Context, io *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			path := filepath.Join(a.prefs.EffectiveCwd, settings.ConfigFileName)

			err := settings.Save(path, settings.Default(), *force)
			if err != nil {
				return err
			}

			io.Println("wrote " + path)

			return nil
		},
	}
}
