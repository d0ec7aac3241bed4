package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one evo subcommand.
type Command struct {
	// Flags holds the command's own flags. Nil means the command takes none.
	Flags *flag.FlagSet

	// Usage follows "evo" in help output and starts with the command name,
	// e.g. "run [flags]".
	Usage string

	// Short is listed next to Usage in the global help.
	Short string

	// Long is shown by "evo <cmd> --help". Falls back to Short.
	Long string

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine formats the command for the global command listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-22s %s", c.Usage, c.Short)
}

// WriteHelp writes the command's usage, description and flag defaults to w.
func (c *Command) WriteHelp(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Usage: %s %s\n\n%s\n", serviceName, c.Usage, cmp.Or(c.Long, c.Short))

	if c.Flags == nil || !c.Flags.HasFlags() {
		return
	}

	_, _ = io.WriteString(w, "\nFlags:\n")

	c.Flags.SetOutput(w)
	c.Flags.PrintDefaults()
	c.Flags.SetOutput(io.Discard)
}

// Run parses args and calls Exec, returning the exit code.
//
// --help writes help to stdout and exits 0. A flag error writes the error
// followed by help to stderr and exits 1, leaving stdout empty.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	rest, err := c.parse(args)

	switch {
	case errors.Is(err, flag.ErrHelp):
		c.WriteHelp(o.Out())

		return 0
	case err != nil:
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.WriteHelp(o.ErrOut())

		return 1
	}

	if err := c.Exec(ctx, o, rest); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}

func (c *Command) parse(args []string) ([]string, error) {
	if c.Flags == nil {
		c.Flags = flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	}

	c.Flags.SetOutput(io.Discard)

	if err := c.Flags.Parse(args); err != nil {
		return nil, err
	}

	return c.Flags.Args(), nil
}
