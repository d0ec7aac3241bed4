package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

const historyFileName = ".evo_history"

// lineReader is the input side of the repl. *liner.State implements it for
// terminals; scanReader for everything else.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// scanReader reads lines from a non-terminal input without echoing prompts.
type scanReader struct {
	sc *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}

	if err := r.sc.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (*scanReader) AppendHistory(string) {}

func (*scanReader) Close() error { return nil }

// ReplCmd returns the repl command.
func ReplCmd(a *app) *Command {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	lockFree := fs.Bool("lock-free", false, "Use the packed atomic recency index (overrides channel.lock_free)")

	return &Command{
		Flags: fs,
		Usage: "repl [--lock-free]",
		Short: "Drive a channel by hand",
		Long: "Open an interactive shell over a small flipbook channel. Frames and snapshots\n" +
			"are opened, filled, published and released one command at a time.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			opts, err := a.prefs.Channel.ChannelOptions()
			if err != nil {
				return err
			}

			if fs.Changed("lock-free") {
				opts.LockFree = *lockFree
			}

			sh, err := newShell(io.Out(), opts)
			if err != nil {
				return fmt.Errorf("creating channel: %w", err)
			}

			in, history := openLineReader(a.stdin, a.env, a.logger)

			loopErr := replLoop(ctx, io, sh, in)

			if history != nil {
				history()
			}

			return errors.Join(loopErr, in.Close(), sh.close())
		},
	}
}

// openLineReader returns liner on the process terminal and a plain scanner
// otherwise. The returned func saves liner history and is nil when there is
// none to save.
func openLineReader(stdin io.Reader, env map[string]string, logger *zap.Logger) (lineReader, func()) {
	if f, ok := stdin.(*os.File); !ok || f != os.Stdin || !liner.TerminalSupported() {
		if stdin == nil {
			stdin = eofReader{}
		}

		return &scanReader{sc: bufio.NewScanner(stdin)}, nil
	}

	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	state.SetCompleter(completeShell)

	path := historyPath(env)
	if path == "" {
		return state, nil
	}

	if f, err := os.Open(path); err == nil {
		if _, err := state.ReadHistory(f); err != nil {
			logger.Debug("reading repl history", zap.String("path", path), zap.Error(err))
		}

		_ = f.Close()
	}

	return state, func() {
		f, err := os.Create(path)
		if err != nil {
			logger.Warn("cannot save repl history", zap.String("path", path), zap.Error(err))

			return
		}

		if _, err := state.WriteHistory(f); err != nil {
			logger.Warn("cannot save repl history", zap.String("path", path), zap.Error(err))
		}

		_ = f.Close()
	}
}

func historyPath(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, historyFileName)
}

func replLoop(ctx context.Context, o *IO, sh *shell, in lineReader) error {
	o.Println("evo repl - type 'help' for commands")

	for ctx.Err() == nil {
		line, err := in.Prompt("evo> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		in.AppendHistory(line)

		quit, err := sh.exec(line)
		if err != nil {
			o.Println("error:", err)
		}

		if quit {
			break
		}
	}

	o.Println("bye")

	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
