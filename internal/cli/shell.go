package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/calvinalkan/evo/internal/dataset"
	"github.com/calvinalkan/evo/pkg/flipbook"
)

// Slot shape used by the repl. Small enough to print, large enough to
// exercise range validation.
const (
	shellBudget = 8
	shellPlane  = 4
)

var errNoFrame = errors.New("no frame outstanding (run 'frame' first)")

var errNoSnapshot = errors.New("no snapshot outstanding (run 'snapshot' first)")

var shellCommands = []string{
	"frame", "marker", "ranges", "publish",
	"snapshot", "release", "stats",
	"help", "exit", "quit", "q",
}

// shell drives one channel by hand. Each command maps to one flipbook
// operation, so guards stay open across lines until published or released.
type shell struct {
	out   io.Writer
	prod  *flipbook.Producer
	cons  *flipbook.Consumer
	frame *flipbook.Frame
	snap  *flipbook.Snapshot
}

func shellLayout() flipbook.Layout {
	return flipbook.Layout{
		HerbivoreBudget: shellBudget,
		PredatorBudget:  shellBudget,
		IndividualSize:  dataset.IndividualSize,
		PlaneWidth:      shellPlane,
		PlaneHeight:     shellPlane,
		InitialAlive: flipbook.BackChannel{
			Herbivores: flipbook.Range{End: shellBudget},
			Predators:  flipbook.Range{End: shellBudget},
		},
	}
}

func newShell(out io.Writer, opts flipbook.Options) (*shell, error) {
	opts.Layout = shellLayout()

	prod, cons, err := flipbook.New(opts)
	if err != nil {
		return nil, err
	}

	return &shell{out: out, prod: prod, cons: cons}, nil
}

// exec runs one input line. quit is true when the line ends the session.
// Command errors are returned for printing; the session continues.
func (s *shell) exec(line string) (quit bool, err error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true, nil
	case "help", "?":
		s.printHelp()
	case "frame":
		err = s.cmdFrame()
	case "marker":
		err = s.cmdMarker(args)
	case "ranges":
		err = s.cmdRanges(args)
	case "publish":
		err = s.cmdPublish()
	case "snapshot":
		err = s.cmdSnapshot()
	case "release":
		err = s.cmdRelease()
	case "stats":
		s.cmdStats()
	default:
		err = fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}

	return false, err
}

func (s *shell) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *shell) printHelp() {
	s.printf(`Commands:
  frame                     Begin a frame on the producer slot
  marker <n>                Fill the frame's lock plane with n
  ranges <h0> <h1> <p0> <p1> Set the frame's alive ranges
  publish                   Close the frame, publishing it
  snapshot                  Take a snapshot of the freshest frame
  release                   Close the snapshot
  stats                     Show producer and consumer counters
  help                      Show this help
  quit                      Leave the shell
`)
}

func (s *shell) cmdFrame() error {
	frame, err := s.prod.BeginFrame()
	if err != nil {
		return err
	}

	s.frame = frame
	s.printf("frame slot=%d\n", frame.Payload().Slot())

	return nil
}

func (s *shell) cmdMarker(args []string) error {
	if s.frame == nil {
		return errNoFrame
	}

	if len(args) != 1 {
		return errors.New("usage: marker <n>")
	}

	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("marker %q: %w", args[0], err)
	}

	lock := s.frame.Payload().Lock()
	for i := range lock {
		lock[i] = uint32(n)
	}

	s.printf("marker=%d\n", n)

	return nil
}

func (s *shell) cmdRanges(args []string) error {
	if s.frame == nil {
		return errNoFrame
	}

	if len(args) != 4 {
		return errors.New("usage: ranges <h0> <h1> <p0> <p1>")
	}

	var v [4]uint32

	for i, a := range args {
		n, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			return fmt.Errorf("range bound %q: %w", a, err)
		}

		v[i] = uint32(n)
	}

	bc := flipbook.BackChannel{
		Herbivores: flipbook.Range{Start: v[0], End: v[1]},
		Predators:  flipbook.Range{Start: v[2], End: v[3]},
	}

	if err := s.frame.SetAliveRanges(bc); err != nil {
		return err
	}

	s.printf("herbivores=%s predators=%s\n", bc.Herbivores, bc.Predators)

	return nil
}

func (s *shell) cmdPublish() error {
	if s.frame == nil {
		return errNoFrame
	}

	if err := s.frame.Close(); err != nil {
		return err
	}

	s.frame = nil
	s.printf("published frames=%d\n", s.prod.Stats().FramesPublished)

	return nil
}

func (s *shell) cmdSnapshot() error {
	snap, err := s.cons.Snapshot()
	if err != nil {
		return err
	}

	s.snap = snap

	alive, err := snap.AliveRanges()
	if err != nil {
		return err
	}

	b := snap.Payload()
	s.printf("snapshot slot=%d promoted=%t marker=%d herbivores=%s predators=%s stamp=%s\n",
		b.Slot(), snap.Promoted(), b.Lock()[0], alive.Herbivores, alive.Predators, snap.Stamp())

	return nil
}

func (s *shell) cmdRelease() error {
	if s.snap == nil {
		return errNoSnapshot
	}

	if err := s.snap.Close(); err != nil {
		return err
	}

	s.snap = nil
	s.printf("released\n")

	return nil
}

func (s *shell) cmdStats() {
	ps := s.prod.Stats()
	cs := s.cons.Stats()

	s.printf("frames_published=%d snapshots=%d promotions=%d reuses=%d\n",
		ps.FramesPublished, cs.SnapshotsTaken, cs.Promotions, cs.Reuses)
}

// close releases outstanding guards and both channel ends.
func (s *shell) close() error {
	var errs []error

	if s.frame != nil {
		errs = append(errs, s.frame.Close())
		s.frame = nil
	}

	if s.snap != nil {
		errs = append(errs, s.snap.Close())
		s.snap = nil
	}

	errs = append(errs, s.prod.Close(), s.cons.Close())

	return errors.Join(errs...)
}

func completeShell(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range shellCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}
