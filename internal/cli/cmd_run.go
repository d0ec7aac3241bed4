package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/evo/internal/evolve"
	"github.com/calvinalkan/evo/internal/logging"
	"github.com/calvinalkan/evo/internal/render"
	"github.com/calvinalkan/evo/internal/settings"
	"github.com/calvinalkan/evo/internal/telemetry"
	"github.com/calvinalkan/evo/pkg/flipbook"
)

const defaultFPS = 60

type runFlags struct {
	duration     time.Duration
	fps          int
	stepInterval time.Duration
	dumpDir      string
	dumpEvery    uint64
	metricsAddr  string
	lockFree     bool
	seed         uint64
	watchConfig  bool
}

// RunCmd returns the run command.
func RunCmd(a *app) *Command {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)

	var f runFlags

	fs.DurationVarP(&f.duration, "duration", "d", 0, "Stop after `d` (0 runs until interrupted)")
	fs.IntVar(&f.fps, "fps", defaultFPS, "Renderer frames per second")
	fs.DurationVar(&f.stepInterval, "step-interval", time.Millisecond, "Minimum wall-clock time between simulation steps")
	fs.StringVar(&f.dumpDir, "dump-dir", "", "Write PNG frames into `dir`")
	fs.Uint64Var(&f.dumpEvery, "dump-every", 0, "Dump every `n`th rendered frame (requires --dump-dir)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on `addr` (e.g. :9090)")
	fs.BoolVar(&f.lockFree, "lock-free", false, "Use the packed atomic recency index (overrides channel.lock_free)")
	fs.Uint64Var(&f.seed, "seed", 1, "Random seed for the initial populations")
	fs.BoolVar(&f.watchConfig, "watch-config", false, "Reload log.level when the config file changes")

	return &Command{
		Flags: fs,
		Usage: "run [flags]",
		Short: "Run the simulation and renderer",
		Long: "Run the simulation and the headless renderer connected by a flipbook channel.\n" +
			"Stops after --duration or on interrupt and prints a summary.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			if fs.Changed("lock-free") {
				a.prefs.Channel.LockFree = f.lockFree
			}

			if f.dumpEvery > 0 && f.dumpDir == "" {
				io.Warn("--dump-every has no effect without --dump-dir", "pass --dump-dir or drop --dump-every")
			}

			return execRun(ctx, io, a, f)
		},
	}
}

// runSummary is printed when a run ends.
type runSummary struct {
	steps     uint64
	simulated time.Duration
	producer  flipbook.Stats
	consumer  flipbook.Stats
	rendered  uint64
	lastDump  string
	alive     flipbook.BackChannel
}

func execRun(ctx context.Context, io *IO, a *app, f runFlags) error {
	if f.fps <= 0 {
		return fmt.Errorf("--fps %d must be positive", f.fps)
	}

	if f.duration < 0 {
		return fmt.Errorf("--duration %s must not be negative", f.duration)
	}

	if f.duration > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	sim := a.prefs.Simulation

	world, err := evolve.NewWorld(worldConfig(sim, f.seed))
	if err != nil {
		return fmt.Errorf("creating world: %w", err)
	}

	renderer, err := render.New(render.Config{
		Width:       int(a.prefs.Window.Width),
		Height:      int(a.prefs.Window.Height),
		PlaneWidth:  sim.PlaneWidth,
		PlaneHeight: sim.PlaneHeight,
		DumpDir:     f.dumpDir,
		DumpEvery:   f.dumpEvery,
		Logger:      a.logger.Named("render"),
	})
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}

	metrics := telemetry.New()

	opts, err := a.prefs.Channel.ChannelOptions()
	if err != nil {
		return err
	}

	opts.Layout = world.Layout()
	opts.Bind = renderer.Bind
	opts.Observer = metrics

	prod, cons, err := flipbook.New(opts)
	if err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}

	a.logger.Info("run started",
		zap.Bool("lock_free", opts.LockFree),
		zap.Stringer("engine", opts.Engine),
		zap.Stringer("arena", opts.Arena),
		zap.Int("slot_bytes", opts.Layout.SlotSize()),
		zap.Duration("duration", f.duration),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return evolve.Run(gctx, prod, world, evolve.RunOptions{
			TimeDilation: sim.TimeDilation,
			MaxStep:      time.Duration(sim.MaxDiscreteTime * float64(time.Second)),
			Interval:     f.stepInterval,
			Logger:       a.logger.Named("evolve"),
			Recorder:     metrics,
			Env:          a.env,
		})
	})

	g.Go(func() error {
		return render.Run(gctx, cons, renderer, time.Second/time.Duration(f.fps))
	})

	if f.metricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, f.metricsAddr, a.logger.Named("metrics"), nil)
		})
	}

	if f.watchConfig {
		g.Go(func() error {
			return settings.Watch(gctx, settings.WatchInput{
				Load:   a.load,
				Apply:  a.applyReloaded,
				Logger: a.logger.Named("settings"),
			})
		})
	}

	runErr := g.Wait()

	summary := runSummary{
		steps:     world.Steps(),
		simulated: world.Elapsed(),
		producer:  prod.Stats(),
		consumer:  cons.Stats(),
		rendered:  renderer.Frames(),
		lastDump:  renderer.LastDump(),
		alive:     world.Alive(),
	}

	closeErr := errors.Join(prod.Close(), cons.Close())
	if err := errors.Join(runErr, closeErr); err != nil {
		return err
	}

	printSummary(io, a.runID, summary)

	return nil
}

// applyReloaded applies the settings that can change during a run.
func (a *app) applyReloaded(p settings.Preferences) {
	next, err := logging.ParseLevel(p.Log.Level)
	if err != nil {
		return
	}

	prev := a.level.Level()
	if next.Level() == prev {
		return
	}

	a.level.SetLevel(next.Level())
	a.logger.Info("log level changed", zap.Stringer("from", prev), zap.Stringer("to", next.Level()))
}

func worldConfig(sim settings.Simulation, seed uint64) evolve.Config {
	return evolve.Config{
		PlaneWidth:  sim.PlaneWidth,
		PlaneHeight: sim.PlaneHeight,
		Cols:        sim.HorizontalGranularity,
		Rows:        sim.VerticalGranularity,
		Herbivores: evolve.Group{
			Population: sim.Herbivores.Dataset(),
			ViewRadius: sim.Herbivores.ViewRadius,
		},
		Predators: evolve.Group{
			Population: sim.Predators.Dataset(),
			ViewRadius: sim.Predators.ViewRadius,
		},
		Seed: seed,
	}
}

func printSummary(io *IO, runID string, s runSummary) {
	io.Println("run_id=" + runID)
	io.Printf("steps=%d\n", s.steps)
	io.Printf("simulated=%s\n", s.simulated)
	io.Printf("frames_published=%d\n", s.producer.FramesPublished)
	io.Printf("snapshots=%d\n", s.consumer.SnapshotsTaken)
	io.Printf("promotions=%d\n", s.consumer.Promotions)
	io.Printf("reuses=%d\n", s.consumer.Reuses)
	io.Printf("rendered=%d\n", s.rendered)
	io.Printf("herbivores=%d\n", s.alive.Herbivores.Len())
	io.Printf("predators=%d\n", s.alive.Predators.Len())

	if s.lastDump != "" {
		io.Println("last_dump=" + s.lastDump)
	}
}
