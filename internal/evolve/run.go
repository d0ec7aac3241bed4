package evolve

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/calvinalkan/evo/pkg/flipbook"
)

// DropSimulationEnv makes [Run] return immediately when set to "1".
const DropSimulationEnv = "EVO_DROP_SIMULATION"

// Recorder receives per-step measurements.
type Recorder interface {
	Step(delta time.Duration, clamped bool)
	SetAlive(group string, n uint32)
}

type nopRecorder struct{}

func (nopRecorder) Step(time.Duration, bool) {}
func (nopRecorder) SetAlive(string, uint32)  {}

// RunOptions configures [Run].
type RunOptions struct {
	// TimeDilation scales wall-clock time before each step. 0 means 1.
	TimeDilation float64
	// MaxStep clamps the dilated step. Required.
	MaxStep time.Duration
	// Interval is the minimum wall-clock time between steps. 0 steps as
	// fast as possible.
	Interval time.Duration

	Logger   *zap.Logger
	Recorder Recorder
	Env      map[string]string

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Dilate scales delta by dilation and clamps the result to limit. The
// second result reports whether clamping happened.
func Dilate(delta time.Duration, dilation float64, limit time.Duration) (time.Duration, bool) {
	dilated := math.Round(float64(delta) * dilation)
	if dilated > float64(limit) {
		return limit, true
	}

	return time.Duration(dilated), false
}

// Run steps w and publishes one frame per step into prod until ctx is done.
func Run(ctx context.Context, prod *flipbook.Producer, w *World, opts RunOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Env[DropSimulationEnv] == "1" {
		logger.Warn("environment variable " + DropSimulationEnv + " is set to \"1\"")
		logger.Warn("dropping the simulation task immediately")

		return nil
	}

	if opts.MaxStep <= 0 {
		return fmt.Errorf("max step %s must be positive", opts.MaxStep)
	}

	dilation := opts.TimeDilation
	if dilation == 0 {
		dilation = 1
	}

	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var tick <-chan time.Time

	if opts.Interval > 0 {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		tick = ticker.C
	}

	logger.Info("simulation started",
		zap.Float64("time_dilation", dilation),
		zap.Duration("max_step", opts.MaxStep),
		zap.Uint32("herbivores", w.herb.alive),
		zap.Uint32("predators", w.pred.alive),
	)

	last := now()

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return stopped(logger, w)
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return stopped(logger, w)
		}

		t := now()
		elapsed := t.Sub(last)
		last = t

		delta, clamped := Dilate(elapsed, dilation, opts.MaxStep)
		if clamped {
			logger.Warn("time step of the simulation had to be clamped",
				zap.Duration("step", elapsed),
				zap.Duration("max", opts.MaxStep),
			)
			logger.Warn("consider lowering the dilation factor or increasing max_discrete_time")
		}

		w.Step(delta)
		rec.Step(delta, clamped)

		err := publish(prod, w)
		if err != nil {
			return fmt.Errorf("publishing step %d: %w", w.Steps(), err)
		}

		alive := w.Alive()
		rec.SetAlive("herbivores", alive.Herbivores.Len())
		rec.SetAlive("predators", alive.Predators.Len())
	}
}

func publish(prod *flipbook.Producer, w *World) error {
	frame, err := prod.BeginFrame()
	if err != nil {
		return err
	}

	writeErr := w.Write(frame)
	closeErr := frame.Close()

	if writeErr != nil {
		return writeErr
	}

	return closeErr
}

func stopped(logger *zap.Logger, w *World) error {
	alive := w.Alive()
	logger.Info("simulation stopped",
		zap.Uint64("steps", w.Steps()),
		zap.Duration("simulated", w.Elapsed()),
		zap.Uint32("herbivores", alive.Herbivores.Len()),
		zap.Uint32("predators", alive.Predators.Len()),
	)

	return nil
}
