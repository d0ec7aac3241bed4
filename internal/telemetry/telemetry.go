// Package telemetry exposes channel and simulation metrics to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 2 * time.Second

// Metrics holds the evo collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesPublished prometheus.Counter
	Snapshots       *prometheus.CounterVec
	SnapshotAge     prometheus.Histogram
	StepSeconds     prometheus.Gauge
	StepsClamped    prometheus.Counter
	Alive           *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "evo_frames_published_total",
			Help: "Total number of frames published by the simulation",
		}),
		Snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evo_snapshots_total",
			Help: "Total number of snapshots taken by the renderer, by whether new data was promoted",
		}, []string{"promoted"}),
		SnapshotAge: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "evo_snapshot_age_seconds",
			Help:    "Time between a frame's publication and the snapshot that shows it",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		StepSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evo_simulation_step_seconds",
			Help: "Simulated duration of the last step after dilation and clamping",
		}),
		StepsClamped: factory.NewCounter(prometheus.CounterOpts{
			Name: "evo_simulation_steps_clamped_total",
			Help: "Total number of steps clamped to max_discrete_time",
		}),
		Alive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evo_alive_individuals",
			Help: "Individuals alive in the last published frame, by group",
		}, []string{"group"}),
	}
}

// FramePublished implements flipbook.Observer.
func (m *Metrics) FramePublished(time.Duration) {
	m.FramesPublished.Inc()
}

// SnapshotTaken implements flipbook.Observer.
func (m *Metrics) SnapshotTaken(promoted bool, age time.Duration) {
	m.Snapshots.WithLabelValues(strconv.FormatBool(promoted)).Inc()

	if promoted {
		m.SnapshotAge.Observe(age.Seconds())
	}
}

// Step records one simulation step.
func (m *Metrics) Step(delta time.Duration, clamped bool) {
	m.StepSeconds.Set(delta.Seconds())

	if clamped {
		m.StepsClamped.Inc()
	}
}

// SetAlive records the alive count of group.
func (m *Metrics) SetAlive(group string, n uint32) {
	m.Alive.WithLabelValues(group).Set(float64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve serves /metrics on addr until ctx is done. If ready is non-nil it
// receives the bound address once the listener is up.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	if ready != nil {
		ready <- ln.Addr()
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)

	serveErr := <-errCh
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	return errors.Join(shutdownErr, serveErr)
}
