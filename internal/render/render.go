// Package render draws flipbook snapshots into RGBA images. It is the
// headless stand-in for a display: each snapshot becomes one image, scaled
// to the window size, optionally dumped as PNG.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"github.com/calvinalkan/evo/internal/dataset"
	"github.com/calvinalkan/evo/pkg/flipbook"
)

// ErrUnbound indicates a snapshot whose slot has no scratch image, i.e. the
// channel was created without [Renderer.Bind].
var ErrUnbound = errors.New("render: slot has no bound scratch image")

const grassShade = 0.35

var (
	herbivoreColor = color.RGBA{R: 0xE0, G: 0xFF, B: 0xE0, A: 0xFF}
	predatorColor  = color.RGBA{R: 0xFF, G: 0x40, B: 0x40, A: 0xFF}
)

// Config configures a Renderer.
type Config struct {
	// Window size in pixels.
	Width  int
	Height int

	// Plane size in board units, used to place individuals.
	PlaneWidth  float64
	PlaneHeight float64

	// DumpDir receives frame-NNNNNN.png every DumpEvery frames when both
	// are set.
	DumpDir   string
	DumpEvery uint64

	Logger *zap.Logger
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Renderer converts snapshots into images. Not safe for concurrent use.
type Renderer struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	window *image.RGBA

	frames      uint64
	secFrames   uint64
	secStart    time.Time
	fps         uint64
	lastDumped  string
	lastSnapAge time.Duration
}

// New returns a renderer drawing into a Width x Height window image.
func New(cfg Config) (*Renderer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("window %dx%d must be positive", cfg.Width, cfg.Height)
	}

	if cfg.PlaneWidth <= 0 || cfg.PlaneHeight <= 0 {
		return nil, fmt.Errorf("plane %vx%v must be positive", cfg.PlaneWidth, cfg.PlaneHeight)
	}

	r := &Renderer{
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Now,
		window: image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
	}

	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	if r.now == nil {
		r.now = time.Now
	}

	r.secStart = r.now()

	return r, nil
}

// Bind allocates the per-slot scratch image a channel attaches to each slot.
// Pass it as flipbook.Options.Bind.
func (r *Renderer) Bind(slot int, b *flipbook.Bundle) any {
	r.logger.Debug("binding scratch image",
		zap.Int("slot", slot),
		zap.Uint32("width", b.PlaneWidth()),
		zap.Uint32("height", b.PlaneHeight()),
	)

	return image.NewRGBA(image.Rect(0, 0, int(b.PlaneWidth()), int(b.PlaneHeight())))
}

// Render draws snap into the window image and returns it. The image is
// reused by the next call.
func (r *Renderer) Render(snap *flipbook.Snapshot) (*image.RGBA, error) {
	scratch, ok := snap.Binding().(*image.RGBA)
	if !ok {
		return nil, ErrUnbound
	}

	b := snap.Payload()
	if b == nil {
		return nil, flipbook.ErrClosed
	}

	alive, err := snap.AliveRanges()
	if err != nil {
		return nil, fmt.Errorf("reading alive ranges: %w", err)
	}

	drawField(scratch, b)
	xdraw.ApproxBiLinear.Scale(r.window, r.window.Bounds(), scratch, scratch.Bounds(), xdraw.Src, nil)

	r.drawPopulation(b.Herbivores(), alive.Herbivores, herbivoreColor)
	r.drawPopulation(b.Predators(), alive.Predators, predatorColor)

	r.lastSnapAge = r.now().Sub(snap.PublishedAt())
	r.tick()

	if r.cfg.DumpDir != "" && r.cfg.DumpEvery > 0 && r.frames%r.cfg.DumpEvery == 0 {
		if err := r.dump(); err != nil {
			return nil, err
		}
	}

	return r.window, nil
}

// drawField converts the field grid into pixels, one per cell.
func drawField(dst *image.RGBA, b *flipbook.Bundle) {
	plane := b.Plane()
	w, h := int(b.PlaneWidth()), int(b.PlaneHeight())

	for y := range h {
		for x := range w {
			cell := b.Cell(uint32(x), uint32(y))
			red := plane[cell+flipbook.ChannelRed]
			green := max(plane[cell+flipbook.ChannelGreen], plane[cell+flipbook.ChannelGrass]*grassShade)
			blue := plane[cell+flipbook.ChannelBlue]

			off := dst.PixOffset(x, y)
			dst.Pix[off+0] = toByte(red)
			dst.Pix[off+1] = toByte(green)
			dst.Pix[off+2] = toByte(blue)
			dst.Pix[off+3] = 0xFF
		}
	}
}

func toByte(v float32) uint8 {
	return uint8(min(max(v, 0), 1) * 255)
}

// drawPopulation marks each alive individual with a 3x3 dot.
func (r *Renderer) drawPopulation(buf []byte, alive flipbook.Range, c color.RGBA) {
	sx := float64(r.cfg.Width) / r.cfg.PlaneWidth
	sy := float64(r.cfg.Height) / r.cfg.PlaneHeight

	n := uint32(len(buf) / dataset.IndividualSize)
	end := min(alive.End, n)

	for i := alive.Start; i < end; i++ {
		x, y := dataset.Position(buf, int(i))
		px, py := int(float64(x)*sx), int(float64(y)*sy)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				p := image.Pt(px+dx, py+dy)
				if p.In(r.window.Rect) {
					r.window.SetRGBA(p.X, p.Y, c)
				}
			}
		}
	}
}

// tick advances the frame counter and reports FPS once per second.
func (r *Renderer) tick() {
	r.frames++
	r.secFrames++

	if now := r.now(); now.Sub(r.secStart) >= time.Second {
		r.fps = r.secFrames
		r.secFrames = 0
		r.secStart = now

		r.logger.Info("render", zap.Uint64("fps", r.fps), zap.Uint64("frames", r.frames),
			zap.Duration("snapshot_age", r.lastSnapAge))
	}
}

func (r *Renderer) dump() error {
	var buf bytes.Buffer

	if err := png.Encode(&buf, r.window); err != nil {
		return fmt.Errorf("encoding frame %d: %w", r.frames, err)
	}

	if err := os.MkdirAll(r.cfg.DumpDir, 0o755); err != nil {
		return fmt.Errorf("creating dump dir: %w", err)
	}

	path := filepath.Join(r.cfg.DumpDir, fmt.Sprintf("frame-%06d.png", r.frames))

	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	r.lastDumped = path
	r.logger.Debug("frame dumped", zap.String("path", path))

	return nil
}

// SnapshotAge returns how long before the last render its data was
// published.
func (r *Renderer) SnapshotAge() time.Duration { return r.lastSnapAge }

// Frames returns the number of rendered frames.
func (r *Renderer) Frames() uint64 { return r.frames }

// FPS returns the frame count of the last full second.
func (r *Renderer) FPS() uint64 { return r.fps }

// LastDump returns the path of the last PNG written, or "".
func (r *Renderer) LastDump() string { return r.lastDumped }

// Run takes one snapshot per interval and renders it until ctx is done.
func Run(ctx context.Context, cons *flipbook.Consumer, r *Renderer, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("render interval %s must be positive", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("renderer stopped", zap.Uint64("frames", r.frames))

			return nil
		case <-ticker.C:
		}

		if err := renderOnce(cons, r); err != nil {
			return err
		}
	}
}

func renderOnce(cons *flipbook.Consumer, r *Renderer) error {
	snap, err := cons.Snapshot()
	if err != nil {
		return fmt.Errorf("taking snapshot: %w", err)
	}

	_, renderErr := r.Render(snap)

	return errors.Join(renderErr, snap.Close())
}
