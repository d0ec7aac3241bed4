// Package evolve is the CPU simulation backend. A World steps a
// predator/prey population over a pheromone field and writes each result
// into a flipbook frame.
package evolve

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/calvinalkan/evo/internal/dataset"
	"github.com/calvinalkan/evo/pkg/flipbook"
)

// Tuning constants, per simulated second unless noted.
const (
	grassRegrow    = 0.05
	pheromoneDecay = 0.5
	depositRate    = 0.8

	herbivoreSpeed = 5.0
	predatorSpeed  = 7.0

	herbivoreMetabolism = 0.05
	predatorMetabolism  = 0.08
	grazeRate           = 0.5

	initialEnergy = 1.0
	birthEnergy   = 1.6 // energy at which an individual splits
	catchRadius   = 1.0 // board units
	catchGain     = 0.6 // energy per catch
	mutationAngle = 0.2 // radians, max rotation of a child's movement bias
)

// Group parameters for one population.
type Group struct {
	Population dataset.Group
	ViewRadius float64
}

// Config describes a world.
type Config struct {
	PlaneWidth  float64
	PlaneHeight float64
	Cols        uint32 // field cells per row
	Rows        uint32 // field cells per column

	Herbivores Group
	Predators  Group

	Seed uint64
}

type population struct {
	name   string
	group  Group
	inds   []dataset.Individual // len == budget
	energy []float64
	alive  uint32 // alive individuals occupy [0, alive)
}

// World is the simulation state. Not safe for concurrent use.
type World struct {
	cfg   Config
	rng   *rand.Rand
	field []float32 // Cols*Rows cells, flipbook.PlaneChannels floats each
	herb  population
	pred  population
	steps uint64
	clock time.Duration
}

// NewWorld builds the initial populations and an empty field with full grass.
func NewWorld(cfg Config) (*World, error) {
	if cfg.PlaneWidth <= 0 || cfg.PlaneHeight <= 0 {
		return nil, fmt.Errorf("plane %vx%v must be positive", cfg.PlaneWidth, cfg.PlaneHeight)
	}

	if cfg.Cols == 0 || cfg.Rows == 0 {
		return nil, fmt.Errorf("field %dx%d must be positive", cfg.Cols, cfg.Rows)
	}

	for _, g := range []Group{cfg.Herbivores, cfg.Predators} {
		if g.Population.Individuals > g.Population.Budget {
			return nil, fmt.Errorf("individuals %d exceed budget %d", g.Population.Individuals, g.Population.Budget)
		}
	}

	w := &World{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		field: make([]float32, int(cfg.Cols)*int(cfg.Rows)*flipbook.PlaneChannels),
	}

	for i := flipbook.ChannelGrass; i < len(w.field); i += flipbook.PlaneChannels {
		w.field[i] = 1
	}

	w.herb = w.newPopulation("herbivores", cfg.Herbivores)
	w.pred = w.newPopulation("predators", cfg.Predators)

	return w, nil
}

func (w *World) newPopulation(name string, g Group) population {
	p := population{
		name:   name,
		group:  g,
		inds:   dataset.Population(g.Population, w.rng),
		energy: make([]float64, g.Population.Budget),
		alive:  g.Population.Individuals,
	}

	for i := range p.inds {
		ind := &p.inds[i]
		ind.Position[0] *= float32(w.cfg.PlaneWidth)
		ind.Position[1] *= float32(w.cfg.PlaneHeight)

		if ind.MovementBias == [2]float32{} {
			angle := w.rng.Float64() * 2 * math.Pi
			ind.MovementBias = [2]float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
		}

		p.energy[i] = initialEnergy
	}

	return p
}

// Layout returns the flipbook layout a channel needs to carry this world.
func (w *World) Layout() flipbook.Layout {
	return flipbook.Layout{
		HerbivoreBudget: w.cfg.Herbivores.Population.Budget,
		PredatorBudget:  w.cfg.Predators.Population.Budget,
		IndividualSize:  dataset.IndividualSize,
		PlaneWidth:      w.cfg.Cols,
		PlaneHeight:     w.cfg.Rows,
		InitialAlive:    w.Alive(),
		Herbivores:      dataset.Encode(nil, w.herb.inds),
		Predators:       dataset.Encode(nil, w.pred.inds),
	}
}

// Alive returns the alive ranges of both groups.
func (w *World) Alive() flipbook.BackChannel {
	return flipbook.BackChannel{
		Herbivores: flipbook.Range{Start: 0, End: w.herb.alive},
		Predators:  flipbook.Range{Start: 0, End: w.pred.alive},
	}
}

// Herbivores returns the alive herbivores. The slice aliases world state.
func (w *World) Herbivores() []dataset.Individual { return w.herb.inds[:w.herb.alive] }

// Predators returns the alive predators. The slice aliases world state.
func (w *World) Predators() []dataset.Individual { return w.pred.inds[:w.pred.alive] }

// Field returns the field grid. The slice aliases world state.
func (w *World) Field() []float32 { return w.field }

// Steps returns the number of steps taken.
func (w *World) Steps() uint64 { return w.steps }

// Elapsed returns the total simulated time.
func (w *World) Elapsed() time.Duration { return w.clock }

// Step advances the world by delta.
func (w *World) Step(delta time.Duration) {
	dt := delta.Seconds()
	if dt <= 0 {
		return
	}

	w.updateField(dt)
	w.stepHerbivores(dt)
	w.stepPredators(dt)
	w.reproduce(&w.herb)
	w.reproduce(&w.pred)

	w.steps++
	w.clock += delta
}

func (w *World) updateField(dt float64) {
	decay := float32(math.Exp(-pheromoneDecay * dt))
	regrow := float32(grassRegrow * dt)

	for i := 0; i < len(w.field); i += flipbook.PlaneChannels {
		w.field[i+flipbook.ChannelRed] *= decay
		w.field[i+flipbook.ChannelGreen] *= decay
		w.field[i+flipbook.ChannelBlue] *= decay
		w.field[i+flipbook.ChannelGrass] = min(1, w.field[i+flipbook.ChannelGrass]+regrow)
	}
}

func (w *World) stepHerbivores(dt float64) {
	p := &w.herb

	for i := uint32(0); i < p.alive; {
		ind := &p.inds[i]

		gx, gy := w.gradient(ind.Position, flipbook.ChannelGrass)
		// Red carries the predators' signature; weight it as a repellent.
		rx, ry := w.gradient(ind.Position, flipbook.ChannelRed)

		dx := float64(ind.MovementBias[0]) + gx*(1+float64(ind.GreenWeight[0])) - rx*(1+float64(ind.RedWeight[0]))
		dy := float64(ind.MovementBias[1]) + gy*(1+float64(ind.GreenWeight[1])) - ry*(1+float64(ind.RedWeight[1]))

		w.move(ind, dx, dy, herbivoreSpeed*dt)

		cell := w.cellIndex(ind.Position)
		grass := float64(w.field[cell+flipbook.ChannelGrass])
		eaten := math.Min(grass, grazeRate*dt)
		w.field[cell+flipbook.ChannelGrass] = float32(grass - eaten)
		p.energy[i] += eaten - herbivoreMetabolism*dt

		w.deposit(cell, ind.DepositBias, dt)

		if p.energy[i] <= 0 {
			w.kill(p, i)

			continue
		}

		i++
	}
}

func (w *World) stepPredators(dt float64) {
	p := &w.pred
	view := p.group.ViewRadius

	for i := uint32(0); i < p.alive; {
		ind := &p.inds[i]

		target, dist := w.nearestHerbivore(ind.Position, view)

		var dx, dy float64
		if target >= 0 {
			h := w.herb.inds[target].Position
			dx = float64(h[0]-ind.Position[0]) / math.Max(dist, 1e-6)
			dy = float64(h[1]-ind.Position[1]) / math.Max(dist, 1e-6)
		} else {
			gx, gy := w.gradient(ind.Position, flipbook.ChannelGreen)
			dx = float64(ind.MovementBias[0]) + gx*(1+float64(ind.GreenWeight[0]))
			dy = float64(ind.MovementBias[1]) + gy*(1+float64(ind.GreenWeight[1]))
		}

		w.move(ind, dx, dy, predatorSpeed*dt)

		p.energy[i] -= predatorMetabolism * dt

		if victim, _ := w.nearestHerbivore(ind.Position, catchRadius); victim >= 0 {
			w.kill(&w.herb, uint32(victim))
			p.energy[i] += catchGain
		}

		w.deposit(w.cellIndex(ind.Position), ind.DepositBias, dt)

		if p.energy[i] <= 0 {
			w.kill(p, i)

			continue
		}

		i++
	}
}

// reproduce splits every individual above birthEnergy while budget remains.
func (w *World) reproduce(p *population) {
	budget := uint32(len(p.inds))
	n := p.alive

	for i := uint32(0); i < n && p.alive < budget; i++ {
		if p.energy[i] < birthEnergy {
			continue
		}

		child := p.inds[i]
		angle := (w.rng.Float64()*2 - 1) * mutationAngle
		sin, cos := math.Sincos(angle)
		bx, by := float64(child.MovementBias[0]), float64(child.MovementBias[1])
		child.MovementBias = [2]float32{float32(bx*cos - by*sin), float32(bx*sin + by*cos)}

		p.energy[i] /= 2
		p.inds[p.alive] = child
		p.energy[p.alive] = p.energy[i]
		p.alive++
	}
}

// kill removes individual i by moving the last alive individual into its
// place, keeping alive individuals contiguous.
func (w *World) kill(p *population, i uint32) {
	last := p.alive - 1
	p.inds[i], p.inds[last] = p.inds[last], p.inds[i]
	p.energy[i], p.energy[last] = p.energy[last], p.energy[i]
	p.alive--
}

func (w *World) nearestHerbivore(pos [2]float32, radius float64) (int, float64) {
	best, bestDist := -1, math.Inf(1)

	for j, h := range w.Herbivores() {
		d := math.Hypot(float64(h.Position[0]-pos[0]), float64(h.Position[1]-pos[1]))
		if d <= radius && d < bestDist {
			best, bestDist = j, d
		}
	}

	return best, bestDist
}

// move normalizes (dx, dy), advances ind by step and reflects it off the
// plane borders.
func (w *World) move(ind *dataset.Individual, dx, dy, step float64) {
	mag := math.Hypot(dx, dy)
	if mag < 1e-9 {
		ind.Velocity = [2]float32{}

		return
	}

	vx, vy := dx/mag*step, dy/mag*step
	x := float64(ind.Position[0]) + vx
	y := float64(ind.Position[1]) + vy

	if x < 0 || x > w.cfg.PlaneWidth {
		x = math.Min(math.Max(x, 0), w.cfg.PlaneWidth)
		ind.MovementBias[0] = -ind.MovementBias[0]
	}

	if y < 0 || y > w.cfg.PlaneHeight {
		y = math.Min(math.Max(y, 0), w.cfg.PlaneHeight)
		ind.MovementBias[1] = -ind.MovementBias[1]
	}

	ind.Position = [2]float32{float32(x), float32(y)}
	ind.Velocity = [2]float32{float32(vx), float32(vy)}
}

func (w *World) deposit(cell int, bias [3]float32, dt float64) {
	amount := float32(depositRate * dt)
	w.field[cell+flipbook.ChannelRed] = min(1, w.field[cell+flipbook.ChannelRed]+bias[0]*amount)
	w.field[cell+flipbook.ChannelGreen] = min(1, w.field[cell+flipbook.ChannelGreen]+bias[1]*amount)
	w.field[cell+flipbook.ChannelBlue] = min(1, w.field[cell+flipbook.ChannelBlue]+bias[2]*amount)
}

func (w *World) cellOf(pos [2]float32) (int, int) {
	cx := int(float64(pos[0]) / w.cfg.PlaneWidth * float64(w.cfg.Cols))
	cy := int(float64(pos[1]) / w.cfg.PlaneHeight * float64(w.cfg.Rows))

	return clampInt(cx, 0, int(w.cfg.Cols)-1), clampInt(cy, 0, int(w.cfg.Rows)-1)
}

func (w *World) cellIndex(pos [2]float32) int {
	cx, cy := w.cellOf(pos)

	return w.cellAt(cx, cy)
}

func (w *World) cellAt(cx, cy int) int {
	cx = clampInt(cx, 0, int(w.cfg.Cols)-1)
	cy = clampInt(cy, 0, int(w.cfg.Rows)-1)

	return (cy*int(w.cfg.Cols) + cx) * flipbook.PlaneChannels
}

// gradient returns the central difference of channel around pos.
func (w *World) gradient(pos [2]float32, channel int) (float64, float64) {
	cx, cy := w.cellOf(pos)

	gx := w.field[w.cellAt(cx+1, cy)+channel] - w.field[w.cellAt(cx-1, cy)+channel]
	gy := w.field[w.cellAt(cx, cy+1)+channel] - w.field[w.cellAt(cx, cy-1)+channel]

	return float64(gx), float64(gy)
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Write copies the world into frame: both populations, the field and the
// alive ranges.
func (w *World) Write(frame *flipbook.Frame) error {
	b := frame.Payload()
	if b == nil {
		return flipbook.ErrClosed
	}

	if len(b.Herbivores()) != len(w.herb.inds)*dataset.IndividualSize ||
		len(b.Predators()) != len(w.pred.inds)*dataset.IndividualSize ||
		len(b.Plane()) != len(w.field) {
		return fmt.Errorf("frame shape does not match world: %w", flipbook.ErrInvalidInput)
	}

	dataset.Encode(b.Herbivores(), w.herb.inds)
	dataset.Encode(b.Predators(), w.pred.inds)
	copy(b.Plane(), w.field)

	return frame.SetAliveRanges(w.Alive())
}
