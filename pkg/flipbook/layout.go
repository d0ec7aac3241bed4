package flipbook

import (
	"fmt"
)

// PlaneChannels is the number of float32 channels per field cell
// (red, green, blue pheromone and grass).
const PlaneChannels = 4

// Plane channel offsets within one cell.
const (
	ChannelRed   = 0
	ChannelGreen = 1
	ChannelBlue  = 2
	ChannelGrass = 3
)

// sectionAlign keeps every section of a slot 8-byte aligned so typed views
// over the raw memory stay aligned.
const sectionAlign = 8

// Layout describes the shape of one slot. Every slot of a channel has the
// same layout.
type Layout struct {
	// HerbivoreBudget is the number of herbivore individuals allocated per slot.
	HerbivoreBudget uint32
	// PredatorBudget is the number of predator individuals allocated per slot.
	PredatorBudget uint32
	// IndividualSize is the encoded size of one individual in bytes.
	IndividualSize int

	// PlaneWidth and PlaneHeight are the field grid dimensions in cells.
	PlaneWidth  uint32
	PlaneHeight uint32

	// InitialAlive is written to the back-channel of every slot at creation.
	// Must fit the budgets.
	InitialAlive BackChannel

	// Herbivores and Predators optionally seed every slot's population
	// buffers. When set, their length must match budget * IndividualSize.
	Herbivores []byte
	Predators  []byte
}

// sections holds byte offsets of each payload section inside a slot.
type sections struct {
	herbivores int
	predators  int
	plane      int
	lock       int
	back       int
	total      int
}

func alignUp(n int) int {
	return (n + sectionAlign - 1) &^ (sectionAlign - 1)
}

func (l Layout) herbivoreBytes() int {
	return int(l.HerbivoreBudget) * l.IndividualSize
}

func (l Layout) predatorBytes() int {
	return int(l.PredatorBudget) * l.IndividualSize
}

func (l Layout) cells() int {
	return int(l.PlaneWidth) * int(l.PlaneHeight)
}

func (l Layout) sections() sections {
	var s sections

	off := 0
	s.herbivores = off
	off = alignUp(off + l.herbivoreBytes())
	s.predators = off
	off = alignUp(off + l.predatorBytes())
	s.plane = off
	off = alignUp(off + l.cells()*PlaneChannels*4)
	s.lock = off
	off = alignUp(off + l.cells()*4)
	s.back = off
	off = alignUp(off + BackChannelSize)
	s.total = off

	return s
}

// SlotSize returns the number of bytes one slot occupies.
func (l Layout) SlotSize() int {
	return l.sections().total
}

func (l Layout) validate() error {
	if l.IndividualSize <= 0 {
		return fmt.Errorf("individual size %d: %w", l.IndividualSize, ErrInvalidInput)
	}

	if l.PlaneWidth == 0 || l.PlaneHeight == 0 {
		return fmt.Errorf("plane %dx%d: %w", l.PlaneWidth, l.PlaneHeight, ErrInvalidInput)
	}

	if l.Herbivores != nil && len(l.Herbivores) != l.herbivoreBytes() {
		return fmt.Errorf("herbivore seed is %d bytes, layout needs %d: %w",
			len(l.Herbivores), l.herbivoreBytes(), ErrInvalidInput)
	}

	if l.Predators != nil && len(l.Predators) != l.predatorBytes() {
		return fmt.Errorf("predator seed is %d bytes, layout needs %d: %w",
			len(l.Predators), l.predatorBytes(), ErrInvalidInput)
	}

	return checkBudget(l.InitialAlive, l.HerbivoreBudget, l.PredatorBudget)
}

// checkBudget validates both alive ranges against their group budgets.
func checkBudget(bc BackChannel, herbivoreBudget, predatorBudget uint32) error {
	if err := checkRange("herbivore", bc.Herbivores, herbivoreBudget); err != nil {
		return err
	}

	return checkRange("predator", bc.Predators, predatorBudget)
}

func checkRange(group string, r Range, budget uint32) error {
	if r.Start > r.End {
		return fmt.Errorf("%s range %s: lower bound > upper bound: %w", group, r, ErrInvalidInput)
	}

	if r.End > budget {
		return fmt.Errorf("%s range %s: upper bound > budget %d: %w", group, r, budget, ErrInvalidInput)
	}

	return nil
}
