package flipbook

import (
	"fmt"
	"unsafe"
)

// SlotCount is the number of slots in every channel.
const SlotCount = 3

// Bundle is the payload of one slot: population buffers, the field grid and
// the back-channel. A Bundle keeps its slot identity and its memory for the
// whole life of the channel; only its bytes change.
//
// A Bundle must be obtained through a [Frame] or [Snapshot]; the zero value is
// not usable.
type Bundle struct {
	_ [0]func() // prevent external construction

	slot   uint8
	layout Layout
	mem    []byte

	herbivores []byte
	predators  []byte
	plane      []float32
	lock       []uint32
	back       []byte

	binding any
}

func newBundle(slot uint8, layout Layout, mem []byte) *Bundle {
	sec := layout.sections()
	if len(mem) != sec.total {
		panic(fmt.Sprintf("flipbook: slot %d memory is %d bytes, layout needs %d", slot, len(mem), sec.total))
	}

	cells := layout.cells()

	b := &Bundle{
		slot:       slot,
		layout:     layout,
		mem:        mem,
		herbivores: mem[sec.herbivores : sec.herbivores+layout.herbivoreBytes() : sec.herbivores+layout.herbivoreBytes()],
		predators:  mem[sec.predators : sec.predators+layout.predatorBytes() : sec.predators+layout.predatorBytes()],
		back:       mem[sec.back : sec.back+BackChannelSize : sec.back+BackChannelSize],
	}

	// Sections are 8-byte aligned and the arena returns aligned blocks, so
	// typed views are safe.
	b.plane = unsafe.Slice((*float32)(unsafe.Pointer(&mem[sec.plane])), cells*PlaneChannels)
	b.lock = unsafe.Slice((*uint32)(unsafe.Pointer(&mem[sec.lock])), cells)

	return b
}

// Slot returns the fixed slot index of this bundle.
func (b *Bundle) Slot() int { return int(b.slot) }

// Herbivores returns the herbivore population buffer.
func (b *Bundle) Herbivores() []byte { return b.herbivores }

// Predators returns the predator population buffer.
func (b *Bundle) Predators() []byte { return b.predators }

// Plane returns the field grid, row-major, [PlaneChannels] floats per cell.
func (b *Bundle) Plane() []float32 { return b.plane }

// Lock returns the per-cell lock plane used by accelerator backends.
func (b *Bundle) Lock() []uint32 { return b.lock }

// PlaneWidth returns the field grid width in cells.
func (b *Bundle) PlaneWidth() uint32 { return b.layout.PlaneWidth }

// PlaneHeight returns the field grid height in cells.
func (b *Bundle) PlaneHeight() uint32 { return b.layout.PlaneHeight }

// Cell returns the offset of cell (x, y) into [Bundle.Plane].
func (b *Bundle) Cell(x, y uint32) int {
	return (int(y)*int(b.layout.PlaneWidth) + int(x)) * PlaneChannels
}

// IndividualSize returns the encoded size of one individual.
func (b *Bundle) IndividualSize() int { return b.layout.IndividualSize }

// Binding returns the object attached to this slot with [Options.Bind], or nil.
func (b *Bundle) Binding() any { return b.binding }

func (b *Bundle) readBackChannel() (BackChannel, error) {
	return DecodeBackChannel(b.back)
}

func (b *Bundle) writeBackChannel(bc BackChannel) error {
	return EncodeBackChannel(b.back, bc)
}

// copyFrom replaces the whole payload of b with the payload of src.
// Both bundles come from the same layout; anything else is a broken invariant.
func (b *Bundle) copyFrom(src *Bundle) {
	if b.slot >= SlotCount || src.slot >= SlotCount {
		panic(fmt.Sprintf("flipbook: illegal copy %d -> %d: slot >= %d", src.slot, b.slot, SlotCount))
	}

	if len(src.mem) != len(b.mem) {
		panic(fmt.Sprintf("flipbook: slot %d is %d bytes but slot %d is %d bytes",
			src.slot, len(src.mem), b.slot, len(b.mem)))
	}

	copy(b.mem, src.mem)
}

// seed fills a freshly allocated bundle with its initial content.
func (b *Bundle) seed() error {
	if b.layout.Herbivores != nil {
		copy(b.herbivores, b.layout.Herbivores)
	}

	if b.layout.Predators != nil {
		copy(b.predators, b.layout.Predators)
	}

	return b.writeBackChannel(b.layout.InitialAlive)
}
