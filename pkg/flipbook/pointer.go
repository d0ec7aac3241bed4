package flipbook

import (
	"fmt"
	"time"
)

// Packed pointer layout:
//
//	bits 0..7   slot index
//	bits 8..63  stamp in nanoseconds
//
// Comparing two packed words as unsigned integers orders them by stamp first
// and slot second. Stamps count up from the channel baseline, so a larger
// word is always the newer one; the index keeps the maximum when roles race.
const (
	pointerSlotBits = 8
	pointerSlotMask = 1<<pointerSlotBits - 1

	// MaxPointerSlot is the largest slot index a packed pointer can carry.
	MaxPointerSlot = pointerSlotMask

	// MaxPointerStamp is the largest stamp a packed pointer can carry
	// (about 2.28 years past the channel baseline).
	MaxPointerStamp = time.Duration(0x00FF_FFFF_FFFF_FFFF)
)

// Pointer is the decoded form of one recency index entry: which slot a role
// refers to and when it was last stamped.
//
// Of two packed pointers the one with the larger word is newer. A larger
// stamp wins regardless of slot; equal stamps order by slot.
type Pointer struct {
	Slot  uint8
	Stamp time.Duration
}

// NewPointer validates slot and stamp and returns the pointer.
//
// Returns ErrOverflow if slot is above [MaxPointerSlot] or stamp is negative
// or above [MaxPointerStamp].
func NewPointer(slot int, stamp time.Duration) (Pointer, error) {
	if slot < 0 || slot > MaxPointerSlot {
		return Pointer{}, fmt.Errorf("slot %d: %w", slot, ErrOverflow)
	}

	if stamp < 0 || stamp > MaxPointerStamp {
		return Pointer{}, fmt.Errorf("stamp %s: %w", stamp, ErrOverflow)
	}

	return Pointer{Slot: uint8(slot), Stamp: stamp}, nil
}

// Pack returns the packed word for p.
func (p Pointer) Pack() uint64 {
	return uint64(p.Stamp)<<pointerSlotBits | uint64(p.Slot)
}

// Newer reports whether p sorts after q in packed order.
func (p Pointer) Newer(q Pointer) bool {
	return p.Pack() > q.Pack()
}

func (p Pointer) String() string {
	return fmt.Sprintf("slot=%d stamp=%s", p.Slot, p.Stamp)
}

// UnpackPointer decodes a packed word.
func UnpackPointer(word uint64) Pointer {
	return Pointer{
		Slot:  uint8(word & pointerSlotMask),
		Stamp: time.Duration(word >> pointerSlotBits),
	}
}

// mustPack packs slot and stamp or panics. Used inside the index where an
// overflow means the channel outlived its encoding.
func mustPack(slot uint8, stamp time.Duration) uint64 {
	p, err := NewPointer(int(slot), stamp)
	if err != nil {
		panic(fmt.Sprintf("flipbook: packing recency pointer: %v", err))
	}

	return p.Pack()
}
