package flipbook

import (
	"encoding/binary"
	"fmt"
)

// BackChannelSize is the encoded size of a [BackChannel] in bytes.
const BackChannelSize = 16

// Back-channel field offsets (bytes from the start of the record).
const (
	offHerbivoreStart = 0x0 // uint32
	offHerbivoreEnd   = 0x4 // uint32
	offPredatorStart  = 0x8 // uint32
	offPredatorEnd    = 0xC // uint32
)

// Range is a half-open interval [Start, End) of individual indices.
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of individuals in the range, or 0 if the range is
// inverted.
func (r Range) Len() uint32 {
	if r.End < r.Start {
		return 0
	}

	return r.End - r.Start
}

// Valid reports whether Start <= End.
func (r Range) Valid() bool {
	return r.Start <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// BackChannel is the small out-of-band record that travels with every slot:
// which individuals of each group are currently alive.
type BackChannel struct {
	Herbivores Range
	Predators  Range
}

// EncodeBackChannel writes bc into dst using the fixed little-endian layout.
//
// Returns ErrInvalidInput if dst is shorter than [BackChannelSize] or if
// either range has Start > End.
func EncodeBackChannel(dst []byte, bc BackChannel) error {
	if len(dst) < BackChannelSize {
		return fmt.Errorf("back-channel buffer is %d bytes, need %d: %w", len(dst), BackChannelSize, ErrInvalidInput)
	}

	if !bc.Herbivores.Valid() {
		return fmt.Errorf("herbivore range %s: lower bound > upper bound: %w", bc.Herbivores, ErrInvalidInput)
	}

	if !bc.Predators.Valid() {
		return fmt.Errorf("predator range %s: lower bound > upper bound: %w", bc.Predators, ErrInvalidInput)
	}

	binary.LittleEndian.PutUint32(dst[offHerbivoreStart:], bc.Herbivores.Start)
	binary.LittleEndian.PutUint32(dst[offHerbivoreEnd:], bc.Herbivores.End)
	binary.LittleEndian.PutUint32(dst[offPredatorStart:], bc.Predators.Start)
	binary.LittleEndian.PutUint32(dst[offPredatorEnd:], bc.Predators.End)

	return nil
}

// DecodeBackChannel reads a [BackChannel] from src.
//
// Returns ErrInvalidInput if src is too short and ErrCorrupt if a decoded
// range has Start > End.
func DecodeBackChannel(src []byte) (BackChannel, error) {
	if len(src) < BackChannelSize {
		return BackChannel{}, fmt.Errorf("back-channel buffer is %d bytes, need %d: %w", len(src), BackChannelSize, ErrInvalidInput)
	}

	bc := BackChannel{
		Herbivores: Range{
			Start: binary.LittleEndian.Uint32(src[offHerbivoreStart:]),
			End:   binary.LittleEndian.Uint32(src[offHerbivoreEnd:]),
		},
		Predators: Range{
			Start: binary.LittleEndian.Uint32(src[offPredatorStart:]),
			End:   binary.LittleEndian.Uint32(src[offPredatorEnd:]),
		},
	}

	if !bc.Herbivores.Valid() {
		return BackChannel{}, fmt.Errorf("herbivore range %s: %w", bc.Herbivores, ErrCorrupt)
	}

	if !bc.Predators.Valid() {
		return BackChannel{}, fmt.Errorf("predator range %s: %w", bc.Predators, ErrCorrupt)
	}

	return bc, nil
}
