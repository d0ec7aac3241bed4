package flipbook

import "errors"

// Sentinel errors returned by flipbook operations.
//
// Callers should use [errors.Is] to check error types:
//
//	frame, err := producer.BeginFrame()
//	if errors.Is(err, flipbook.ErrBusy) {
//	    // the previous frame was never closed
//	}
var (
	// ErrBusy indicates a guard of the same kind is still outstanding.
	//
	// Only one [Frame] per [Producer] and one [Snapshot] per [Consumer] may
	// exist at a time. Closing a handle while its guard is alive also
	// returns ErrBusy.
	//
	// This is a programming error.
	ErrBusy = errors.New("flipbook: busy")

	// ErrClosed indicates the [Producer], [Consumer], [Frame] or [Snapshot]
	// has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("flipbook: closed")

	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: alive range upper bound past the group budget, lower
	// bound greater than upper bound, zero-sized layout, short buffers.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("flipbook: invalid input")

	// ErrCorrupt indicates a back-channel decoded to an impossible value.
	//
	// The bytes are only ever written by this package, so the slot content
	// can no longer be trusted. There is no recovery.
	ErrCorrupt = errors.New("flipbook: corrupt")

	// ErrOverflow indicates a value does not fit the packed pointer encoding
	// (slot index above 0xFF or stamp above 56 bits of nanoseconds).
	//
	// Recovery: none within the running channel; the baseline is too old.
	ErrOverflow = errors.New("flipbook: pointer overflow")
)
