// Package flipbook implements a recency-tracked triple buffer: one producer
// publishes complete frames at its own pace, one consumer reads the freshest
// completed frame at its own pace, and neither ever blocks on the other's
// work or sees a partially written frame.
//
// # Slots and roles
//
// A channel owns exactly three slots. Each slot holds one full [Bundle]
// (population buffers, field grid, lock plane, back-channel) and keeps its
// identity and memory for the life of the channel. Roles are fixed: slot 0
// is written by the producer, slot 1 relays the newest publication and
// slot 2 is read by the consumer. Data moves between them by copying the
// whole payload through a [CopyEngine]; slots are never swapped.
//
// # Basic usage
//
//	prod, cons, err := flipbook.New(flipbook.Options{Layout: layout})
//	if err != nil {
//	    return err
//	}
//
//	// producer goroutine
//	frame, err := prod.BeginFrame()
//	if err != nil {
//	    return err
//	}
//	fill(frame.Payload())
//	frame.Close() // publish
//
//	// consumer goroutine
//	snap, err := cons.Snapshot()
//	if err != nil {
//	    return err
//	}
//	draw(snap.Payload())
//	snap.Close()
//
// # Recency index
//
// A small index records, per role, the slot and a stamp. Publishing stamps
// the producer and relay with a fresh stamp and copies producer -> relay.
// Taking a snapshot copies relay -> consumer only if the relay is newer than
// the consumer. Stamps come from a per-channel clock that never returns the
// same value twice.
//
// The default index guards the table with a mutex. Options.LockFree selects
// an index made of packed atomic words (see [Pointer]) updated with a
// keep-the-larger CAS loop; it requires the queued copy engine so that copies
// execute in the order they were submitted.
//
// # Errors
//
// Contract violations a caller can express through the API (a second
// outstanding guard, use after close, bad alive ranges) return the sentinel
// errors in errors.go. Broken internal invariants panic.
package flipbook
