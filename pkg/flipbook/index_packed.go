package flipbook

import (
	"sync/atomic"
	"time"
)

// packedIndex keeps one packed [Pointer] per role in an atomic word. Words
// only ever grow, so a published pointer is never replaced by an older one.
//
// Correctness relies on a copy engine that executes copies in submission
// order: the producer submits producer -> storage before the new storage
// word becomes visible, so any storage -> consumer copy submitted after a
// reader observed that word runs after it.
type packedIndex struct {
	clock  *stampClock
	engine CopyEngine
	slots  *[SlotCount]*Bundle

	producer atomic.Uint64
	storage  atomic.Uint64
	consumer atomic.Uint64
}

func newPackedIndex(clock *stampClock, engine CopyEngine, slots *[SlotCount]*Bundle) *packedIndex {
	x := &packedIndex{clock: clock, engine: engine, slots: slots}
	x.producer.Store(mustPack(producerSlot, 0))
	x.storage.Store(mustPack(storageSlot, 0))
	x.consumer.Store(mustPack(consumerSlot, 0))

	return x
}

// storeMax replaces the word in w with word if word is larger.
func storeMax(w *atomic.Uint64, word uint64) {
	for {
		cur := w.Load()
		if cur >= word {
			return
		}

		if w.CompareAndSwap(cur, word) {
			return
		}
	}
}

func (x *packedIndex) producerSlot() uint8 {
	return UnpackPointer(x.producer.Load()).Slot
}

func (x *packedIndex) publish() (time.Duration, *Fence) {
	now := x.clock.now()
	p := UnpackPointer(x.producer.Load())
	s := UnpackPointer(x.storage.Load())

	fence := x.engine.Submit(x.slots[p.Slot], x.slots[s.Slot])

	storeMax(&x.producer, mustPack(p.Slot, now))
	storeMax(&x.storage, mustPack(s.Slot, now))

	return now, fence
}

func (x *packedIndex) acquire() acquisition {
	storageWord := x.storage.Load()
	consumerWord := x.consumer.Load()

	s := UnpackPointer(storageWord)
	c := UnpackPointer(consumerWord)

	// Equal stamps order by slot, and the storage slot sorts below the
	// consumer slot, so equal stamps never promote.
	if storageWord <= consumerWord {
		return acquisition{slot: c.Slot, stamp: c.Stamp, published: c.Stamp}
	}

	fence := x.engine.Submit(x.slots[s.Slot], x.slots[c.Slot])

	// Stamp with the observed storage stamp, not the current time: a
	// publication racing with this call must still look newer afterwards.
	storeMax(&x.consumer, mustPack(c.Slot, s.Stamp))

	return acquisition{
		slot:      c.Slot,
		stamp:     s.Stamp,
		published: s.Stamp,
		promoted:  true,
		fence:     fence,
	}
}
