package flipbook

import (
	"sync"
	"time"
)

// mutexIndex keeps the role table under one mutex. The critical section is
// O(1): one clock read, one comparison and at most one Submit.
type mutexIndex struct {
	mu     sync.Mutex
	clock  *stampClock
	engine CopyEngine
	slots  *[SlotCount]*Bundle

	producer Pointer
	storage  Pointer
	consumer Pointer

	// publication stamp of the data held by the consumer slot
	consumerData time.Duration
}

func newMutexIndex(clock *stampClock, engine CopyEngine, slots *[SlotCount]*Bundle) *mutexIndex {
	return &mutexIndex{
		clock:    clock,
		engine:   engine,
		slots:    slots,
		producer: Pointer{Slot: producerSlot},
		storage:  Pointer{Slot: storageSlot},
		consumer: Pointer{Slot: consumerSlot},
	}
}

func (x *mutexIndex) producerSlot() uint8 {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.producer.Slot
}

func (x *mutexIndex) publish() (time.Duration, *Fence) {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.clock.now()
	x.producer.Stamp = now
	x.storage.Stamp = now

	return now, x.engine.Submit(x.slots[x.producer.Slot], x.slots[x.storage.Slot])
}

func (x *mutexIndex) acquire() acquisition {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.clock.now()
	storageAge := now - x.storage.Stamp
	consumerAge := now - x.consumer.Stamp

	if storageAge >= consumerAge {
		return acquisition{
			slot:      x.consumer.Slot,
			stamp:     x.consumer.Stamp,
			published: x.consumerData,
		}
	}

	fence := x.engine.Submit(x.slots[x.storage.Slot], x.slots[x.consumer.Slot])
	x.consumer.Stamp = now
	x.consumerData = x.storage.Stamp

	return acquisition{
		slot:      x.consumer.Slot,
		stamp:     now,
		published: x.consumerData,
		promoted:  true,
		fence:     fence,
	}
}
