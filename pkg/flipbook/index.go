package flipbook

import "time"

// Fixed role assignment. Slot identity never moves; promotion copies payload.
const (
	producerSlot uint8 = 0
	storageSlot  uint8 = 1
	consumerSlot uint8 = 2
)

// acquisition is the result of one freshness decision on the consumer side.
type acquisition struct {
	slot      uint8
	stamp     time.Duration // consumer role stamp after the decision
	published time.Duration // publication stamp of the data the consumer now holds
	promoted  bool
	fence     *Fence
}

// recencyIndex tracks which slot holds the freshest completed data and
// drives the copies that relay it from producer to consumer.
type recencyIndex interface {
	// producerSlot returns the slot the producer writes into. Stamps are
	// not touched.
	producerSlot() uint8

	// publish stamps the producer and storage roles and submits the
	// producer -> storage copy.
	publish() (time.Duration, *Fence)

	// acquire promotes storage into the consumer slot if storage holds
	// newer data.
	acquire() acquisition
}
