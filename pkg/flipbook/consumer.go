package flipbook

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Consumer is the read end of a channel. Use it from one goroutine.
type Consumer struct {
	ch *channel

	mu       sync.Mutex
	isClosed bool
	active   *Snapshot
	stats    Stats
}

// Snapshot returns read access to the freshest completed frame.
//
// If newer data was published since the last Snapshot it is copied into the
// consumer slot first; otherwise the previous data is returned again. Never
// waits for the producer to produce.
//
// Returns ErrClosed if the consumer is closed and ErrBusy if a Snapshot is
// outstanding.
func (c *Consumer) Snapshot() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil, ErrClosed
	}

	if c.active != nil {
		return nil, ErrBusy
	}

	acq := c.ch.index.acquire()
	acq.fence.Wait()

	now := c.ch.clock.now()
	age := now - acq.published

	s := &Snapshot{
		c:         c,
		bundle:    c.ch.slots[acq.slot],
		stamp:     acq.stamp,
		published: acq.published,
		promoted:  acq.promoted,
	}
	c.active = s

	c.stats.SnapshotsTaken++
	if acq.promoted {
		c.stats.Promotions++
	} else {
		c.stats.Reuses++
	}

	c.stats.LastStamp = acq.stamp
	c.stats.LastPublishedAge = age

	c.ch.observer.SnapshotTaken(acq.promoted, age)

	if ce := logger().Check(zap.DebugLevel, "snapshot taken"); ce != nil {
		ce.Write(zap.Bool("promoted", acq.promoted), zap.Duration("age", age))
	}

	return s, nil
}

// Stats returns the consumer's counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Close closes the consumer end. Idempotent.
//
// Returns ErrBusy if a Snapshot is outstanding.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}

	if c.active != nil {
		return ErrBusy
	}

	c.isClosed = true

	return c.ch.release()
}

// Snapshot is an exclusive read guard over the consumer slot.
type Snapshot struct {
	c         *Consumer
	bundle    *Bundle
	stamp     time.Duration
	published time.Duration
	promoted  bool
	isClosed  bool
}

// Payload returns the slot payload. It must not be modified. Returns nil
// after Close.
func (s *Snapshot) Payload() *Bundle {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.isClosed {
		return nil
	}

	return s.bundle
}

// Binding returns the object attached to the consumer slot.
func (s *Snapshot) Binding() any {
	return s.bundle.binding
}

// Stamp returns the consumer role's recency stamp for this snapshot.
//
// Its meaning depends on the index: the mutex index stamps the consumer
// when it promotes, the lock-free index stamps it with the publication it
// copied. It only orders snapshots of one channel. Use
// [Snapshot.Published] to measure data age.
func (s *Snapshot) Stamp() time.Duration { return s.stamp }

// Published returns the stamp at which the snapshot's data was published.
// Zero means the data is the initial content.
func (s *Snapshot) Published() time.Duration { return s.published }

// Timestamp returns [Snapshot.Stamp] as wall-clock time.
func (s *Snapshot) Timestamp() time.Time { return s.c.ch.clock.at(s.stamp) }

// PublishedAt returns [Snapshot.Published] as wall-clock time. For the
// initial content it is the channel's creation time.
func (s *Snapshot) PublishedAt() time.Time { return s.c.ch.clock.at(s.published) }

// Promoted reports whether new data was copied in for this snapshot.
func (s *Snapshot) Promoted() bool { return s.promoted }

// AliveRanges decodes the slot's back-channel.
//
// Returns ErrCorrupt if a stored range has Start > End.
func (s *Snapshot) AliveRanges() (BackChannel, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.isClosed {
		return BackChannel{}, ErrClosed
	}

	return s.bundle.readBackChannel()
}

// Close releases the snapshot. Idempotent.
func (s *Snapshot) Close() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.isClosed {
		return nil
	}

	s.isClosed = true
	s.c.active = nil

	return nil
}
