package flipbook

import (
	"sync"

	"go.uber.org/zap"
)

// Producer is the write end of a channel. Use it from one goroutine.
type Producer struct {
	ch *channel

	mu       sync.Mutex
	isClosed bool
	active   *Frame
	pending  *Fence // copy of the last publication, reads the producer slot
	stats    Stats
}

// BeginFrame returns exclusive write access to the producer slot.
//
// Blocks until the copy started by the previous [Frame.Close] finished
// reading the slot. The slot still holds the previous frame's content.
//
// Returns ErrClosed if the producer is closed and ErrBusy if a Frame is
// outstanding.
func (p *Producer) BeginFrame() (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosed {
		return nil, ErrClosed
	}

	if p.active != nil {
		return nil, ErrBusy
	}

	p.pending.Wait()
	p.pending = nil

	f := &Frame{p: p, bundle: p.ch.slots[p.ch.index.producerSlot()]}
	p.active = f

	return f, nil
}

// Stats returns the producer's counters.
func (p *Producer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}

// Close closes the producer end. Idempotent.
//
// Returns ErrBusy if a Frame is outstanding.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosed {
		return nil
	}

	if p.active != nil {
		return ErrBusy
	}

	p.isClosed = true
	p.pending = nil

	return p.ch.release()
}

// Frame is an exclusive write guard over the producer slot. Closing it
// publishes the slot's content.
type Frame struct {
	p        *Producer
	bundle   *Bundle
	isClosed bool
}

// Payload returns the writable slot payload. Returns nil after Close.
func (f *Frame) Payload() *Bundle {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()

	if f.isClosed {
		return nil
	}

	return f.bundle
}

// AliveRanges returns the alive ranges currently stored in the slot.
func (f *Frame) AliveRanges() (BackChannel, error) {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()

	if f.isClosed {
		return BackChannel{}, ErrClosed
	}

	return f.bundle.readBackChannel()
}

// SetAliveRanges stores both alive ranges in the slot's back-channel.
//
// Returns ErrInvalidInput if a lower bound exceeds its upper bound or an
// upper bound exceeds its group budget. The slot is unchanged on error.
func (f *Frame) SetAliveRanges(bc BackChannel) error {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()

	if f.isClosed {
		return ErrClosed
	}

	layout := f.bundle.layout
	if err := checkBudget(bc, layout.HerbivoreBudget, layout.PredatorBudget); err != nil {
		return err
	}

	return f.bundle.writeBackChannel(bc)
}

// SetHerbivores stores the herbivore alive range, keeping the predator range.
func (f *Frame) SetHerbivores(r Range) error {
	return f.setRange(func(bc *BackChannel) { bc.Herbivores = r })
}

// SetPredators stores the predator alive range, keeping the herbivore range.
func (f *Frame) SetPredators(r Range) error {
	return f.setRange(func(bc *BackChannel) { bc.Predators = r })
}

func (f *Frame) setRange(update func(*BackChannel)) error {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()

	if f.isClosed {
		return ErrClosed
	}

	bc, err := f.bundle.readBackChannel()
	if err != nil {
		return err
	}

	update(&bc)

	layout := f.bundle.layout
	if err := checkBudget(bc, layout.HerbivoreBudget, layout.PredatorBudget); err != nil {
		return err
	}

	return f.bundle.writeBackChannel(bc)
}

// Close publishes the frame: the slot content becomes the newest completed
// data and is relayed towards the consumer. Idempotent.
func (f *Frame) Close() error {
	p := f.p

	p.mu.Lock()
	defer p.mu.Unlock()

	if f.isClosed {
		return nil
	}

	stamp, fence := p.ch.index.publish()

	f.isClosed = true
	p.active = nil
	p.pending = fence
	p.stats.FramesPublished++
	p.stats.LastStamp = stamp

	p.ch.observer.FramePublished(stamp)

	if ce := logger().Check(zap.DebugLevel, "frame published"); ce != nil {
		ce.Write(zap.Duration("stamp", stamp), zap.Int("slot", f.bundle.Slot()))
	}

	return nil
}
