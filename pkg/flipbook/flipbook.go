package flipbook

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Observer receives channel events. Callbacks run on the goroutine that
// triggered them and must not block.
type Observer interface {
	// FramePublished is called after a Frame was published with stamp.
	FramePublished(stamp time.Duration)

	// SnapshotTaken is called for every acquired Snapshot. age is the time
	// since the snapshot's data was published.
	SnapshotTaken(promoted bool, age time.Duration)
}

type nopObserver struct{}

func (nopObserver) FramePublished(time.Duration)      {}
func (nopObserver) SnapshotTaken(bool, time.Duration) {}

// Options configures a channel created by [New].
type Options struct {
	// Layout is the shape of every slot. Required.
	Layout Layout

	// LockFree selects the packed atomic recency index instead of the
	// mutex index. Requires [EngineQueue].
	LockFree bool

	// Engine selects the copy engine. Default: [EngineQueue].
	Engine EngineKind

	// QueueDepth is the queue engine's buffer size. Default: [DefaultQueueDepth].
	QueueDepth int

	// Arena selects where slot memory comes from. Default: [ArenaHeap].
	Arena ArenaKind

	// Bind is called once per slot after allocation. The returned object is
	// attached to the slot for the life of the channel and available via
	// [Bundle.Binding]. Optional.
	Bind func(slot int, b *Bundle) any

	// Observer receives publish and snapshot events. Optional.
	Observer Observer
}

// Stats holds per-handle counters.
type Stats struct {
	FramesPublished  uint64
	SnapshotsTaken   uint64
	Promotions       uint64
	Reuses           uint64
	LastStamp        time.Duration
	LastPublishedAge time.Duration
}

// channel is the state shared by a Producer and its Consumer.
type channel struct {
	layout   Layout
	slots    [SlotCount]*Bundle
	arena    arena
	engine   CopyEngine
	index    recencyIndex
	clock    *stampClock
	observer Observer
	lockFree bool

	refs atomic.Int32
}

// New creates a channel and returns its two ends. Each end must be closed;
// the last Close stops the copy engine and releases slot memory.
//
// Returns ErrInvalidInput if the layout is invalid or LockFree is combined
// with [EngineImmediate].
func New(opts Options) (*Producer, *Consumer, error) {
	if err := opts.Layout.validate(); err != nil {
		return nil, nil, fmt.Errorf("flipbook: layout: %w", err)
	}

	if opts.LockFree && opts.Engine != EngineQueue {
		return nil, nil, fmt.Errorf("flipbook: lock-free index needs the queue engine, got %s: %w",
			opts.Engine, ErrInvalidInput)
	}

	if opts.QueueDepth < 0 {
		return nil, nil, fmt.Errorf("flipbook: queue depth %d: %w", opts.QueueDepth, ErrInvalidInput)
	}

	ar, err := newArena(opts.Arena)
	if err != nil {
		return nil, nil, fmt.Errorf("flipbook: %w", err)
	}

	ch := &channel{
		layout:   opts.Layout,
		arena:    ar,
		clock:    newStampClock(),
		observer: opts.Observer,
		lockFree: opts.LockFree,
	}

	if ch.observer == nil {
		ch.observer = nopObserver{}
	}

	size := opts.Layout.SlotSize()

	for i := range SlotCount {
		mem, allocErr := ar.alloc(size)
		if allocErr != nil {
			return nil, nil, errors.Join(fmt.Errorf("flipbook: slot %d: %w", i, allocErr), ar.release())
		}

		b := newBundle(uint8(i), opts.Layout, mem)

		seedErr := b.seed()
		if seedErr != nil {
			return nil, nil, errors.Join(fmt.Errorf("flipbook: seed slot %d: %w", i, seedErr), ar.release())
		}

		ch.slots[i] = b
	}

	if opts.Bind != nil {
		for i, b := range ch.slots {
			b.binding = opts.Bind(i, b)
		}
	}

	switch opts.Engine {
	case EngineQueue:
		ch.engine = NewQueueEngine(opts.QueueDepth)
	case EngineImmediate:
		ch.engine = NewImmediateEngine()
	default:
		return nil, nil, errors.Join(fmt.Errorf("flipbook: engine %s: %w", opts.Engine, ErrInvalidInput), ar.release())
	}

	if opts.LockFree {
		ch.index = newPackedIndex(ch.clock, ch.engine, &ch.slots)
	} else {
		ch.index = newMutexIndex(ch.clock, ch.engine, &ch.slots)
	}

	ch.refs.Store(2)

	logger().Debug("flipbook channel created",
		zap.Int("slot_size", size),
		zap.Stringer("engine", opts.Engine),
		zap.Stringer("arena", opts.Arena),
		zap.Bool("lock_free", opts.LockFree),
	)

	return &Producer{ch: ch}, &Consumer{ch: ch}, nil
}

// release drops one reference; the last one tears the channel down.
func (ch *channel) release() error {
	if ch.refs.Add(-1) != 0 {
		return nil
	}

	engineErr := ch.engine.Close()
	arenaErr := ch.arena.release()

	logger().Debug("flipbook channel released")

	return errors.Join(engineErr, arenaErr)
}
