package flipbook

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultQueueDepth is the number of copies a queue engine buffers before
// Submit blocks.
const DefaultQueueDepth = 4

// CopyEngine moves the full payload of one slot into another.
//
// Submit may return before the copy has happened; the returned [Fence]
// completes once it has. Implementations must execute copies in submission
// order.
type CopyEngine interface {
	Submit(src, dst *Bundle) *Fence
	Close() error
}

// Fence is the completion handle of one submitted copy.
type Fence struct {
	done chan struct{}
}

var doneFence = func() *Fence {
	f := &Fence{done: make(chan struct{})}
	close(f.done)

	return f
}()

// Wait blocks until the copy completed. A nil fence is already complete.
func (f *Fence) Wait() {
	if f == nil {
		return
	}

	<-f.done
}

// Done reports whether the copy completed without blocking.
func (f *Fence) Done() bool {
	if f == nil {
		return true
	}

	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// EngineKind selects the [CopyEngine] a channel creates.
type EngineKind int

const (
	// EngineQueue runs copies on a dedicated goroutine in FIFO order.
	EngineQueue EngineKind = iota
	// EngineImmediate copies in the caller.
	EngineImmediate
)

func (k EngineKind) String() string {
	switch k {
	case EngineQueue:
		return "queue"
	case EngineImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("EngineKind(%d)", int(k))
	}
}

// ParseEngineKind parses "queue" or "immediate".
func ParseEngineKind(s string) (EngineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queue", "":
		return EngineQueue, nil
	case "immediate":
		return EngineImmediate, nil
	default:
		return 0, fmt.Errorf("engine %q (want queue or immediate): %w", s, ErrInvalidInput)
	}
}

// ImmediateEngine copies synchronously inside Submit.
type ImmediateEngine struct{}

// NewImmediateEngine returns an engine that copies in the caller.
func NewImmediateEngine() *ImmediateEngine {
	return &ImmediateEngine{}
}

// Submit copies src into dst and returns a completed fence.
func (*ImmediateEngine) Submit(src, dst *Bundle) *Fence {
	dst.copyFrom(src)

	return doneFence
}

// Close is a no-op.
func (*ImmediateEngine) Close() error { return nil }

type copyJob struct {
	src, dst *Bundle
	fence    *Fence
}

// QueueEngine executes copies on a single goroutine in submission order.
// A copy's effects are visible to anyone who waited on its fence or on the
// fence of any later copy.
type QueueEngine struct {
	mu     sync.Mutex
	closed bool
	jobs   chan copyJob
	exited chan struct{}
}

// NewQueueEngine starts the executor goroutine. depth <= 0 uses
// [DefaultQueueDepth].
func NewQueueEngine(depth int) *QueueEngine {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}

	q := &QueueEngine{
		jobs:   make(chan copyJob, depth),
		exited: make(chan struct{}),
	}

	go q.run()

	return q
}

func (q *QueueEngine) run() {
	defer close(q.exited)

	for job := range q.jobs {
		job.dst.copyFrom(job.src)
		close(job.fence.done)
	}
}

// Submit enqueues a copy of src into dst. Blocks while the queue is full.
//
// Panics if the engine is closed.
func (q *QueueEngine) Submit(src, dst *Bundle) *Fence {
	if src.slot >= SlotCount || dst.slot >= SlotCount {
		panic(fmt.Sprintf("flipbook: illegal copy %d -> %d: slot >= %d", src.slot, dst.slot, SlotCount))
	}

	if len(src.mem) != len(dst.mem) {
		panic(fmt.Sprintf("flipbook: copy %d -> %d: shape mismatch (%d != %d bytes)",
			src.slot, dst.slot, len(src.mem), len(dst.mem)))
	}

	f := &Fence{done: make(chan struct{})}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		panic("flipbook: submit on closed copy engine")
	}

	q.jobs <- copyJob{src: src, dst: dst, fence: f}

	return f
}

// Close drains pending copies and stops the executor. Idempotent.
func (q *QueueEngine) Close() error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		<-q.exited

		return nil
	}

	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	<-q.exited

	return nil
}
