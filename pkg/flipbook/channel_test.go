// Channel behavior tests.
//
// Every test runs against each supported index/engine combination:
//
//  1. mutex index + queue engine (default)
//  2. mutex index + immediate engine
//  3. packed atomic index + queue engine
//
// Oracle: a marker value written into every section of a frame. A snapshot
// whose sections disagree on the marker observed a torn frame.

package flipbook_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/evo/pkg/flipbook"
)

type variant struct {
	name string
	opts func(flipbook.Layout) flipbook.Options
}

func variants() []variant {
	return []variant{
		{"MutexQueue", func(l flipbook.Layout) flipbook.Options {
			return flipbook.Options{Layout: l}
		}},
		{"MutexImmediate", func(l flipbook.Layout) flipbook.Options {
			return flipbook.Options{Layout: l, Engine: flipbook.EngineImmediate}
		}},
		{"PackedQueue", func(l flipbook.Layout) flipbook.Options {
			return flipbook.Options{Layout: l, LockFree: true, QueueDepth: 2}
		}},
	}
}

func testLayout() flipbook.Layout {
	return flipbook.Layout{
		HerbivoreBudget: 4,
		PredatorBudget:  2,
		IndividualSize:  16,
		PlaneWidth:      4,
		PlaneHeight:     3,
		InitialAlive: flipbook.BackChannel{
			Herbivores: flipbook.Range{Start: 0, End: 4},
			Predators:  flipbook.Range{Start: 0, End: 2},
		},
	}
}

func openChannel(t *testing.T, opts flipbook.Options) (*flipbook.Producer, *flipbook.Consumer) {
	t.Helper()

	prod, cons, err := flipbook.New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Cleanup(func() {
		_ = prod.Close()
		_ = cons.Close()
	})

	return prod, cons
}

// writeMarker fills every section of b with marker.
func writeMarker(b *flipbook.Bundle, marker uint32) {
	for i := range b.Herbivores() {
		b.Herbivores()[i] = byte(marker)
	}

	for i := range b.Predators() {
		b.Predators()[i] = byte(marker)
	}

	for i := range b.Plane() {
		b.Plane()[i] = float32(marker)
	}

	for i := range b.Lock() {
		b.Lock()[i] = marker
	}
}

// readMarker returns the marker of b, failing the test if sections disagree.
func readMarker(t *testing.T, b *flipbook.Bundle) uint32 {
	t.Helper()

	marker := b.Lock()[0]

	for i, v := range b.Lock() {
		if v != marker {
			t.Fatalf("torn frame: lock[%d]=%d, lock[0]=%d", i, v, marker)
		}
	}

	for i, v := range b.Plane() {
		if v != float32(marker) {
			t.Fatalf("torn frame: plane[%d]=%v, marker=%d", i, v, marker)
		}
	}

	for i, v := range b.Herbivores() {
		if v != byte(marker) {
			t.Fatalf("torn frame: herbivores[%d]=%d, marker=%d", i, v, marker)
		}
	}

	for i, v := range b.Predators() {
		if v != byte(marker) {
			t.Fatalf("torn frame: predators[%d]=%d, marker=%d", i, v, marker)
		}
	}

	return marker
}

func publish(t *testing.T, prod *flipbook.Producer, marker uint32) {
	t.Helper()

	frame, err := prod.BeginFrame()
	require.NoError(t, err)

	writeMarker(frame.Payload(), marker)
	require.NoError(t, frame.Close())
}

func snapshotMarker(t *testing.T, cons *flipbook.Consumer) (uint32, time.Duration) {
	t.Helper()

	snap, err := cons.Snapshot()
	require.NoError(t, err)

	defer func() { require.NoError(t, snap.Close()) }()

	return readMarker(t, snap.Payload()), snap.Stamp()
}

// =============================================================================
// Concrete scenarios
// =============================================================================

func Test_Snapshot_Observes_Last_Marker_When_Three_Frames_Published_Without_Snapshot(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, cons := openChannel(t, v.opts(testLayout()))

			for marker := uint32(1); marker <= 3; marker++ {
				publish(t, prod, marker)
			}

			got, _ := snapshotMarker(t, cons)
			if got != 3 {
				t.Fatalf("snapshot marker=%d, want 3", got)
			}
		})
	}
}

func Test_AliveRanges_Reach_Snapshot_When_Set_In_Frame(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, cons := openChannel(t, v.opts(testLayout()))

			want := flipbook.BackChannel{
				Herbivores: flipbook.Range{Start: 1, End: 3},
				Predators:  flipbook.Range{Start: 0, End: 1},
			}

			frame, err := prod.BeginFrame()
			require.NoError(t, err)
			require.NoError(t, frame.SetAliveRanges(want))

			got, err := frame.AliveRanges()
			require.NoError(t, err)

			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("frame alive ranges mismatch (-want +got):\n%s", diff)
			}

			require.NoError(t, frame.Close())

			for range 2 {
				snap, err := cons.Snapshot()
				require.NoError(t, err)

				got, err := snap.AliveRanges()
				require.NoError(t, err)

				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("snapshot alive ranges mismatch (-want +got):\n%s", diff)
				}

				require.NoError(t, snap.Close())
			}
		})
	}
}

func Test_SetAliveRanges_Validates_Bounds_Against_Budget(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, _ := openChannel(t, v.opts(testLayout()))

			frame, err := prod.BeginFrame()
			require.NoError(t, err)

			defer frame.Close()

			before, err := frame.AliveRanges()
			require.NoError(t, err)

			err = frame.SetAliveRanges(flipbook.BackChannel{
				Herbivores: flipbook.Range{Start: 0, End: 5},
			})
			require.ErrorIs(t, err, flipbook.ErrInvalidInput, "upper bound one past budget")

			err = frame.SetAliveRanges(flipbook.BackChannel{
				Predators: flipbook.Range{Start: 2, End: 1},
			})
			require.ErrorIs(t, err, flipbook.ErrInvalidInput, "lower bound > upper bound")

			require.ErrorIs(t, frame.SetHerbivores(flipbook.Range{Start: 3, End: 2}), flipbook.ErrInvalidInput)
			require.ErrorIs(t, frame.SetPredators(flipbook.Range{Start: 0, End: 3}), flipbook.ErrInvalidInput)

			after, err := frame.AliveRanges()
			require.NoError(t, err)
			require.Equal(t, before, after, "failed set must not change the slot")

			full := flipbook.BackChannel{
				Herbivores: flipbook.Range{Start: 0, End: 4},
				Predators:  flipbook.Range{Start: 0, End: 2},
			}
			require.NoError(t, frame.SetAliveRanges(full))

			require.NoError(t, frame.SetHerbivores(flipbook.Range{Start: 2, End: 2}))

			got, err := frame.AliveRanges()
			require.NoError(t, err)
			require.Equal(t, flipbook.Range{Start: 2, End: 2}, got.Herbivores)
			require.Equal(t, full.Predators, got.Predators)
		})
	}
}

// =============================================================================
// Freshness properties
// =============================================================================

func Test_Snapshot_Is_Idempotent_When_No_Frame_Completed_In_Between(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, cons := openChannel(t, v.opts(testLayout()))

			publish(t, prod, 9)

			first, err := cons.Snapshot()
			require.NoError(t, err)
			require.True(t, first.Promoted())

			firstStamp := first.Stamp()
			firstSlot := first.Payload().Slot()
			firstMarker := readMarker(t, first.Payload())
			require.NoError(t, first.Close())

			// An open but unpublished frame must not change anything.
			frame, err := prod.BeginFrame()
			require.NoError(t, err)
			writeMarker(frame.Payload(), 10)

			second, err := cons.Snapshot()
			require.NoError(t, err)
			require.False(t, second.Promoted())
			require.Equal(t, firstStamp, second.Stamp())
			require.Equal(t, firstSlot, second.Payload().Slot())
			require.Equal(t, firstMarker, readMarker(t, second.Payload()))
			require.NoError(t, second.Close())
			require.NoError(t, frame.Close())

			stats := cons.Stats()
			require.Equal(t, uint64(2), stats.SnapshotsTaken)
			require.Equal(t, uint64(1), stats.Promotions)
			require.Equal(t, uint64(1), stats.Reuses)
		})
	}
}

func Test_Snapshot_Sees_Completed_Frame_When_Taken_After_It(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, cons := openChannel(t, v.opts(testLayout()))

			var prevStamp time.Duration

			for marker := uint32(1); marker <= 20; marker++ {
				publish(t, prod, marker)
				published := prod.Stats().LastStamp

				got, stamp := snapshotMarker(t, cons)
				if got != marker {
					t.Fatalf("snapshot marker=%d, want %d", got, marker)
				}

				if stamp < published {
					t.Fatalf("snapshot stamp %s older than publication %s", stamp, published)
				}

				if stamp < prevStamp {
					t.Fatalf("snapshot stamp went backwards: %s < %s", stamp, prevStamp)
				}

				prevStamp = stamp
			}

			require.Equal(t, uint64(20), prod.Stats().FramesPublished)
		})
	}
}

func Test_Snapshot_Returns_Initial_Content_When_Nothing_Published(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			l := testLayout()
			l.Herbivores = make([]byte, int(l.HerbivoreBudget)*l.IndividualSize)
			l.Herbivores[0] = 0xAB

			_, cons := openChannel(t, v.opts(l))

			snap, err := cons.Snapshot()
			require.NoError(t, err)

			defer snap.Close()

			require.False(t, snap.Promoted())
			require.Equal(t, byte(0xAB), snap.Payload().Herbivores()[0])
			require.Equal(t, time.Duration(0), snap.Published())

			bc, err := snap.AliveRanges()
			require.NoError(t, err)
			require.Equal(t, l.InitialAlive, bc)
		})
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func Test_Snapshots_Never_Tear_When_Producer_And_Consumer_Run_Concurrently(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			l := testLayout()
			l.PlaneWidth, l.PlaneHeight = 64, 64

			prod, cons := openChannel(t, v.opts(l))

			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)

			var wg sync.WaitGroup

			defer func() {
				cancel()
				wg.Wait()
			}()

			wg.Add(1)

			go func() {
				defer wg.Done()

				for marker := uint32(1); ctx.Err() == nil; marker++ {
					frame, err := prod.BeginFrame()
					if err != nil {
						t.Errorf("BeginFrame failed: %v", err)

						return
					}

					writeMarker(frame.Payload(), marker)

					if err := frame.Close(); err != nil {
						t.Errorf("Frame.Close failed: %v", err)

						return
					}
				}
			}()

			var (
				lastMarker uint32
				lastStamp  time.Duration
			)

			for ctx.Err() == nil {
				snap, err := cons.Snapshot()
				require.NoError(t, err)

				marker := readMarker(t, snap.Payload())
				stamp := snap.Stamp()
				promoted := snap.Promoted()
				require.NoError(t, snap.Close())

				if stamp < lastStamp {
					t.Fatalf("stamp went backwards: %s < %s", stamp, lastStamp)
				}

				if !promoted && marker != lastMarker {
					t.Fatalf("reused snapshot changed marker %d -> %d", lastMarker, marker)
				}

				if marker < lastMarker {
					t.Fatalf("marker went backwards: %d < %d", marker, lastMarker)
				}

				lastMarker, lastStamp = marker, stamp
			}
		})
	}
}

// =============================================================================
// Guards and lifecycle
// =============================================================================

func Test_BeginFrame_Returns_ErrBusy_When_Frame_Outstanding(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, cons := openChannel(t, v.opts(testLayout()))

			frame, err := prod.BeginFrame()
			require.NoError(t, err)

			_, err = prod.BeginFrame()
			require.ErrorIs(t, err, flipbook.ErrBusy)
			require.ErrorIs(t, prod.Close(), flipbook.ErrBusy)

			snap, err := cons.Snapshot()
			require.NoError(t, err)

			_, err = cons.Snapshot()
			require.ErrorIs(t, err, flipbook.ErrBusy)
			require.ErrorIs(t, cons.Close(), flipbook.ErrBusy)

			require.NoError(t, frame.Close())
			require.NoError(t, snap.Close())

			_, err = prod.BeginFrame()
			require.NoError(t, err, "a new frame is allowed once the previous one closed")
		})
	}
}

func Test_Guards_Return_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, cons := openChannel(t, v.opts(testLayout()))

			frame, err := prod.BeginFrame()
			require.NoError(t, err)
			require.NoError(t, frame.Close())
			require.NoError(t, frame.Close(), "Frame.Close is idempotent")
			require.Equal(t, uint64(1), prod.Stats().FramesPublished, "second Close must not publish")

			require.Nil(t, frame.Payload())
			require.ErrorIs(t, frame.SetAliveRanges(flipbook.BackChannel{}), flipbook.ErrClosed)
			_, err = frame.AliveRanges()
			require.ErrorIs(t, err, flipbook.ErrClosed)

			snap, err := cons.Snapshot()
			require.NoError(t, err)
			require.NoError(t, snap.Close())
			require.NoError(t, snap.Close())
			require.Nil(t, snap.Payload())
			_, err = snap.AliveRanges()
			require.ErrorIs(t, err, flipbook.ErrClosed)

			require.NoError(t, prod.Close())
			require.NoError(t, prod.Close())
			require.NoError(t, cons.Close())

			_, err = prod.BeginFrame()
			require.ErrorIs(t, err, flipbook.ErrClosed)

			_, err = cons.Snapshot()
			require.ErrorIs(t, err, flipbook.ErrClosed)
		})
	}
}

func Test_Consumer_Keeps_Working_When_Producer_Closed_First(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, cons := openChannel(t, v.opts(testLayout()))

			publish(t, prod, 5)
			require.NoError(t, prod.Close())

			got, _ := snapshotMarker(t, cons)
			require.Equal(t, uint32(5), got)
		})
	}
}

// =============================================================================
// Construction
// =============================================================================

func Test_New_Returns_ErrInvalidInput_When_Options_Are_Bad(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*flipbook.Options){
		"zero individual size": func(o *flipbook.Options) { o.Layout.IndividualSize = 0 },
		"zero plane":           func(o *flipbook.Options) { o.Layout.PlaneWidth = 0 },
		"alive past budget": func(o *flipbook.Options) {
			o.Layout.InitialAlive.Herbivores = flipbook.Range{Start: 0, End: 5}
		},
		"short seed":           func(o *flipbook.Options) { o.Layout.Predators = []byte{1} },
		"negative queue depth": func(o *flipbook.Options) { o.QueueDepth = -1 },
		"unknown engine":       func(o *flipbook.Options) { o.Engine = flipbook.EngineKind(9) },
		"unknown arena":        func(o *flipbook.Options) { o.Arena = flipbook.ArenaKind(9) },
		"lock-free immediate": func(o *flipbook.Options) {
			o.LockFree = true
			o.Engine = flipbook.EngineImmediate
		},
	}

	for name, mutate := range cases {
		opts := flipbook.Options{Layout: testLayout()}
		mutate(&opts)

		_, _, err := flipbook.New(opts)
		require.ErrorIs(t, err, flipbook.ErrInvalidInput, name)
	}
}

func Test_Bind_Attaches_Object_To_Fixed_Slot(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			type handle struct{ slot int }

			var bound []int

			opts := v.opts(testLayout())
			opts.Bind = func(slot int, b *flipbook.Bundle) any {
				require.Equal(t, slot, b.Slot())
				bound = append(bound, slot)

				return &handle{slot: slot}
			}

			prod, cons := openChannel(t, opts)
			require.Equal(t, []int{0, 1, 2}, bound)

			for marker := uint32(1); marker <= 3; marker++ {
				frame, err := prod.BeginFrame()
				require.NoError(t, err)
				require.Equal(t, 0, frame.Payload().Binding().(*handle).slot)
				writeMarker(frame.Payload(), marker)
				require.NoError(t, frame.Close())

				snap, err := cons.Snapshot()
				require.NoError(t, err)
				require.Equal(t, 2, snap.Binding().(*handle).slot, "consumer binding must never move")
				require.Equal(t, marker, readMarker(t, snap.Payload()))
				require.NoError(t, snap.Close())
			}
		})
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	published []time.Duration
	promoted  []bool
}

func (o *recordingObserver) FramePublished(stamp time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.published = append(o.published, stamp)
}

func (o *recordingObserver) SnapshotTaken(promoted bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.promoted = append(o.promoted, promoted)
}

func Test_Observer_Receives_Publish_And_Snapshot_Events(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	opts := flipbook.Options{Layout: testLayout(), Observer: obs}

	prod, cons := openChannel(t, opts)

	publish(t, prod, 1)
	publish(t, prod, 2)
	snapshotMarker(t, cons)
	snapshotMarker(t, cons)

	obs.mu.Lock()
	defer obs.mu.Unlock()

	require.Len(t, obs.published, 2)
	require.Less(t, obs.published[0], obs.published[1])
	require.Equal(t, []bool{true, false}, obs.promoted)
}

func Test_Snapshot_Published_Tracks_Publication_When_Snapshot_Reused(t *testing.T) {
	t.Parallel()

	for _, v := range variants() {
		t.Run(v.name, func(t *testing.T) {
			t.Parallel()

			prod, cons := openChannel(t, v.opts(testLayout()))

			publish(t, prod, 7)
			published := prod.Stats().LastStamp

			time.Sleep(5 * time.Millisecond)

			for range 2 {
				snap, err := cons.Snapshot()
				require.NoError(t, err)

				require.Equal(t, published, snap.Published())
				require.False(t, snap.PublishedAt().After(snap.Timestamp()))
				require.GreaterOrEqual(t, time.Since(snap.PublishedAt()), 5*time.Millisecond)
				require.NoError(t, snap.Close())
			}
		})
	}
}
