package flipbook

import (
	"fmt"
)

// ArenaKind selects where slot memory comes from.
type ArenaKind int

const (
	// ArenaHeap allocates slot memory on the Go heap.
	ArenaHeap ArenaKind = iota
	// ArenaMmap maps anonymous pages outside the Go heap. Unix only.
	ArenaMmap
)

func (k ArenaKind) String() string {
	switch k {
	case ArenaHeap:
		return "heap"
	case ArenaMmap:
		return "mmap"
	default:
		return fmt.Sprintf("ArenaKind(%d)", int(k))
	}
}

// ParseArenaKind parses "heap" or "mmap".
func ParseArenaKind(s string) (ArenaKind, error) {
	switch s {
	case "", "heap":
		return ArenaHeap, nil
	case "mmap":
		return ArenaMmap, nil
	default:
		return 0, fmt.Errorf("unknown arena %q: %w", s, ErrInvalidInput)
	}
}

// arena hands out the fixed memory blocks backing each slot. Blocks are
// never moved or resized; release frees all of them at once.
type arena interface {
	alloc(n int) ([]byte, error)
	release() error
}

func newArena(kind ArenaKind) (arena, error) {
	switch kind {
	case ArenaHeap:
		return &heapArena{}, nil
	case ArenaMmap:
		return newMmapArena()
	default:
		return nil, fmt.Errorf("arena %s: %w", kind, ErrInvalidInput)
	}
}

type heapArena struct{}

func (*heapArena) alloc(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func (*heapArena) release() error { return nil }
