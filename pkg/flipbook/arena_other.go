//go:build !unix

package flipbook

import "fmt"

func newMmapArena() (arena, error) {
	return nil, fmt.Errorf("mmap arena is only available on unix: %w", ErrInvalidInput)
}
