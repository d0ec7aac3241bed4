//go:build unix

package flipbook

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type mmapArena struct {
	regions [][]byte
}

func newMmapArena() (arena, error) {
	return &mmapArena{}, nil
}

func (a *mmapArena) alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("mmap %d bytes: %w", n, ErrInvalidInput)
	}

	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", n, err)
	}

	a.regions = append(a.regions, mem)

	return mem, nil
}

func (a *mmapArena) release() error {
	var errs []error

	for _, mem := range a.regions {
		if err := unix.Munmap(mem); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
	}

	a.regions = nil

	return errors.Join(errs...)
}
