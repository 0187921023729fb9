//go:build unix

package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/meigma/siva/internal/sizing"
)

// Mapped reports whether Map returns real memory mappings on this platform.
const Mapped = true

func mapRange(f *os.File, off, n int64) (*Region, error) {
	page := int64(unix.Getpagesize())
	aligned := off - off%page
	delta := off - aligned

	length, err := sizing.ToInt(uint64(delta+n), ErrOutOfRange) //nolint:gosec // delta and n are non-negative
	if err != nil {
		return nil, err
	}

	mapping, err := unix.Mmap(int(f.Fd()), aligned, length, unix.PROT_READ, unix.MAP_SHARED) //nolint:gosec // fd fits int
	if err != nil {
		return nil, fmt.Errorf("memory-mapping %s: %w", f.Name(), err)
	}

	return &Region{
		mapping: mapping,
		data:    mapping[delta:],
		release: unix.Munmap,
	}, nil
}
