//go:build !unix

package mmap

import (
	"io"
	"os"
)

// Mapped reports whether Map returns real memory mappings on this platform.
const Mapped = false

func mapRange(f *os.File, off, n int64) (*Region, error) {
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, err
	}
	return &Region{data: buf}, nil
}
