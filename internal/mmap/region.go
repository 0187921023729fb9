// Package mmap maps byte ranges of files into memory for reading.
//
// On unix systems a Region is backed by a read-only shared mapping of the
// pages covering the range. Elsewhere it falls back to a buffered read, so
// callers can use the same API on every platform.
package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
)

// ErrOutOfRange is returned when a range does not fit the file.
var ErrOutOfRange = errors.New("mmap: range outside file")

// Region is a read-only view of a byte range of a file.
//
// The bytes returned by Bytes are valid until Close. Close is idempotent.
type Region struct {
	mapping []byte
	data    []byte
	release func([]byte) error
}

// Map returns a Region covering [off, off+n) of f.
func Map(f *os.File, off, n int64) (*Region, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", ErrOutOfRange, off, n)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if off > info.Size() || n > info.Size()-off {
		return nil, fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfRange, off, off+n, info.Size())
	}
	if n == 0 {
		return &Region{}, nil
	}
	return mapRange(f, off, n)
}

// Bytes returns the mapped range.
func (r *Region) Bytes() []byte {
	return r.data
}

// Len returns the length of the mapped range.
func (r *Region) Len() int {
	return len(r.data)
}

// ReadAt implements io.ReaderAt over the mapped range.
//
// A read that touches a page the kernel cannot supply (the file shrank, or
// the storage failed) returns an error instead of crashing the process.
func (r *Region) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}

	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if recovered := recover(); recovered != nil {
			n = 0
			err = fmt.Errorf("mmap: fault reading mapped file: %v", recovered)
		}
	}()

	n = copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the mapping.
func (r *Region) Close() error {
	if r.release == nil {
		return nil
	}
	release, mapping := r.release, r.mapping
	r.release, r.mapping, r.data = nil, nil, nil
	return release(mapping)
}
