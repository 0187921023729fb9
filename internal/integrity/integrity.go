// Package integrity checks the CRC32 of byte ranges read through io.ReaderAt.
package integrity

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/meigma/siva/internal/sivatype"
)

// DefaultChunkSize bounds the buffer used while checksumming a range.
const DefaultChunkSize = 1 << 20

// MismatchError reports a stored checksum that does not match the data.
type MismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: expected %08x, got %08x", sivatype.ErrCRC32Mismatch, e.Expected, e.Actual)
}

// Unwrap returns sivatype.ErrCRC32Mismatch.
func (e *MismatchError) Unwrap() error {
	return sivatype.ErrCRC32Mismatch
}

// Checksum returns the IEEE CRC32 of the n bytes of r starting at off.
//
// The range is read in chunks of at most chunk bytes, so arbitrarily large
// ranges never need a single buffer. The result does not depend on chunk.
func Checksum(r io.ReaderAt, off, n int64, chunk int) (uint32, error) {
	if off < 0 || n < 0 {
		return 0, sivatype.ErrSizeOverflow
	}
	h := crc32.NewIEEE()
	if n == 0 {
		return h.Sum32(), nil
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if int64(chunk) > n {
		chunk = int(n)
	}

	buf := make([]byte, chunk)
	copied, err := io.CopyBuffer(h, io.NewSectionReader(r, off, n), buf)
	if err != nil {
		return 0, err
	}
	if copied != n {
		return 0, io.ErrUnexpectedEOF
	}
	return h.Sum32(), nil
}

// Verify checksums the range like Checksum and compares it to expected.
// A difference is returned as a *MismatchError.
func Verify(r io.ReaderAt, off, n int64, expected uint32, chunk int) error {
	actual, err := Checksum(r, off, n, chunk)
	if err != nil {
		return err
	}
	if actual != expected {
		return &MismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

// IsMismatch reports whether err is a checksum mismatch.
func IsMismatch(err error) bool {
	var me *MismatchError
	return errors.As(err, &me)
}
