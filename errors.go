package siva

import (
	"errors"
	"fmt"

	"github.com/meigma/siva/internal/sivatype"
)

// Sentinel errors re-exported from internal/sivatype.
var (
	// ErrInvalidSignature is returned when an index does not start with the
	// expected marker. The file is not a siva file or its footers do not
	// describe the real block boundaries.
	ErrInvalidSignature = sivatype.ErrInvalidSignature

	// ErrUnsupportedVersion is returned for index versions other than 1.
	ErrUnsupportedVersion = sivatype.ErrUnsupportedVersion

	// ErrSizeOverflow is returned when a length or offset does not fit the
	// range it must be represented in.
	ErrSizeOverflow = sivatype.ErrSizeOverflow

	// ErrCRC32Mismatch is returned when an index fails integrity verification.
	ErrCRC32Mismatch = sivatype.ErrCRC32Mismatch

	// ErrInvalidBlock is returned when a footer describes a block that does
	// not fit in the file.
	ErrInvalidBlock = sivatype.ErrInvalidBlock

	// ErrInvalidEntry is returned when an index entry is malformed.
	ErrInvalidEntry = sivatype.ErrInvalidEntry

	// ErrChecksumMismatch is returned when entry content does not match its
	// stored checksum.
	ErrChecksumMismatch = sivatype.ErrChecksumMismatch
)

// Sentinel errors specific to the siva package.
var (
	// ErrUnknownPolicy is returned when ReadIndex is given a Policy that is
	// not PolicyFiltered or PolicyComplete.
	ErrUnknownPolicy = errors.New("siva: unknown index policy")

	// ErrNotFound is returned when a name is not in the index.
	ErrNotFound = errors.New("siva: entry not found")
)

// ReadError describes a failure while reading the index of a siva file.
//
// Source identifies the file, Offset is the absolute position of the record
// being decoded and Field names what was being read. Err is the cause: one
// of the sentinel errors above or the error returned by the ByteSource.
type ReadError struct {
	Source string
	Offset int64
	Field  string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read index of %s at offset %d (%s): %v", e.Source, e.Offset, e.Field, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
