package sivatype

import "errors"

// Sentinel errors for siva operations.
var (
	// ErrInvalidSignature is returned when an index block does not start with
	// the "IBA" marker.
	ErrInvalidSignature = errors.New("siva: invalid index signature")

	// ErrUnsupportedVersion is returned when an index block declares a
	// version other than the supported one.
	ErrUnsupportedVersion = errors.New("siva: unsupported index version")

	// ErrSizeOverflow is returned when a length or offset does not fit the
	// range it must be represented in.
	ErrSizeOverflow = errors.New("siva: size overflow")

	// ErrCRC32Mismatch is returned when an index region does not match the
	// checksum stored in its footer.
	ErrCRC32Mismatch = errors.New("siva: index crc32 mismatch")

	// ErrInvalidBlock is returned when a footer describes a block that does
	// not fit in the file.
	ErrInvalidBlock = errors.New("siva: invalid block")

	// ErrInvalidEntry is returned when an index entry is malformed.
	ErrInvalidEntry = errors.New("siva: invalid index entry")

	// ErrChecksumMismatch is returned when entry content does not match its
	// stored crc32.
	ErrChecksumMismatch = errors.New("siva: content checksum mismatch")
)
