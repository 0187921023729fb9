package sivatype

import (
	"io/fs"
	"time"

	"github.com/meigma/siva/internal/fileperm"
)

// Flag annotates an index entry. Version 1 of the format only defines
// FlagDeleted; any other value reads as a regular entry.
type Flag uint32

const (
	// FlagNone marks a regular entry.
	FlagNone Flag = 0

	// FlagDeleted marks a tombstone for a name defined in an older block.
	FlagDeleted Flag = 1
)

// String returns the human-readable name of the flag.
func (f Flag) String() string {
	if f == FlagDeleted {
		return "deleted"
	}
	return "none"
}

// Header holds the metadata a siva index keeps for a single file.
type Header struct {
	// Name is the slash-separated path of the entry.
	Name string

	// Mode is the raw 32-bit mode field as stored in the index.
	Mode uint32

	// ModTime is the modification time, nanosecond resolution.
	ModTime time.Time

	// Flags annotates the entry, see FlagDeleted.
	Flags Flag
}

// IsDeleted reports whether the entry is a tombstone.
func (h *Header) IsDeleted() bool {
	return h.Flags == FlagDeleted
}

// Perm returns the nine permission bits of the mode field.
func (h *Header) Perm() fileperm.Set {
	return fileperm.FromMode(h.Mode)
}

// FileMode returns the permission bits as an fs.FileMode.
func (h *Header) FileMode() fs.FileMode {
	return h.Perm().FileMode()
}

// IndexEntry is one record of one index block.
//
// IndexEntry values are built during traversal and never modified afterwards;
// they are safe to share between goroutines.
type IndexEntry struct {
	Header

	// Start is the offset of the content relative to the start of the block
	// that contains it.
	Start uint64

	// Size is the length of the content in bytes.
	Size uint64

	// CRC32 is the IEEE checksum of the content.
	CRC32 uint32

	absStart uint64
}

// NewIndexEntry returns an entry whose content starts at absStart bytes from
// the beginning of the file.
func NewIndexEntry(h Header, start, size uint64, crc uint32, absStart uint64) *IndexEntry {
	return &IndexEntry{
		Header:   h,
		Start:    start,
		Size:     size,
		CRC32:    crc,
		absStart: absStart,
	}
}

// AbsStart returns the offset of the content from the beginning of the file.
// It is computed while walking the block chain and is only meaningful for the
// file the entry was read from.
func (e *IndexEntry) AbsStart() uint64 {
	return e.absStart
}

// End returns the offset one past the last byte of the content and false if
// the sum overflows.
func (e *IndexEntry) End() (uint64, bool) {
	end := e.absStart + e.Size
	if end < e.absStart {
		return 0, false
	}
	return end, true
}
