// Package cache provides content caches for siva archives.
//
// This package is an optional enhancement to the siva library. An Archive
// configured with a cache keeps the content of entries it has read, so
// repeated reads of the same entry skip the file and the CRC check.
//
// Keys identify a byte range of a specific source together with the checksum
// stored for it, see Key. Values are the verified entry content.
package cache

import (
	"strconv"
	"strings"
)

// Cache stores verified entry content.
//
// Implementations handle their own size limits and eviction policies and
// must be safe for concurrent use.
type Cache interface {
	// Get retrieves content by key.
	// Returns nil, false if the content is not cached.
	Get(key string) ([]byte, bool)

	// Put stores content under key.
	Put(key string, content []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Key builds the cache key of an entry's content.
//
// The source identity, absolute offset, size and stored CRC32 together pin the
// exact bytes: a later block that redefines a name yields a different key.
func Key(sourceID string, off, size uint64, crc uint32) string {
	var b strings.Builder
	b.Grow(len(sourceID) + 40)
	b.WriteString(sourceID)
	b.WriteByte('@')
	b.WriteString(strconv.FormatUint(off, 10))
	b.WriteByte('+')
	b.WriteString(strconv.FormatUint(size, 10))
	b.WriteByte('#')
	b.WriteString(strconv.FormatUint(uint64(crc), 16))
	return b.String()
}
