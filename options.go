package siva

import (
	"log/slog"

	"github.com/meigma/siva/cache"
	"github.com/meigma/siva/metrics"
)

// DefaultMaxEntrySize is the default limit for ReadEntry and ReadFile (256 MiB).
const DefaultMaxEntrySize = 256 << 20

// Option configures a Reader or an Archive.
type Option func(*Reader)

// WithLogger sets the logger for index traversal and content reads.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithMetrics records traversals and content reads in m.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Reader) {
		r.metrics = m
	}
}

// WithChecksumChunkSize sets the size of the reads used while checksumming
// index and content ranges. Values <= 0 select the default of 1 MiB.
func WithChecksumChunkSize(n int) Option {
	return func(r *Reader) {
		r.chunkSize = n
	}
}

// WithCache configures an Archive to cache entry content.
//
// Only content that matched its CRC32 is stored, even when WithVerifyOnRead
// is disabled. With verification enabled, hits are checked again and dropped
// from the cache if they no longer match.
func WithCache(c cache.Cache) Option {
	return func(r *Reader) {
		r.cache = c
	}
}

// WithVerifyOnRead controls whether ReadEntry and ReadFile check the CRC32 of
// the content they return. Enabled by default.
func WithVerifyOnRead(enabled bool) Option {
	return func(r *Reader) {
		r.verifyOnRead = enabled
	}
}

// WithMaxEntrySize limits the size of entries read into memory.
// Set limit to 0 to disable the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(r *Reader) {
		r.maxEntrySize = limit
	}
}
