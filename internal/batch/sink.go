package batch

import (
	"io"

	"github.com/meigma/siva/internal/sivatype"
)

// Entry is an alias for sivatype.IndexEntry.
type Entry = sivatype.IndexEntry

// Sink receives verified entry content during batch processing.
//
// Implementations determine where content is written and can filter which
// entries to process.
type Sink interface {
	// ShouldProcess returns false if this entry should be skipped.
	ShouldProcess(entry *Entry) bool

	// Writer returns a writer for the entry's content. The processor calls
	// Commit after the content was written, or Discard on any error.
	Writer(entry *Entry) (Committer, error)
}

// BufferedSink receives the whole content of an entry at once.
//
// Entries are delivered one at a time in offset order. Implementations must
// not retain or mutate the content slice.
type BufferedSink interface {
	PutBuffered(entry *Entry, content []byte) error
}

// Committer is a writer that can be committed or discarded.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
