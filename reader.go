package siva

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/meigma/siva/cache"
	"github.com/meigma/siva/internal/format"
	"github.com/meigma/siva/internal/integrity"
	"github.com/meigma/siva/internal/sivatype"
	"github.com/meigma/siva/internal/sizing"
	"github.com/meigma/siva/metrics"
)

// maxDecodeBuffer bounds the read-ahead buffer used while decoding entries.
const maxDecodeBuffer = 64 << 10

// Reader reads the index of a siva file.
//
// Traversals on the same Reader are serialized: concurrent ReadIndex calls
// wait for each other. Reading content through an Archive does not take the
// traversal lock.
type Reader struct {
	src ByteSource
	mu  sync.Mutex

	logger       *slog.Logger
	metrics      *metrics.Collector
	chunkSize    int
	cache        cache.Cache
	verifyOnRead bool
	maxEntrySize uint64
}

// NewReader creates a Reader for the siva file in src.
func NewReader(src ByteSource, opts ...Option) *Reader {
	r := &Reader{
		src:          src,
		chunkSize:    integrity.DefaultChunkSize,
		verifyOnRead: true,
		maxEntrySize: DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.chunkSize <= 0 {
		r.chunkSize = integrity.DefaultChunkSize
	}
	return r
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Reader) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Source returns the byte source the reader was created with.
func (r *Reader) Source() ByteSource {
	return r.src
}

// FilteredIndex reads the index with PolicyFiltered.
func (r *Reader) FilteredIndex() (*Index, error) {
	return r.ReadIndex(PolicyFiltered)
}

// CompleteIndex reads the index with PolicyComplete.
func (r *Reader) CompleteIndex() (*Index, error) {
	return r.ReadIndex(PolicyComplete)
}

// ReadIndex walks every block of the file and reconciles the records with p.
//
// Any failure aborts the walk: no partial index is returned. Failures are
// reported as *ReadError wrapping one of the package sentinel errors or the
// error returned by the source.
func (r *Reader) ReadIndex(p Policy) (*Index, error) {
	return r.ReadIndexContext(context.Background(), p)
}

// ReadIndexContext is like ReadIndex but stops between blocks when ctx is
// canceled.
func (r *Reader) ReadIndexContext(ctx context.Context, p Policy) (*Index, error) {
	b, err := p.newBuilder()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	blocks, err := r.walk(ctx, b)
	elapsed := time.Since(start)
	r.metrics.ObserveTraversal(p.String(), elapsed, err)
	if err != nil {
		r.log().Debug("read index failed",
			"source", r.src.SourceID(),
			"policy", p.String(),
			"error", err)
		return nil, err
	}

	idx := newIndex(p, b.entries())
	r.log().Debug("read index",
		"source", r.src.SourceID(),
		"policy", p.String(),
		"blocks", blocks,
		"entries", idx.Len(),
		"duration", elapsed)
	return idx, nil
}

// walk feeds every record to b, newest block first, and returns the number
// of blocks read.
func (r *Reader) walk(ctx context.Context, b builder) (int, error) {
	size := r.src.Size()
	if size < 0 {
		return 0, r.readErr(0, "size", fmt.Errorf("%w: source size %d", ErrSizeOverflow, size))
	}

	blocks := 0
	for cursor := uint64(size); cursor != 0; blocks++ {
		if err := ctx.Err(); err != nil {
			return blocks, r.readErr(cursor, "block", err)
		}
		start, err := r.readBlock(cursor, b)
		if err != nil {
			return blocks, err
		}
		cursor = start
	}
	return blocks, nil
}

// readBlock decodes the block ending at end and returns its start offset.
//
// Every footer value is checked against end before it is used, so the start
// offset is always at least FooterSize bytes lower than end.
func (r *Reader) readBlock(end uint64, b builder) (uint64, error) {
	if end < format.FooterSize {
		return 0, r.readErr(end, "footer", fmt.Errorf("%w: %d bytes left before block end", ErrInvalidBlock, end))
	}
	footerAt := end - format.FooterSize

	footer, err := format.ReadFooter(io.NewSectionReader(r.src, int64(footerAt), format.FooterSize)) //nolint:gosec // end <= source size
	if err != nil {
		return 0, r.readErr(footerAt, "footer", err)
	}
	if footer.IndexSize > footerAt {
		return 0, r.readErr(footerAt, "footer index size",
			fmt.Errorf("%w: index of %d bytes ends at %d", ErrInvalidBlock, footer.IndexSize, footerAt))
	}
	indexStart := footerAt - footer.IndexSize

	region := io.NewSectionReader(r.src, int64(indexStart), int64(footer.IndexSize)) //nolint:gosec // both fit, checked above
	dec := format.NewDecoder(bufio.NewReaderSize(region, int(min(footer.IndexSize, maxDecodeBuffer))), footer.IndexSize)
	if err := dec.ReadSignature(); err != nil {
		return 0, r.readErr(indexStart, "signature", err)
	}
	if err := dec.ReadVersion(); err != nil {
		return 0, r.readErr(indexStart+3, "version", err)
	}

	if footer.BlockSize < footer.IndexSize+format.FooterSize || footer.BlockSize > end {
		return 0, r.readErr(footerAt, "footer block size",
			fmt.Errorf("%w: block of %d bytes with index of %d ends at %d", ErrInvalidBlock, footer.BlockSize, footer.IndexSize, end))
	}
	if uint64(footer.EntryCount)*format.MinEntrySize > footer.IndexSize-format.HeaderSize {
		return 0, r.readErr(footerAt, "footer entry count",
			fmt.Errorf("%w: %d entries do not fit an index of %d bytes", ErrInvalidBlock, footer.EntryCount, footer.IndexSize))
	}
	blockStart := end - footer.BlockSize

	if err := integrity.Verify(r.src, int64(indexStart), int64(footer.IndexSize), footer.CRC32, r.chunkSize); err != nil { //nolint:gosec // checked above
		if integrity.IsMismatch(err) {
			r.metrics.ObserveIntegrityFailure()
		}
		return 0, r.readErr(indexStart, "index crc32", err)
	}

	for range footer.EntryCount {
		at := indexStart + (footer.IndexSize - dec.Remaining())
		rec, err := dec.ReadEntry()
		if err != nil {
			return 0, r.readErr(at, "entry", err)
		}
		abs, ok := sizing.AddUint64(blockStart, rec.Start)
		if !ok || abs > math.MaxInt64 {
			return 0, r.readErr(at, "offset",
				fmt.Errorf("%w: %s at %d+%d", ErrSizeOverflow, rec.Name, blockStart, rec.Start))
		}
		b.add(newEntry(rec, abs))
	}
	if left := dec.Remaining(); left != 0 {
		return 0, r.readErr(footerAt-left, "index",
			fmt.Errorf("%w: %d bytes after the last of %d entries", ErrInvalidBlock, left, footer.EntryCount))
	}
	b.endBlock()

	r.metrics.ObserveBlock(int(footer.EntryCount))
	r.log().Debug("read block",
		"source", r.src.SourceID(),
		"offset", blockStart,
		"entries", footer.EntryCount,
		"index_size", footer.IndexSize,
		"block_size", footer.BlockSize)
	return blockStart, nil
}

func newEntry(rec format.Entry, abs uint64) *Entry {
	return sivatype.NewIndexEntry(sivatype.Header{
		Name:    rec.Name,
		Mode:    rec.Mode,
		ModTime: time.Unix(0, rec.ModTime),
		Flags:   sivatype.Flag(rec.Flags),
	}, rec.Start, rec.Size, rec.CRC32, abs)
}

// readErr wraps err with the source identity and the position being read.
// The field recorded by the decoder, when present, replaces field.
func (r *Reader) readErr(off uint64, field string, err error) error {
	var fe *format.FieldError
	if errors.As(err, &fe) {
		field, err = fe.Field, fe.Err
	}
	return &ReadError{
		Source: r.src.SourceID(),
		Offset: int64(off), //nolint:gosec // offsets never exceed the source size
		Field:  field,
		Err:    err,
	}
}
