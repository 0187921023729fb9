// Package batch extracts many entries of a siva file with few reads.
//
// Entries are sorted by absolute offset and runs of adjacent entries are read
// with a single ReadAt. Each entry is checked against its stored CRC32 before
// it is handed to a Sink.
package batch

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/siva/internal/sivatype"
	"github.com/meigma/siva/internal/sizing"
)

const (
	// parallelMinAvgBytes is the minimum average entry size to use parallel processing.
	parallelMinAvgBytes = 64 << 10 // 64KB
)

// Source provides random access to a siva file.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Processor reads entries from a Source and writes them to a Sink.
type Processor struct {
	source           Source
	maxEntrySize     uint64
	verify           bool
	workers          int // 0 = auto, <0 = serial, >0 = fixed count
	readConcurrency  int
	readAheadBytes   uint64
	readAheadEnabled bool
	logger           *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of workers for parallel processing.
// Values < 0 force serial processing. Zero uses automatic heuristics.
// Values > 0 force a specific worker count.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithReadConcurrency sets the number of concurrent range reads.
// Values < 1 force serial reads.
func WithReadConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		p.readConcurrency = max(n, 1)
	}
}

// WithReadAheadBytes caps the total size of buffered group data.
// A value of 0 disables the byte budget.
func WithReadAheadBytes(limit uint64) ProcessorOption {
	return func(p *Processor) {
		p.readAheadBytes = limit
		p.readAheadEnabled = limit > 0
	}
}

// WithVerify controls whether entry content is checked against its CRC32.
// Enabled by default.
func WithVerify(enabled bool) ProcessorOption {
	return func(p *Processor) {
		p.verify = enabled
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a new batch processor.
//
// maxEntrySize limits the size of individual entries (0 for no limit).
func NewProcessor(source Source, maxEntrySize uint64, opts ...ProcessorOption) *Processor {
	p := &Processor{
		source:          source,
		maxEntrySize:    maxEntrySize,
		verify:          true,
		readConcurrency: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process reads entries and writes their content to sink.
//
// Entries are filtered through sink.ShouldProcess, sorted by offset and
// grouped into contiguous ranges. Processing stops on the first error.
func (p *Processor) Process(entries []*Entry, sink Sink) (ProcessStats, error) {
	var stats ProcessStats
	if len(entries) == 0 {
		return stats, nil
	}

	toProcess := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if sink.ShouldProcess(entry) {
			toProcess = append(toProcess, entry)
		} else {
			stats.Skipped++
		}
	}
	if len(toProcess) == 0 {
		return stats, nil
	}

	sourceSize := p.source.Size()
	for _, entry := range toProcess {
		if err := validate(entry, sourceSize, p.maxEntrySize); err != nil {
			return stats, fmt.Errorf("batch: %s: %w", entry.Name, err)
		}
	}

	slices.SortStableFunc(toProcess, func(a, b *Entry) int {
		switch {
		case a.AbsStart() < b.AbsStart():
			return -1
		case a.AbsStart() > b.AbsStart():
			return 1
		default:
			return 0
		}
	})

	groups := groupAdjacentEntries(toProcess)
	p.log().Debug("batch processing", "entries", len(toProcess), "groups", len(groups))

	var processed counter
	var err error
	if len(groups) > 1 && (p.readConcurrency > 1 || p.readAheadEnabled) {
		err = p.processGroupsPipelined(groups, sink, &processed)
	} else {
		err = p.processGroupsSequential(groups, sink, &processed)
	}
	stats.add(processed.stats())
	return stats, err
}

// validate checks that the content of entry lies inside the source.
func validate(entry *Entry, sourceSize int64, maxEntrySize uint64) error {
	if maxEntrySize > 0 && entry.Size > maxEntrySize {
		return fmt.Errorf("%w: entry of %d bytes exceeds limit of %d", sivatype.ErrSizeOverflow, entry.Size, maxEntrySize)
	}
	end, ok := entry.End()
	if !ok || sourceSize < 0 || end > uint64(sourceSize) {
		return fmt.Errorf("%w: content [%d, +%d) outside file of %d bytes",
			sivatype.ErrInvalidEntry, entry.AbsStart(), entry.Size, sourceSize)
	}
	return nil
}

// groupTask represents a pending group read operation for the pipeline.
type groupTask struct {
	index int
	group rangeGroup
	size  int64
}

// groupResult holds the completed read data for a group.
type groupResult struct {
	index int
	group rangeGroup
	data  []byte
	size  int64
}

func (p *Processor) processGroupsSequential(groups []rangeGroup, sink Sink, processed *counter) error {
	for _, group := range groups {
		data, err := p.readGroupData(group)
		if err != nil {
			return err
		}
		if err := p.processGroupWithData(group, data, sink, processed); err != nil {
			return err
		}
	}
	return nil
}

// processGroupsPipelined reads groups ahead of the consumer while keeping
// sink writes in offset order.
//
//nolint:gocognit,gocyclo // producers and consumer share one errgroup
func (p *Processor) processGroupsPipelined(groups []rangeGroup, sink Sink, processed *counter) error {
	readWorkers := max(p.readConcurrency, 1)

	var budget *semaphore.Weighted
	var limit int64
	if p.readAheadEnabled {
		var err error
		limit, err = sizing.ToInt64(p.readAheadBytes, sivatype.ErrSizeOverflow)
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		budget = semaphore.NewWeighted(limit)
	}
	release := func(n int64) {
		if budget != nil {
			budget.Release(n)
		}
	}

	readCh := make(chan groupTask)
	readyCh := make(chan groupResult, readWorkers)
	eg, ctx := errgroup.WithContext(context.Background())

	var readWg sync.WaitGroup
	readWg.Add(readWorkers)

	for range readWorkers {
		eg.Go(func() error {
			defer readWg.Done()
			for task := range readCh {
				if err := ctx.Err(); err != nil {
					return err
				}
				if budget != nil {
					if err := budget.Acquire(ctx, task.size); err != nil {
						return err
					}
				}
				data, err := p.readGroupData(task.group)
				if err != nil {
					release(task.size)
					return err
				}
				select {
				case readyCh <- groupResult{index: task.index, group: task.group, data: data, size: task.size}:
				case <-ctx.Done():
					release(task.size)
					return ctx.Err()
				}
			}
			return nil
		})
	}

	eg.Go(func() error {
		defer close(readCh)
		for i, group := range groups {
			size, err := sizing.ToInt64(group.end-group.start, sivatype.ErrSizeOverflow)
			if err != nil {
				return err
			}
			if budget != nil {
				// A group larger than the whole budget would never be admitted.
				size = min(size, limit)
			}
			select {
			case readCh <- groupTask{index: i, group: group, size: size}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	go func() {
		readWg.Wait()
		close(readyCh)
	}()

	eg.Go(func() error {
		next := 0
		pending := make(map[int]groupResult, readWorkers)
		for next < len(groups) {
			select {
			case res, ok := <-readyCh:
				if !ok {
					if err := ctx.Err(); err != nil {
						return err
					}
					return errors.New("batch: read pipeline ended unexpectedly")
				}
				pending[res.index] = res
				for {
					res, ok := pending[next]
					if !ok {
						break
					}
					delete(pending, next)
					err := p.processGroupWithData(res.group, res.data, sink, processed)
					release(res.size)
					if err != nil {
						return err
					}
					next++
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return eg.Wait()
}

// processGroupWithData processes all entries in a group using pre-fetched data.
func (p *Processor) processGroupWithData(group rangeGroup, data []byte, sink Sink, processed *counter) error {
	if len(group.entries) == 0 {
		return nil
	}
	workers := p.workerCount(group.entries)
	if _, ok := sink.(BufferedSink); ok {
		// Buffered sinks may depend on delivery order.
		workers = 1
	}
	if workers < 2 {
		for _, entry := range group.entries {
			if err := p.processEntry(entry, data, group.start, sink); err != nil {
				return err
			}
			processed.inc(entry.Size)
		}
		return nil
	}
	return p.processEntriesParallel(group.entries, data, group.start, sink, workers, processed)
}

// readGroupData reads the contiguous byte range for a group.
func (p *Processor) readGroupData(group rangeGroup) ([]byte, error) {
	size := group.end - group.start
	sizeInt, err := sizing.ToInt(size, sivatype.ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	data := make([]byte, sizeInt)
	n, err := p.source.ReadAt(data, int64(group.start)) //nolint:gosec // offset fits in int64 after validation
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("batch: %w", err)
	}
	if n != sizeInt {
		return nil, fmt.Errorf("batch: short read (%d of %d bytes)", n, size)
	}
	return data, nil
}

func (p *Processor) processEntriesParallel(entries []*Entry, data []byte, groupStart uint64, sink Sink, workers int, processed *counter) error {
	var stop atomic.Bool
	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	for w := range workers {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for i := start; i < len(entries); i += workers {
				if stop.Load() {
					return
				}
				if err := p.processEntry(entries[i], data, groupStart, sink); err != nil {
					if stop.CompareAndSwap(false, true) {
						errCh <- err
					}
					return
				}
				processed.inc(entries[i].Size)
			}
		}(w)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// processEntry verifies a single entry and writes it to the sink.
func (p *Processor) processEntry(entry *Entry, groupData []byte, groupStart uint64, sink Sink) error {
	localOffset := entry.AbsStart() - groupStart
	localEnd := localOffset + entry.Size
	if localEnd < localOffset || localEnd > uint64(len(groupData)) {
		return fmt.Errorf("batch: %s: %w", entry.Name, sivatype.ErrSizeOverflow)
	}
	content := groupData[localOffset:localEnd]

	if p.verify {
		if actual := crc32.ChecksumIEEE(content); actual != entry.CRC32 {
			return fmt.Errorf("batch: %s: %w: expected %08x, got %08x",
				entry.Name, sivatype.ErrChecksumMismatch, entry.CRC32, actual)
		}
	}

	if bufferedSink, ok := sink.(BufferedSink); ok {
		if err := bufferedSink.PutBuffered(entry, content); err != nil {
			return fmt.Errorf("batch: %s: %w", entry.Name, err)
		}
		return nil
	}

	w, err := sink.Writer(entry)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", entry.Name, err)
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("batch: %s: %w", entry.Name, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("batch: %s: commit: %w", entry.Name, err)
	}
	return nil
}

// workerCount determines the number of workers to use for processing.
func (p *Processor) workerCount(entries []*Entry) int {
	if len(entries) < 2 || p.workers < 0 {
		return 1
	}

	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers < 2 {
			return 1
		}
		// Only parallelize groups of larger entries.
		var total uint64
		for _, entry := range entries {
			next, ok := sizing.AddUint64(total, entry.Size)
			if !ok {
				total = ^uint64(0)
				break
			}
			total = next
		}
		if total/uint64(len(entries)) < parallelMinAvgBytes {
			return 1
		}
	}

	workers = min(workers, len(entries))
	if workers < 2 {
		return 1
	}
	return workers
}

// writeAll writes all data to w, handling partial writes.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
