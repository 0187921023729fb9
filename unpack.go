package siva

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/meigma/siva/internal/batch"
)

// defaultUnpackReadConcurrency is the number of concurrent range reads used
// by Unpack when UnpackWithReadConcurrency is not set.
const defaultUnpackReadConcurrency = 4

// UnpackOption configures Unpack and UnpackEntries.
type UnpackOption func(*unpackConfig)

type unpackConfig struct {
	overwrite       bool
	preserveMode    bool
	preserveTimes   bool
	verify          bool
	workers         int
	readConcurrency int
	readAheadBytes  uint64
}

// UnpackWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func UnpackWithOverwrite(overwrite bool) UnpackOption {
	return func(c *unpackConfig) {
		c.overwrite = overwrite
	}
}

// UnpackWithPreserveMode applies the nine permission bits stored for each
// entry. By default, files are created with mode 0600.
func UnpackWithPreserveMode(preserve bool) UnpackOption {
	return func(c *unpackConfig) {
		c.preserveMode = preserve
	}
}

// UnpackWithPreserveTimes applies the modification time stored for each entry.
func UnpackWithPreserveTimes(preserve bool) UnpackOption {
	return func(c *unpackConfig) {
		c.preserveTimes = preserve
	}
}

// UnpackWithVerify controls whether content is checked against its CRC32
// before it is written. Enabled by default.
func UnpackWithVerify(verify bool) UnpackOption {
	return func(c *unpackConfig) {
		c.verify = verify
	}
}

// UnpackWithWorkers sets the number of workers writing files.
// Values < 0 force serial processing. Zero uses automatic heuristics.
func UnpackWithWorkers(n int) UnpackOption {
	return func(c *unpackConfig) {
		c.workers = n
	}
}

// UnpackWithReadConcurrency sets the number of concurrent range reads.
// Values < 1 force serial reads.
func UnpackWithReadConcurrency(n int) UnpackOption {
	return func(c *unpackConfig) {
		c.readConcurrency = n
	}
}

// UnpackWithReadAheadBytes caps the bytes read ahead of the writers.
// A value of 0 disables the limit.
func UnpackWithReadAheadBytes(limit uint64) UnpackOption {
	return func(c *unpackConfig) {
		c.readAheadBytes = limit
	}
}

// UnpackStats reports the result of an extraction.
type UnpackStats struct {
	// Written is the number of files written.
	Written int

	// Skipped is the number of entries not written: existing files without
	// UnpackWithOverwrite, deletions, and older records of a name.
	Skipped int

	// Bytes is the total size of the files written.
	Bytes uint64
}

// Unpack extracts every live entry to destDir, creating it if needed.
func (a *Archive) Unpack(destDir string, opts ...UnpackOption) (UnpackStats, error) {
	return a.UnpackEntries(destDir, a.index.entries, opts...)
}

// UnpackEntries extracts entries to destDir, creating it if needed.
//
// Deleted entries are skipped. When entries holds several records of the same
// name, as a complete index does, only the first one is written. Names that
// are not valid fs paths are rejected before anything is written.
func (a *Archive) UnpackEntries(destDir string, entries []*Entry, opts ...UnpackOption) (UnpackStats, error) {
	cfg := unpackConfig{
		verify:          true,
		readConcurrency: defaultUnpackReadConcurrency,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var stats UnpackStats
	seen := make(map[string]struct{}, len(entries))
	selected := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Name]; dup {
			stats.Skipped++
			continue
		}
		seen[e.Name] = struct{}{}
		if e.IsDeleted() {
			stats.Skipped++
			continue
		}
		if !fs.ValidPath(e.Name) || e.Name == "." {
			return stats, &fs.PathError{Op: "unpack", Path: e.Name, Err: fs.ErrInvalid}
		}
		selected = append(selected, e)
	}
	if len(selected) == 0 {
		return stats, nil
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return stats, fmt.Errorf("create destination: %w", err)
	}

	sink := batch.NewFileSink(destDir,
		batch.WithOverwrite(cfg.overwrite),
		batch.WithPreserveMode(cfg.preserveMode),
		batch.WithPreserveTimes(cfg.preserveTimes),
	)
	procOpts := []batch.ProcessorOption{
		batch.WithWorkers(cfg.workers),
		batch.WithReadConcurrency(cfg.readConcurrency),
		batch.WithReadAheadBytes(cfg.readAheadBytes),
		batch.WithVerify(cfg.verify),
	}
	if a.logger != nil {
		procOpts = append(procOpts, batch.WithProcessorLogger(a.logger))
	}
	proc := batch.NewProcessor(a.src, a.maxEntrySize, procOpts...)

	ps, err := proc.Process(selected, sink)
	stats.Written = ps.Processed
	stats.Skipped += ps.Skipped
	stats.Bytes = ps.TotalBytes
	if err != nil {
		return stats, err
	}
	a.log().Debug("unpacked",
		"source", a.src.SourceID(),
		"dest", destDir,
		"written", stats.Written,
		"skipped", stats.Skipped,
		"bytes", stats.Bytes)
	return stats, nil
}
