package batch

import "sync/atomic"

// ProcessStats contains statistics from a batch processing operation.
type ProcessStats struct {
	// Processed is the number of entries successfully written to the sink.
	Processed int

	// Skipped is the number of entries skipped (ShouldProcess returned false).
	Skipped int

	// TotalBytes is the sum of Size for all processed entries.
	TotalBytes uint64
}

// add accumulates stats from another ProcessStats into this one.
func (s *ProcessStats) add(other ProcessStats) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.TotalBytes += other.TotalBytes
}

// counter tallies processed entries from concurrent workers.
type counter struct {
	entries atomic.Int64
	bytes   atomic.Uint64
}

func (c *counter) inc(size uint64) {
	c.entries.Add(1)
	c.bytes.Add(size)
}

func (c *counter) stats() ProcessStats {
	return ProcessStats{
		Processed:  int(c.entries.Load()),
		TotalBytes: c.bytes.Load(),
	}
}
