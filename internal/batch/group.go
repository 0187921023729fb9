package batch

// rangeGroup is a run of entries whose contents are stored back to back.
// All entries in a group are read with a single ReadAt.
type rangeGroup struct {
	start   uint64 // absolute offset of the first byte
	end     uint64 // absolute offset one past the last byte
	entries []*Entry
}

// groupAdjacentEntries groups entries whose contents are adjacent in the file.
//
// Entries must be sorted by AbsStart and non-empty. An entry that starts
// where the previous group ends extends that group; any gap or overlap starts
// a new one.
func groupAdjacentEntries(entries []*Entry) []rangeGroup {
	groups := make([]rangeGroup, 0, len(entries))
	first := entries[0]
	current := rangeGroup{
		start:   first.AbsStart(),
		end:     first.AbsStart() + first.Size,
		entries: []*Entry{first},
	}

	for _, entry := range entries[1:] {
		start := entry.AbsStart()
		if start == current.end {
			current.end = start + entry.Size
			current.entries = append(current.entries, entry)
			continue
		}
		groups = append(groups, current)
		current = rangeGroup{
			start:   start,
			end:     start + entry.Size,
			entries: []*Entry{entry},
		}
	}
	return append(groups, current)
}
