package disk

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// tempPrefix names the files Put writes before renaming them into place.
const tempPrefix = "cache-"

// PruneStats reports what Prune removed.
type PruneStats struct {
	// Removed is the number of entries deleted.
	Removed int

	// Freed is the number of bytes deleted.
	Freed int64

	// Remaining is the number of bytes left in the cache.
	Remaining int64
}

// storedFile is one cache entry on disk. used is its modification time,
// which Get refreshes on every hit.
type storedFile struct {
	path string
	size int64
	used time.Time
}

// scan lists the entries below the cache directory and their total size.
// Unfinished writes and files removed while walking are ignored.
func (c *Cache) scan() ([]storedFile, int64, error) {
	var (
		files []storedFile
		total int64
	)
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case err != nil:
			return err
		case !d.Type().IsRegular(), strings.HasPrefix(d.Name(), tempPrefix):
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		files = append(files, storedFile{path: path, size: info.Size(), used: info.ModTime()})
		total += info.Size()
		return nil
	})
	return files, total, err
}

// Size returns the total bytes of the entries stored in the cache.
func (c *Cache) Size() (int64, error) {
	_, total, err := c.scan()
	return total, err
}

// Prune removes the least recently used entries until at most maxBytes
// remain. A negative maxBytes empties the cache.
func (c *Cache) Prune(maxBytes int64) (PruneStats, error) {
	files, total, err := c.scan()
	if err != nil {
		return PruneStats{}, err
	}
	stats := PruneStats{Remaining: total}
	maxBytes = max(maxBytes, 0)
	if total <= maxBytes {
		return stats, nil
	}

	slices.SortFunc(files, func(a, b storedFile) int {
		return cmp.Or(a.used.Compare(b.used), strings.Compare(a.path, b.path))
	})
	for _, f := range files {
		if stats.Remaining <= maxBytes {
			break
		}
		err := os.Remove(f.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return stats, err
		}
		stats.Remaining -= f.size
		if err == nil {
			stats.Removed++
			stats.Freed += f.size
		}
	}
	return stats, nil
}
