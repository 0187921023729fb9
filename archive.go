package siva

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/siva/cache"
	"github.com/meigma/siva/internal/integrity"
	"github.com/meigma/siva/internal/sizing"
)

// Archive couples a Reader with the filtered index of its file and gives
// access to entry content.
//
// Content reads use positioned reads only and are safe for concurrent use.
type Archive struct {
	*Reader

	index     *Index
	closer    io.Closer
	readGroup singleflight.Group
}

// NewArchive reads the filtered index of src and returns an Archive over it.
func NewArchive(src ByteSource, opts ...Option) (*Archive, error) {
	r := NewReader(src, opts...)
	idx, err := r.FilteredIndex()
	if err != nil {
		return nil, err
	}
	return &Archive{Reader: r, index: idx}, nil
}

// Open opens the siva file at path and reads its filtered index.
// The returned Archive must be closed to release the file.
func Open(path string, opts ...Option) (*Archive, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	a, err := NewArchive(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	a.closer = f
	return a, nil
}

// Close releases the file opened by Open. It is a no-op for archives
// created with NewArchive.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// Index returns the filtered index read when the archive was opened.
func (a *Archive) Index() *Index {
	return a.index
}

// Glob returns the live entries whose name matches pattern.
func (a *Archive) Glob(pattern string) ([]*Entry, error) {
	return a.index.Glob(pattern)
}

// Entry returns the live entry named name.
func (a *Archive) Entry(name string) (*Entry, error) {
	e, ok := a.index.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// Section returns a reader over the content of e.
//
// Offsets in the index are not checked against the file while it is read, so
// Section fails with ErrInvalidEntry when the content would extend past the
// end of the file.
func (a *Archive) Section(e *Entry) (*io.SectionReader, error) {
	if e.IsDeleted() {
		return nil, fmt.Errorf("%w: %s is deleted", ErrNotFound, e.Name)
	}
	end, ok := e.End()
	if size := a.src.Size(); !ok || size < 0 || end > uint64(size) {
		return nil, fmt.Errorf("%w: %s: content [%d, +%d) outside file of %d bytes",
			ErrInvalidEntry, e.Name, e.AbsStart(), e.Size, size)
	}
	return io.NewSectionReader(a.src, int64(e.AbsStart()), int64(e.Size)), nil //nolint:gosec // both below the source size
}

// ReadEntry reads the content of e and checks it against e.CRC32 unless
// verification was disabled with WithVerifyOnRead.
func (a *Archive) ReadEntry(e *Entry) ([]byte, error) {
	sec, err := a.Section(e)
	if err != nil {
		return nil, err
	}
	if a.maxEntrySize > 0 && e.Size > a.maxEntrySize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrSizeOverflow, e.Name, e.Size, a.maxEntrySize)
	}
	n, err := sizing.ToInt(e.Size, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	content := make([]byte, n)
	if _, err := io.ReadFull(sec, content); err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Name, err)
	}
	if a.verifyOnRead {
		if err := a.checkContent(e, content); err != nil {
			return nil, err
		}
	}
	a.metrics.ObserveContentRead("file", n)
	return content, nil
}

// ReadFile reads the content of the live entry named name.
//
// When a cache is configured, content is served from it when possible and
// concurrent reads of the same entry share a single read of the file.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	e, err := a.Entry(name)
	if err != nil {
		return nil, err
	}
	if a.cache == nil {
		return a.ReadEntry(e)
	}

	key := cache.Key(a.src.SourceID(), e.AbsStart(), e.Size, e.CRC32)
	if content, ok := a.cached(key, e); ok {
		a.log().Debug("readfile cache hit", "path", name)
		return content, nil
	}
	a.log().Debug("readfile cache miss", "path", name)

	v, err, _ := a.readGroup.Do(key, func() (any, error) {
		if content, ok := a.cached(key, e); ok {
			return content, nil
		}
		content, err := a.ReadEntry(e)
		if err != nil {
			return nil, err
		}
		if !a.verifyOnRead && crc32.ChecksumIEEE(content) != e.CRC32 {
			// Returned as read, but never cached.
			return content, nil
		}
		if err := a.cache.Put(key, content); err != nil {
			a.log().Debug("cache put failed", "path", name, "error", err)
		}
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers own the returned slice; the cached copy must stay intact.
	return bytes.Clone(v.([]byte)), nil //nolint:errcheck,forcetypeassert // the function only returns []byte
}

// cached returns a copy of the content stored under key. Entries that no
// longer match e are dropped when verification is enabled.
func (a *Archive) cached(key string, e *Entry) ([]byte, bool) {
	content, ok := a.cache.Get(key)
	if !ok {
		return nil, false
	}
	if a.verifyOnRead && (uint64(len(content)) != e.Size || crc32.ChecksumIEEE(content) != e.CRC32) {
		_ = a.cache.Delete(key) //nolint:errcheck // best-effort cache cleanup on checksum mismatch
		return nil, false
	}
	a.metrics.ObserveContentRead("cache", len(content))
	return bytes.Clone(content), true
}

// Verify checks the content of e against e.CRC32 without holding it in
// memory.
func (a *Archive) Verify(e *Entry) error {
	sec, err := a.Section(e)
	if err != nil {
		return err
	}
	err = integrity.Verify(sec, 0, sec.Size(), e.CRC32, a.chunkSize)
	var me *integrity.MismatchError
	if errors.As(err, &me) {
		a.metrics.ObserveChecksumFailure()
		return checksumError(e, me.Actual)
	}
	if err != nil {
		return fmt.Errorf("verify %s: %w", e.Name, err)
	}
	return nil
}

// Digest returns the sha256 digest of the content of e. The content is
// checked against e.CRC32 in the same pass.
func (a *Archive) Digest(e *Entry) (digest.Digest, error) {
	sec, err := a.Section(e)
	if err != nil {
		return "", err
	}
	digester := digest.Canonical.Digester()
	crc := crc32.NewIEEE()
	buf := make([]byte, min(int64(a.chunkSize), max(sec.Size(), 1)))
	if _, err := io.CopyBuffer(io.MultiWriter(digester.Hash(), crc), sec, buf); err != nil {
		return "", fmt.Errorf("digest %s: %w", e.Name, err)
	}
	if actual := crc.Sum32(); actual != e.CRC32 {
		a.metrics.ObserveChecksumFailure()
		return "", checksumError(e, actual)
	}
	return digester.Digest(), nil
}

func (a *Archive) checkContent(e *Entry, content []byte) error {
	if actual := crc32.ChecksumIEEE(content); actual != e.CRC32 {
		a.metrics.ObserveChecksumFailure()
		return checksumError(e, actual)
	}
	return nil
}

func checksumError(e *Entry, actual uint32) error {
	return fmt.Errorf("%w: %s: expected %08x, got %08x", ErrChecksumMismatch, e.Name, e.CRC32, actual)
}
