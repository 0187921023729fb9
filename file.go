package siva

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/siva/internal/mmap"
	"github.com/meigma/siva/internal/sizing"
)

// ByteSource provides random access to a siva file.
//
// ReadAt must be safe for concurrent use. SourceID identifies the content for
// error messages and cache keys; it should change when the content changes.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// File is a siva file opened from the local filesystem.
// Close must be called to release the file handle.
type File struct {
	file     *os.File
	size     int64
	sourceID string
}

// OpenFile opens the siva file at path for random access.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open siva file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat siva file: %w", err)
	}
	return &File{
		file:     f,
		size:     info.Size(),
		sourceID: fileSourceID(path, info),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

// Size returns the size of the file when it was opened.
func (f *File) Size() int64 {
	return f.size
}

// SourceID returns the absolute path, size and modification time of the file.
func (f *File) SourceID() string {
	return f.sourceID
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.file.Name()
}

// Map maps the content of e into memory. On platforms without mmap support
// the content is read into a buffer instead. The Region must be closed.
func (f *File) Map(e *Entry) (*mmap.Region, error) {
	off, err := sizing.ToInt64(e.AbsStart(), ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	n, err := sizing.ToInt64(e.Size, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	if _, ok := sizing.AddInt64(off, n); !ok {
		return nil, fmt.Errorf("%w: %s", ErrSizeOverflow, e.Name)
	}
	return mmap.Map(f.file, off, n)
}

// Close closes the file.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func fileSourceID(path string, info os.FileInfo) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	return fmt.Sprintf("file:%s:%d:%d", absPath, info.Size(), info.ModTime().UnixNano())
}

type bytesSource struct {
	*bytes.Reader
	sourceID string
}

func (s *bytesSource) SourceID() string {
	return s.sourceID
}

// NewBytesSource returns a ByteSource over data. The source ID is the sha256
// digest of data.
func NewBytesSource(data []byte) ByteSource {
	return &bytesSource{
		Reader:   bytes.NewReader(data),
		sourceID: digest.FromBytes(data).String(),
	}
}

type sectionSource struct {
	*io.SectionReader
	sourceID string
}

func (s *sectionSource) SourceID() string {
	return s.sourceID
}

// NewSectionSource returns a ByteSource over the first size bytes of r,
// identified by sourceID.
func NewSectionSource(r io.ReaderAt, size int64, sourceID string) ByteSource {
	return &sectionSource{
		SectionReader: io.NewSectionReader(r, 0, size),
		sourceID:      sourceID,
	}
}
