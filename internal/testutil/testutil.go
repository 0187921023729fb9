// Package testutil builds siva files in memory for tests.
//
// The library only reads siva files; the encoder here exists so tests can
// describe a chain of blocks and get the exact bytes a writer would produce.
package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"io"
	"time"

	"github.com/meigma/siva/internal/format"
)

// File describes one entry of a block.
type File struct {
	Name    string
	Data    []byte
	Mode    uint32
	ModTime time.Time
	Deleted bool

	// Flags is stored verbatim for live files. Deleted overrides it.
	Flags uint32
}

// Delete returns a tombstone for name.
func Delete(name string) File {
	return File{Name: name, Deleted: true}
}

// Text returns a 0644 file holding content.
func Text(name, content string) File {
	return File{
		Name:    name,
		Data:    []byte(content),
		Mode:    0o644,
		ModTime: time.Unix(1500000000, 0),
	}
}

// BlockInfo records where a block landed in the built file.
type BlockInfo struct {
	Start      uint64
	IndexStart uint64
	FooterAt   uint64
	End        uint64
	Footer     format.Footer
}

// Builder appends blocks to an in-memory siva file.
type Builder struct {
	buf    bytes.Buffer
	blocks []BlockInfo
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddBlock appends a block holding files, in order.
func (b *Builder) AddBlock(files ...File) *Builder {
	var data bytes.Buffer
	entries := make([]format.Entry, 0, len(files))
	for _, f := range files {
		e := format.Entry{
			Name:    f.Name,
			Mode:    f.Mode,
			ModTime: f.ModTime.UnixNano(),
			Start:   uint64(data.Len()),
			Flags:   f.Flags,
		}
		if f.Deleted {
			e.Flags = 1
		} else {
			e.Size = uint64(len(f.Data))
			e.CRC32 = crc32.ChecksumIEEE(f.Data)
			data.Write(f.Data)
		}
		entries = append(entries, e)
	}
	index := EncodeIndex(entries)
	footer := format.Footer{
		EntryCount: uint32(len(entries)), //nolint:gosec // test fixtures are small
		IndexSize:  uint64(len(index)),
		BlockSize:  uint64(data.Len()+len(index)) + format.FooterSize,
		CRC32:      crc32.ChecksumIEEE(index),
	}
	return b.AddRawBlock(data.Bytes(), index, footer)
}

// AddRawBlock appends data, index and footer verbatim. Use it to build
// blocks whose footer does not match their content.
func (b *Builder) AddRawBlock(data, index []byte, footer format.Footer) *Builder {
	start := uint64(b.buf.Len())
	b.buf.Write(data)
	indexStart := uint64(b.buf.Len())
	b.buf.Write(index)
	footerAt := uint64(b.buf.Len())
	b.buf.Write(EncodeFooter(footer))
	b.blocks = append(b.blocks, BlockInfo{
		Start:      start,
		IndexStart: indexStart,
		FooterAt:   footerAt,
		End:        uint64(b.buf.Len()),
		Footer:     footer,
	})
	return b
}

// Blocks returns the layout of every block added so far, oldest first.
func (b *Builder) Blocks() []BlockInfo {
	return append([]BlockInfo(nil), b.blocks...)
}

// Bytes returns a copy of the file built so far.
func (b *Builder) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// EncodeIndex encodes signature, version and entries.
func EncodeIndex(entries []format.Entry) []byte {
	var buf bytes.Buffer
	buf.Write(format.Signature[:])
	buf.WriteByte(format.Version)
	for _, e := range entries {
		buf.Write(EncodeEntry(e))
	}
	return buf.Bytes()
}

// EncodeEntry encodes a single index entry.
func EncodeEntry(e format.Entry) []byte {
	buf := make([]byte, 0, format.MinEntrySize+len(e.Name))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Name))) //nolint:gosec // test fixtures are small
	buf = append(buf, e.Name...)
	buf = binary.BigEndian.AppendUint32(buf, e.Mode)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.ModTime)) //nolint:gosec // signed on disk
	buf = binary.BigEndian.AppendUint64(buf, e.Start)
	buf = binary.BigEndian.AppendUint64(buf, e.Size)
	buf = binary.BigEndian.AppendUint32(buf, e.CRC32)
	buf = binary.BigEndian.AppendUint32(buf, e.Flags)
	return buf
}

// EncodeFooter encodes a footer.
func EncodeFooter(f format.Footer) []byte {
	buf := make([]byte, 0, format.FooterSize)
	buf = binary.BigEndian.AppendUint32(buf, f.EntryCount)
	buf = binary.BigEndian.AppendUint64(buf, f.IndexSize)
	buf = binary.BigEndian.AppendUint64(buf, f.BlockSize)
	buf = binary.BigEndian.AppendUint32(buf, f.CRC32)
	return buf
}

// MockByteSource implements a simple in-memory byte source for tests.
type MockByteSource struct {
	data     []byte
	sourceID string
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	sum := sha256.Sum256(data)
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + hex.EncodeToString(sum[:]),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// FailingSource returns err from every ReadAt.
type FailingSource struct {
	Len int64
	Err error
}

// ReadAt implements io.ReaderAt.
func (f *FailingSource) ReadAt([]byte, int64) (int, error) {
	return 0, f.Err
}

// Size returns the configured length.
func (f *FailingSource) Size() int64 {
	return f.Len
}

// SourceID returns a fixed identifier.
func (f *FailingSource) SourceID() string {
	return "failing"
}
