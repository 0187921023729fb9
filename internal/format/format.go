package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/meigma/siva/internal/sivatype"
)

const (
	// Version is the only index version this package decodes.
	Version uint8 = 1

	// FooterSize is the encoded size of a Footer.
	FooterSize = 24

	// HeaderSize is the size of the signature plus version byte.
	HeaderSize = 4

	// MinEntrySize is the encoded size of an entry with an empty name.
	MinEntrySize = 4 + 4 + 8 + 8 + 8 + 4 + 4
)

// Signature marks the start of every index.
var Signature = [3]byte{'I', 'B', 'A'}

var byteOrder = binary.BigEndian

// FieldError records the field being decoded when decoding failed.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// Footer closes every block.
type Footer struct {
	EntryCount uint32
	IndexSize  uint64
	BlockSize  uint64
	CRC32      uint32
}

// ReadFooter decodes a footer from r.
func ReadFooter(r io.Reader) (Footer, error) {
	var buf [FooterSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Footer{}, fieldErr("footer", err)
	}
	return DecodeFooter(buf[:])
}

// DecodeFooter decodes a footer from the first FooterSize bytes of b.
func DecodeFooter(b []byte) (Footer, error) {
	if len(b) < FooterSize {
		return Footer{}, fieldErr("footer", io.ErrUnexpectedEOF)
	}
	f := Footer{
		EntryCount: byteOrder.Uint32(b[0:4]),
		IndexSize:  byteOrder.Uint64(b[4:12]),
		BlockSize:  byteOrder.Uint64(b[12:20]),
		CRC32:      byteOrder.Uint32(b[20:24]),
	}
	if f.IndexSize > math.MaxInt64 {
		return Footer{}, fieldErr("footer index size", fmt.Errorf("%w: %d", sivatype.ErrSizeOverflow, f.IndexSize))
	}
	if f.BlockSize > math.MaxInt64 {
		return Footer{}, fieldErr("footer block size", fmt.Errorf("%w: %d", sivatype.ErrSizeOverflow, f.BlockSize))
	}
	return f, nil
}

// Entry is a decoded index entry. Start is relative to its block.
type Entry struct {
	Name    string
	Mode    uint32
	ModTime int64
	Start   uint64
	Size    uint64
	CRC32   uint32
	Flags   uint32
}

// errRegionExhausted reports a read past the end of the index region.
var errRegionExhausted = errors.New("read past end of index")

// Decoder reads the records of one index region.
//
// The decoder knows how many bytes the region holds so that lengths read from
// the file can be checked before anything is allocated for them.
type Decoder struct {
	r         io.Reader
	remaining uint64
	buf       [8]byte
}

// NewDecoder returns a Decoder reading an index region of size bytes from r.
func NewDecoder(r io.Reader, size uint64) *Decoder {
	return &Decoder{r: r, remaining: size}
}

// Remaining returns the number of region bytes not yet consumed.
func (d *Decoder) Remaining() uint64 {
	return d.remaining
}

func (d *Decoder) read(field string, p []byte) error {
	if uint64(len(p)) > d.remaining {
		return fieldErr(field, fmt.Errorf("%w: %w", sivatype.ErrInvalidBlock, errRegionExhausted))
	}
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fieldErr(field, err)
	}
	d.remaining -= uint64(len(p))
	return nil
}

func (d *Decoder) uint32(field string) (uint32, error) {
	if err := d.read(field, d.buf[:4]); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(d.buf[:4]), nil
}

func (d *Decoder) uint64(field string) (uint64, error) {
	if err := d.read(field, d.buf[:8]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(d.buf[:8]), nil
}

// offset reads an unsigned 64-bit magnitude that must also fit an int64.
func (d *Decoder) offset(field string) (uint64, error) {
	v, err := d.uint64(field)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt64 {
		return 0, fieldErr(field, fmt.Errorf("%w: %d", sivatype.ErrSizeOverflow, v))
	}
	return v, nil
}

// ReadSignature consumes the index signature.
func (d *Decoder) ReadSignature() error {
	var sig [len(Signature)]byte
	if d.remaining < uint64(len(sig)) {
		return fieldErr("signature", fmt.Errorf("%w: index of %d bytes", sivatype.ErrInvalidSignature, d.remaining))
	}
	if err := d.read("signature", sig[:]); err != nil {
		return err
	}
	if !bytes.Equal(sig[:], Signature[:]) {
		return fieldErr("signature", fmt.Errorf("%w: %q", sivatype.ErrInvalidSignature, sig[:]))
	}
	return nil
}

// ReadVersion consumes the index version byte.
func (d *Decoder) ReadVersion() error {
	if d.remaining == 0 {
		return fieldErr("version", fmt.Errorf("%w: missing", sivatype.ErrUnsupportedVersion))
	}
	if err := d.read("version", d.buf[:1]); err != nil {
		return err
	}
	if v := d.buf[0]; v != Version {
		return fieldErr("version", fmt.Errorf("%w: %d", sivatype.ErrUnsupportedVersion, v))
	}
	return nil
}

// ReadEntry decodes the next entry.
func (d *Decoder) ReadEntry() (Entry, error) {
	var e Entry

	rawLen, err := d.uint32("name length")
	if err != nil {
		return e, err
	}
	nameLen := int32(rawLen) //nolint:gosec // stored as a signed 32-bit length
	if nameLen < 0 {
		return e, fieldErr("name length", fmt.Errorf("%w: %d", sivatype.ErrSizeOverflow, nameLen))
	}
	if uint64(nameLen) > d.remaining {
		return e, fieldErr("name length", fmt.Errorf("%w: %d exceeds %d bytes left in index",
			sivatype.ErrSizeOverflow, nameLen, d.remaining))
	}
	if nameLen == 0 {
		return e, fieldErr("name", fmt.Errorf("%w: empty name", sivatype.ErrInvalidEntry))
	}

	name := make([]byte, nameLen)
	if err := d.read("name", name); err != nil {
		return e, err
	}
	e.Name = string(name)

	if e.Mode, err = d.uint32("mode"); err != nil {
		return e, err
	}
	modTime, err := d.uint64("modification time")
	if err != nil {
		return e, err
	}
	e.ModTime = int64(modTime) //nolint:gosec // nanoseconds since the epoch, signed on disk
	if e.Start, err = d.offset("offset"); err != nil {
		return e, err
	}
	if e.Size, err = d.offset("size"); err != nil {
		return e, err
	}
	if e.CRC32, err = d.uint32("crc32"); err != nil {
		return e, err
	}
	if e.Flags, err = d.uint32("flags"); err != nil {
		return e, err
	}
	return e, nil
}
