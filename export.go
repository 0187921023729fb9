package siva

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/siva/internal/batch"
)

// ExportOption configures ExportTar.
type ExportOption func(*exportConfig)

type exportConfig struct {
	zstd      bool
	zstdLevel zstd.EncoderLevel
}

// ExportWithZstd compresses the tar stream with zstd at the given level.
func ExportWithZstd(level zstd.EncoderLevel) ExportOption {
	return func(c *exportConfig) {
		c.zstd = true
		c.zstdLevel = level
	}
}

// ExportTar writes entries to w as a tar stream.
//
// Entries are written in file offset order with their stored permission bits
// and modification times. Deleted entries and older records of a name are
// skipped. Content is checked against its CRC32 before it is written.
func (a *Archive) ExportTar(w io.Writer, entries []*Entry, opts ...ExportOption) (err error) {
	var cfg exportConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.zstd {
		enc, encErr := zstd.NewWriter(w, zstd.WithEncoderLevel(cfg.zstdLevel))
		if encErr != nil {
			return fmt.Errorf("create zstd encoder: %w", encErr)
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}

	seen := make(map[string]struct{}, len(entries))
	selected := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}
		if !e.IsDeleted() {
			selected = append(selected, e)
		}
	}

	tw := tar.NewWriter(w)
	sink := &tarSink{tw: tw}
	proc := batch.NewProcessor(a.src, a.maxEntrySize, batch.WithReadConcurrency(defaultUnpackReadConcurrency))
	if _, err := proc.Process(selected, sink); err != nil {
		return err
	}
	return tw.Close()
}

// tarSink writes each entry as a regular file of a tar stream.
type tarSink struct {
	tw *tar.Writer
}

func (s *tarSink) ShouldProcess(*Entry) bool {
	return true
}

func (s *tarSink) Writer(*Entry) (batch.Committer, error) {
	return nil, errors.New("tar export: streaming writes not supported")
}

func (s *tarSink) PutBuffered(e *Entry, content []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.Name,
		Mode:     int64(e.Perm()),
		Size:     int64(len(content)),
		ModTime:  e.ModTime,
		Format:   tar.FormatPAX,
	}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := s.tw.Write(content)
	return err
}
