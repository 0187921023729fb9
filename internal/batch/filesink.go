package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSink writes entries below a destination directory.
//
// Content is written to a temporary file in the same directory and renamed
// to the final path on Commit, so partially written files are never visible.
// All file operations go through an os.Root, so entry names cannot escape the
// destination.
type FileSink struct {
	destDir       string
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveMode applies the permission bits stored in the index.
// By default, files are created with mode 0600.
func WithPreserveMode(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes applies the modification times stored in the index.
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// NewFileSink creates a FileSink that writes to destDir, which must exist.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		destDir: destDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldProcess returns false if the file already exists and overwrite is
// disabled. Invalid names are always processed so that Writer rejects them.
func (s *FileSink) ShouldProcess(entry *Entry) bool {
	if s.overwrite || !validName(entry.Name) {
		return true
	}
	destPath := filepath.Join(s.destDir, filepath.FromSlash(entry.Name))
	_, err := os.Lstat(destPath)
	return errors.Is(err, fs.ErrNotExist)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(entry *Entry) (Committer, error) {
	if !validName(entry.Name) {
		return nil, &fs.PathError{Op: "unpack", Path: entry.Name, Err: fs.ErrInvalid}
	}
	destRel := filepath.FromSlash(entry.Name)

	root, err := os.OpenRoot(s.destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", s.destDir, err)
	}
	if err := root.MkdirAll(filepath.Dir(destRel), 0o750); err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create directory for %s: %w", entry.Name, err)
	}

	tempFile, tempRel, err := createTempFile(root, filepath.Dir(destRel), ".siva-")
	if err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileCommitter{
		entry:    entry,
		destRel:  destRel,
		tempFile: tempFile,
		tempRel:  tempRel,
		root:     root,
		sink:     s,
	}, nil
}

// validName reports whether name can be written below the destination.
func validName(name string) bool {
	return fs.ValidPath(name) && name != "."
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	entry    *Entry
	destRel  string
	tempFile *os.File
	tempRel  string
	root     *os.Root
	sink     *FileSink
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies metadata, and renames to final path.
func (c *fileCommitter) Commit() error {
	if err := c.tempFile.Close(); err != nil {
		return c.abort(fmt.Errorf("close temp file: %w", err))
	}
	if c.sink.preserveMode {
		if err := c.root.Chmod(c.tempRel, c.entry.FileMode()); err != nil {
			return c.abort(fmt.Errorf("chmod: %w", err))
		}
	}
	if c.sink.preserveTimes {
		if err := c.root.Chtimes(c.tempRel, c.entry.ModTime, c.entry.ModTime); err != nil {
			return c.abort(fmt.Errorf("chtimes: %w", err))
		}
	}
	if err := c.root.Rename(c.tempRel, c.destRel); err != nil {
		return c.abort(fmt.Errorf("rename to %s: %w", c.entry.Name, err))
	}
	return c.root.Close()
}

// abort removes the temp file, releases the root and returns err.
func (c *fileCommitter) abort(err error) error {
	_ = c.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
	_ = c.root.Close()           //nolint:errcheck // best-effort cleanup
	return err
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	if err := c.root.Remove(c.tempRel); err != nil {
		_ = c.root.Close() //nolint:errcheck // best-effort cleanup
		return err
	}
	return c.root.Close()
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
