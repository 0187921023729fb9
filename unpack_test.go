package siva_test

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/siva"
	sivatest "github.com/meigma/siva/internal/testutil"
)

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestUnpack(t *testing.T) {
	t.Parallel()

	a, err := siva.NewArchive(sivatest.NewMockByteSource(sampleFile()))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	stats, err := a.Unpack(dest, siva.UnpackWithPreserveMode(true), siva.UnpackWithPreserveTimes(true))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Written)
	assert.Equal(t, 0, stats.Skipped)

	assert.Equal(t, map[string]string{
		"README.md":   "# hello\n",
		"src/main.go": "package main\n\nfunc main() {}\n",
		"empty":       "",
	}, readTree(t, dest))

	info, err := os.Stat(filepath.Join(dest, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o644), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(time.Unix(1500000000, 0)))

	// A second run leaves existing files alone.
	stats, err = a.Unpack(dest)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Written)
	assert.Equal(t, 3, stats.Skipped)
}

func TestUnpack_Options(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []siva.UnpackOption
	}{
		{name: "serial", opts: []siva.UnpackOption{siva.UnpackWithWorkers(-1), siva.UnpackWithReadConcurrency(1)}},
		{name: "parallel", opts: []siva.UnpackOption{siva.UnpackWithWorkers(4), siva.UnpackWithReadConcurrency(4)}},
		{name: "read ahead", opts: []siva.UnpackOption{siva.UnpackWithReadAheadBytes(8)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, err := siva.NewArchive(sivatest.NewMockByteSource(sampleFile()))
			require.NoError(t, err)
			dest := t.TempDir()
			_, err = a.Unpack(dest, tt.opts...)
			require.NoError(t, err)
			assert.Len(t, readTree(t, dest), 3)
		})
	}
}

func TestUnpackEntries_CompleteIndex(t *testing.T) {
	t.Parallel()

	a, err := siva.NewArchive(sivatest.NewMockByteSource(sampleFile()))
	require.NoError(t, err)
	complete, err := a.CompleteIndex()
	require.NoError(t, err)

	dest := t.TempDir()
	stats, err := a.UnpackEntries(dest, complete.Entries())
	require.NoError(t, err)

	// The newest record of each name decides: old.txt is deleted and the
	// older src/main.go is skipped.
	assert.Equal(t, 3, stats.Written)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, "package main\n\nfunc main() {}\n", readTree(t, dest)["src/main.go"])
	assert.NotContains(t, readTree(t, dest), "old.txt")
}

func TestUnpackEntries_Glob(t *testing.T) {
	t.Parallel()

	a, err := siva.NewArchive(sivatest.NewMockByteSource(sampleFile()))
	require.NoError(t, err)
	matches, err := a.Glob("src/**")
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = a.UnpackEntries(dest, matches)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"src/main.go": "package main\n\nfunc main() {}\n"}, readTree(t, dest))
}

func TestUnpack_RejectsUnsafeNames(t *testing.T) {
	t.Parallel()

	data := sivatest.NewBuilder().AddBlock(
		sivatest.Text("ok.txt", "fine"),
		sivatest.Text("../escape.txt", "bad"),
	).Bytes()
	a, err := siva.NewArchive(sivatest.NewMockByteSource(data))
	require.NoError(t, err)

	parent := t.TempDir()
	dest := filepath.Join(parent, "out")
	_, err = a.Unpack(dest)
	var pe *fs.PathError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, fs.ErrInvalid)

	_, statErr := os.Stat(filepath.Join(parent, "escape.txt"))
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
	_, statErr = os.Stat(dest)
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
}

func TestUnpack_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := sivatest.NewBuilder().AddBlock(sivatest.Text("a", "hello")).Bytes()
	data[2] ^= 0x20

	a, err := siva.NewArchive(sivatest.NewMockByteSource(data))
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = a.Unpack(dest)
	require.ErrorIs(t, err, siva.ErrChecksumMismatch)
	assert.Empty(t, readTree(t, dest))

	stats, err := a.Unpack(dest, siva.UnpackWithVerify(false))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, "heLlo", readTree(t, dest)["a"])
}

func readTar(t *testing.T, r io.Reader) (map[string]string, []*tar.Header) {
	t.Helper()
	tr := tar.NewReader(r)
	files := make(map[string]string)
	var headers []*tar.Header
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(data)
		headers = append(headers, hdr)
	}
	return files, headers
}

func TestExportTar(t *testing.T) {
	t.Parallel()

	a, err := siva.NewArchive(sivatest.NewMockByteSource(sampleFile()))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.ExportTar(&buf, a.Index().Entries()))

	files, headers := readTar(t, &buf)
	assert.Equal(t, map[string]string{
		"README.md":   "# hello\n",
		"src/main.go": "package main\n\nfunc main() {}\n",
		"empty":       "",
	}, files)

	// Entries are written in file offset order: the first block first.
	require.Len(t, headers, 3)
	assert.Equal(t, "README.md", headers[0].Name)
	assert.Equal(t, int64(0o644), headers[0].Mode)
	assert.True(t, headers[0].ModTime.Equal(time.Unix(1500000000, 0)))
}

func TestExportTar_Zstd(t *testing.T) {
	t.Parallel()

	a, err := siva.NewArchive(sivatest.NewMockByteSource(sampleFile()))
	require.NoError(t, err)
	complete, err := a.CompleteIndex()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.ExportTar(&buf, complete.Entries(), siva.ExportWithZstd(zstd.SpeedFastest)))

	dec, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	defer dec.Close()

	files, _ := readTar(t, dec)
	assert.Len(t, files, 3)
	assert.Equal(t, "package main\n\nfunc main() {}\n", files["src/main.go"])
}

func TestExportTar_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := sivatest.NewBuilder().AddBlock(sivatest.Text("a", "hello")).Bytes()
	data[0] ^= 0xff
	a, err := siva.NewArchive(sivatest.NewMockByteSource(data))
	require.NoError(t, err)

	err = a.ExportTar(io.Discard, a.Index().Entries())
	assert.ErrorIs(t, err, siva.ErrChecksumMismatch)
}
