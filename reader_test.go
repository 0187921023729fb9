package siva_test

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/siva"
	"github.com/meigma/siva/internal/format"
	"github.com/meigma/siva/internal/testutil"
)

func newReader(t *testing.T, data []byte, opts ...siva.Option) *siva.Reader {
	t.Helper()
	return siva.NewReader(testutil.NewMockByteSource(data), opts...)
}

func names(entries []*siva.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

// block returns the data, index and footer of a single block holding files.
func block(files ...testutil.File) (data, index []byte, footer format.Footer) {
	b := testutil.NewBuilder().AddBlock(files...)
	raw := b.Bytes()
	info := b.Blocks()[0]
	return raw[info.Start:info.IndexStart], raw[info.IndexStart:info.FooterAt], info.Footer
}

func crcOf(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

func TestReadIndex_SingleBlockPoliciesAgree(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().AddBlock(
		testutil.Text("b.txt", "bravo"),
		testutil.Text("a.txt", "alpha"),
		testutil.Text("dir/c.txt", "charlie"),
	).Bytes()
	r := newReader(t, data)

	filtered, err := r.FilteredIndex()
	require.NoError(t, err)
	complete, err := r.CompleteIndex()
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt", "dir/c.txt"}, names(filtered.Entries()))
	assert.Equal(t, []string{"b.txt", "a.txt", "dir/c.txt"}, names(complete.Entries()))
	assert.ElementsMatch(t, filtered.Entries(), complete.Entries())
	assert.Equal(t, siva.PolicyFiltered, filtered.Policy())
	assert.Equal(t, siva.PolicyComplete, complete.Policy())
}

func TestReadIndex_NewerBlockWins(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		AddBlock(testutil.Text("n", "old"), testutil.Text("keep", "k")).
		AddBlock(testutil.Text("n", "newer")).
		Bytes()
	r := newReader(t, data)

	filtered, err := r.FilteredIndex()
	require.NoError(t, err)
	require.Equal(t, 2, filtered.Len())

	n, ok := filtered.Find("n")
	require.True(t, ok)
	assert.Equal(t, uint64(5), n.Size)

	complete, err := r.CompleteIndex()
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "n", "keep"}, names(complete.Entries()))
	newest, ok := complete.Find("n")
	require.True(t, ok)
	assert.Equal(t, n.AbsStart(), newest.AbsStart())
	assert.Equal(t, n.Size, newest.Size)
}

func TestReadIndex_DeleteHidesOlderRecords(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		AddBlock(testutil.Text("n", "v1"), testutil.Text("other", "o")).
		AddBlock(testutil.Text("n", "v2")).
		AddBlock(testutil.Delete("n")).
		Bytes()
	r := newReader(t, data)

	filtered, err := r.FilteredIndex()
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, names(filtered.Entries()))
	_, ok := filtered.Find("n")
	assert.False(t, ok)

	complete, err := r.CompleteIndex()
	require.NoError(t, err)
	all := complete.Entries()
	require.Len(t, all, 4)
	assert.Equal(t, []string{"n", "n", "n", "other"}, names(all))
	assert.True(t, all[0].IsDeleted())
	assert.Equal(t, siva.FlagDeleted, all[0].Flags)
	assert.False(t, all[1].IsDeleted())
}

func TestReadIndex_UnknownFlagsAreLive(t *testing.T) {
	t.Parallel()

	for _, flags := range []uint32{2, 3, 0x80000001, 0xffffffff} {
		t.Run(fmt.Sprintf("%#x", flags), func(t *testing.T) {
			t.Parallel()

			f := testutil.Text("n", "v2")
			f.Flags = flags
			data := testutil.NewBuilder().
				AddBlock(testutil.Text("n", "v1")).
				AddBlock(f).
				Bytes()
			r := newReader(t, data)

			filtered, err := r.FilteredIndex()
			require.NoError(t, err)
			require.Equal(t, 1, filtered.Len())
			e, ok := filtered.Find("n")
			require.True(t, ok)
			assert.False(t, e.IsDeleted())
			assert.Equal(t, siva.Flag(flags), e.Flags)
			assert.Equal(t, "none", e.Flags.String())

			complete, err := r.CompleteIndex()
			require.NoError(t, err)
			all := complete.Entries()
			require.Len(t, all, 2)
			for _, e := range all {
				assert.False(t, e.IsDeleted())
			}
		})
	}
}

func TestReadIndex_WithinBlockReconciliation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []testutil.File
		want  map[string]string
	}{
		{
			name:  "last record in block wins",
			files: []testutil.File{testutil.Text("n", "first"), testutil.Text("n", "second!")},
			want:  map[string]string{"n": "second!"},
		},
		{
			name:  "delete drops staged record",
			files: []testutil.File{testutil.Text("n", "x"), testutil.Delete("n")},
			want:  map[string]string{},
		},
		{
			name:  "delete suppresses later record in block",
			files: []testutil.File{testutil.Delete("n"), testutil.Text("n", "x")},
			want:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := testutil.NewBuilder().AddBlock(tt.files...).Bytes()
			a, err := siva.NewArchive(testutil.NewMockByteSource(data))
			require.NoError(t, err)

			got := make(map[string]string)
			for e := range a.Index().All() {
				content, err := a.ReadEntry(e)
				require.NoError(t, err)
				got[e.Name] = string(content)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadIndex_DeleteThenRecreate(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		AddBlock(testutil.Text("n", "v1")).
		AddBlock(testutil.Delete("n")).
		AddBlock(testutil.Text("n", "v3")).
		Bytes()

	idx, err := newReader(t, data).FilteredIndex()
	require.NoError(t, err)
	n, ok := idx.Find("n")
	require.True(t, ok)
	assert.Equal(t, uint64(2), n.Size)
}

func TestReadIndex_AbsoluteOffsets(t *testing.T) {
	t.Parallel()

	b := testutil.NewBuilder().
		AddBlock(testutil.Text("a", "aaaa"), testutil.Text("b", "bb")).
		AddBlock(testutil.Text("c", "ccccc"), testutil.Text("d", "d"))
	data := b.Bytes()
	blocks := b.Blocks()

	complete, err := newReader(t, data).CompleteIndex()
	require.NoError(t, err)

	blockOf := map[string]int{"a": 0, "b": 0, "c": 1, "d": 1}
	for e := range complete.All() {
		start := blocks[blockOf[e.Name]].Start
		assert.Equal(t, start+e.Start, e.AbsStart(), e.Name)

		content := data[e.AbsStart() : e.AbsStart()+e.Size]
		assert.Equal(t, string(e.Name[0]), string(content[0]), e.Name)
	}
}

func TestReadIndex_EntryFields(t *testing.T) {
	t.Parallel()

	f := testutil.Text("bin/tool", "#!/bin/sh\n")
	f.Mode = 0o100755
	data := testutil.NewBuilder().AddBlock(f).Bytes()

	idx, err := newReader(t, data).FilteredIndex()
	require.NoError(t, err)
	e, ok := idx.Find("bin/tool")
	require.True(t, ok)

	assert.Equal(t, uint32(0o100755), e.Mode)
	assert.Equal(t, "rwxr-xr-x", e.Perm().String())
	assert.True(t, e.ModTime.Equal(f.ModTime))
	assert.Equal(t, siva.FlagNone, e.Flags)
	assert.Equal(t, uint64(len(f.Data)), e.Size)
}

func TestReadIndex_FlippedEntryByte(t *testing.T) {
	t.Parallel()

	b := testutil.NewBuilder().
		AddBlock(testutil.Text("a", "one"), testutil.Text("b", "two")).
		AddBlock(testutil.Text("c", "three"), testutil.Delete("a"))
	data := b.Bytes()

	for bi, info := range b.Blocks() {
		// Entries start after the signature and version.
		for pos := info.IndexStart + format.HeaderSize; pos < info.FooterAt; pos++ {
			t.Run(fmt.Sprintf("block %d byte %d", bi, pos), func(t *testing.T) {
				t.Parallel()

				corrupt := slices.Clone(data)
				corrupt[pos] ^= 0x01
				for _, p := range []siva.Policy{siva.PolicyFiltered, siva.PolicyComplete} {
					idx, err := newReader(t, corrupt).ReadIndex(p)
					require.ErrorIs(t, err, siva.ErrCRC32Mismatch)
					assert.Nil(t, idx)

					var re *siva.ReadError
					require.ErrorAs(t, err, &re)
					assert.Equal(t, int64(info.IndexStart), re.Offset)
					assert.Equal(t, "index crc32", re.Field)
				}
			})
		}
	}
}

func TestReadIndex_MisalignedBlockSize(t *testing.T) {
	t.Parallel()

	zeros := testutil.File{Name: "zeros", Data: make([]byte, 64), Mode: 0o644}
	data, index, footer := block(zeros)

	for _, shrink := range []uint64{24, 25, 40, 64} {
		t.Run(fmt.Sprintf("shrink %d", shrink), func(t *testing.T) {
			t.Parallel()

			bad := footer
			bad.BlockSize -= shrink
			file := testutil.NewBuilder().
				AddBlock(testutil.Text("older", "content")).
				AddRawBlock(data, index, bad).
				Bytes()

			idx, err := newReader(t, file).FilteredIndex()
			require.ErrorIs(t, err, siva.ErrInvalidSignature)
			assert.Nil(t, idx)
		})
	}

	t.Run("grow into older block", func(t *testing.T) {
		t.Parallel()

		bad := footer
		bad.BlockSize += 8
		file := testutil.NewBuilder().
			AddBlock(testutil.Text("older", "content")).
			AddRawBlock(data, index, bad).
			Bytes()

		idx, err := newReader(t, file).FilteredIndex()
		require.Error(t, err)
		assert.Nil(t, idx)
	})

	t.Run("larger than file", func(t *testing.T) {
		t.Parallel()

		bad := footer
		bad.BlockSize = footer.BlockSize + 1000
		file := testutil.NewBuilder().AddRawBlock(data, index, bad).Bytes()

		_, err := newReader(t, file).FilteredIndex()
		assert.ErrorIs(t, err, siva.ErrInvalidBlock)
	})

	t.Run("smaller than index", func(t *testing.T) {
		t.Parallel()

		bad := footer
		bad.BlockSize = footer.IndexSize
		file := testutil.NewBuilder().AddRawBlock(data, index, bad).Bytes()

		_, err := newReader(t, file).FilteredIndex()
		assert.ErrorIs(t, err, siva.ErrInvalidBlock)
	})
}

func TestReadIndex_EmptyFile(t *testing.T) {
	t.Parallel()

	for _, p := range []siva.Policy{siva.PolicyFiltered, siva.PolicyComplete} {
		t.Run(p.String(), func(t *testing.T) {
			t.Parallel()

			idx, err := siva.NewReader(siva.NewBytesSource(nil)).ReadIndex(p)
			require.NoError(t, err)
			assert.Equal(t, 0, idx.Len())
			assert.Empty(t, idx.Entries())

			matches, err := idx.Glob("**")
			require.NoError(t, err)
			assert.NotNil(t, matches)
			assert.Empty(t, matches)
		})
	}
}

func TestReadIndex_EmptyBlock(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		AddBlock(testutil.Text("a", "x")).
		AddBlock().
		Bytes()

	idx, err := newReader(t, data).CompleteIndex()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(idx.Entries()))
}

func TestReadIndex_Malformed(t *testing.T) {
	t.Parallel()

	entry := testutil.EncodeEntry(format.Entry{Name: "a", Size: 1})
	rawBlock := func(index []byte, count uint32) []byte {
		data := []byte("x")
		footer := format.Footer{
			EntryCount: count,
			IndexSize:  uint64(len(index)),
			BlockSize:  uint64(len(data)+len(index)) + format.FooterSize,
			CRC32:      crcOf(index),
		}
		return testutil.NewBuilder().AddRawBlock(data, index, footer).Bytes()
	}
	header := []byte("IBA\x01")
	withHeader := func(parts ...[]byte) []byte {
		out := slices.Clone(header)
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	negativeName := slices.Clone(entry)
	copy(negativeName, []byte{0xff, 0xff, 0xff, 0xff})

	hugeName := slices.Clone(entry)
	copy(hugeName, []byte{0x7f, 0xff, 0xff, 0xff})

	bigOffset := testutil.EncodeEntry(format.Entry{Name: "a", Start: 1 << 63})

	tests := []struct {
		name  string
		data  []byte
		want  error
		field string
	}{
		{name: "shorter than footer", data: []byte("0123456789"), want: siva.ErrInvalidBlock, field: "footer"},
		{name: "bad signature", data: rawBlock([]byte("XYZ\x01"), 0), want: siva.ErrInvalidSignature, field: "signature"},
		{name: "bad version", data: rawBlock([]byte("IBA\x02"), 0), want: siva.ErrUnsupportedVersion, field: "version"},
		{name: "too many entries", data: rawBlock(withHeader(entry), 2), want: siva.ErrInvalidBlock, field: "footer entry count"},
		{name: "trailing bytes", data: rawBlock(withHeader(entry, []byte("junk")), 1), want: siva.ErrInvalidBlock, field: "index"},
		{name: "negative name length", data: rawBlock(withHeader(negativeName), 1), want: siva.ErrSizeOverflow, field: "name length"},
		{name: "implausible name length", data: rawBlock(withHeader(hugeName), 1), want: siva.ErrSizeOverflow, field: "name length"},
		{name: "offset above int64", data: rawBlock(withHeader(bigOffset), 1), want: siva.ErrSizeOverflow, field: "offset"},
		{name: "empty name", data: rawBlock(withHeader(testutil.EncodeEntry(format.Entry{})), 1), want: siva.ErrInvalidEntry, field: "name"},
		{name: "index larger than file", data: testutil.EncodeFooter(format.Footer{IndexSize: 10, BlockSize: 34}), want: siva.ErrInvalidBlock, field: "footer index size"},
		{name: "index size above int64", data: testutil.EncodeFooter(format.Footer{IndexSize: 1 << 63}), want: siva.ErrSizeOverflow, field: "footer index size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for _, p := range []siva.Policy{siva.PolicyFiltered, siva.PolicyComplete} {
				idx, err := newReader(t, tt.data).ReadIndex(p)
				require.ErrorIs(t, err, tt.want)
				assert.Nil(t, idx)

				var re *siva.ReadError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, tt.field, re.Field)
				assert.NotEmpty(t, re.Source)
			}
		})
	}
}

func TestReadIndex_Truncated(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		AddBlock(testutil.Text("a", "alpha")).
		AddBlock(testutil.Text("b", "bravo")).
		Bytes()

	for cut := 1; cut < len(data); cut += 7 {
		idx, err := newReader(t, data[:len(data)-cut]).FilteredIndex()
		assert.Error(t, err, "cut %d", cut)
		assert.Nil(t, idx, "cut %d", cut)
	}
}

func TestReadIndex_IOError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	r := siva.NewReader(&testutil.FailingSource{Len: 100, Err: boom})

	_, err := r.FilteredIndex()
	require.ErrorIs(t, err, boom)

	var re *siva.ReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "failing", re.Source)
	assert.Equal(t, int64(76), re.Offset)
	assert.Equal(t, "footer", re.Field)
	assert.Contains(t, err.Error(), "failing")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestReadIndex_UnknownPolicy(t *testing.T) {
	t.Parallel()

	_, err := newReader(t, nil).ReadIndex(siva.Policy(42))
	assert.ErrorIs(t, err, siva.ErrUnknownPolicy)
}

func TestReadIndexContext_Canceled(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().AddBlock(testutil.Text("a", "x")).Bytes()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newReader(t, data).ReadIndexContext(ctx, siva.PolicyFiltered)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadIndex_ChunkSizeIndependent(t *testing.T) {
	t.Parallel()

	b := testutil.NewBuilder()
	for i := range 5 {
		files := make([]testutil.File, 0, 20)
		for j := range 20 {
			files = append(files, testutil.Text(fmt.Sprintf("block%d/file%02d", i, j), fmt.Sprint(i*j)))
		}
		b.AddBlock(files...)
	}
	data := b.Bytes()

	want, err := newReader(t, data).CompleteIndex()
	require.NoError(t, err)
	for _, chunk := range []int{1, 3, 64, 4096} {
		got, err := newReader(t, data, siva.WithChecksumChunkSize(chunk)).CompleteIndex()
		require.NoError(t, err, "chunk %d", chunk)
		assert.Equal(t, names(want.Entries()), names(got.Entries()), "chunk %d", chunk)
	}
}

func TestReadIndex_Concurrent(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		AddBlock(testutil.Text("a", "1"), testutil.Text("b", "2")).
		AddBlock(testutil.Delete("a"), testutil.Text("c", "3")).
		Bytes()
	r := newReader(t, data)

	var wg sync.WaitGroup
	results := make([][]string, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := siva.PolicyFiltered
			if i%2 == 1 {
				p = siva.PolicyComplete
			}
			idx, err := r.ReadIndex(p)
			if assert.NoError(t, err) {
				results[i] = names(idx.Entries())
			}
		}()
	}
	wg.Wait()

	for i, got := range results {
		if i%2 == 0 {
			assert.Equal(t, []string{"b", "c"}, got)
		} else {
			assert.Equal(t, []string{"a", "c", "a", "b"}, got)
		}
	}
}
