// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/kvsrv/internal/datafile"
	"github.com/bpowers/kvsrv/internal/ondisk"
	"github.com/bpowers/kvsrv/internal/record"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	maxKey  = uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
)

type testEntry struct {
	Key   uuid.UUID
	Value string
}

func randomEntries(n int, seed int64) []testEntry {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]testEntry, 0, n)
	for i := 0; i < n; i++ {
		key, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			panic(err)
		}
		entries = append(entries, testEntry{
			Key:   key,
			Value: fmt.Sprintf("value-%d-%s", i, bytes.Repeat([]byte{'v'}, i%5)),
		})
	}
	return entries
}

func writeEntries(t testing.TB, entries []testEntry) string {
	var buf bytes.Buffer
	w, err := datafile.NewWriter(&buf, record.DefaultLayout)
	require.NoError(t, err)
	for _, e := range entries {
		_, err := w.Write(e.Key, []byte(e.Value))
		require.NoError(t, err)
	}
	require.NoError(t, w.Finish())
	return writeRaw(t, buf.String())
}

func writeRaw(t testing.TB, contents string) string {
	path := filepath.Join(t.TempDir(), "test.data")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func openData(t testing.TB, path string) *datafile.MmapReader {
	r, err := datafile.NewMMapReaderWithPath(path, record.DefaultLayout)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
	})
	return r
}

func buildSortedIndex(t testing.TB, r *datafile.MmapReader) *Sorted {
	offsets, err := BuildSorted(context.Background(), r, discard)
	require.NoError(t, err)
	indexPath := filepath.Join(t.TempDir(), "test.index")
	require.NoError(t, WriteSorted(indexPath, offsets))

	s, err := OpenSorted(indexPath, r.Data())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSorted(t *testing.T) {
	entries := randomEntries(2000, 1)
	r := openData(t, writeEntries(t, entries))
	s := buildSortedIndex(t, r)

	require.Equal(t, len(entries), s.Len())
	require.NoError(t, s.Verify(context.Background()))

	// keys at successive offsets are non-decreasing
	for i := 1; i < s.Len(); i++ {
		prev, err := s.KeyAt(i - 1)
		require.NoError(t, err)
		curr, err := s.KeyAt(i)
		require.NoError(t, err)
		require.LessOrEqual(t, record.Compare(prev, curr), 0)
	}

	for _, e := range entries {
		off, ok, err := s.Search(e.Key)
		require.NoError(t, err)
		require.True(t, ok)
		v, err := r.ValueAt(off)
		require.NoError(t, err)
		require.Equal(t, e.Value, string(v))
	}

	for _, negative := range randomEntries(100, 2) {
		_, ok, err := s.Search(negative.Key)
		require.NoError(t, err)
		require.False(t, ok)
	}
	// below and above every key
	for _, k := range []uuid.UUID{uuid.Nil, maxKey} {
		_, ok, err := s.Search(k)
		require.NoError(t, err)
		require.False(t, ok)
	}

	keys, err := s.Keys(10)
	require.NoError(t, err)
	require.Len(t, keys, 10)
	first, err := s.KeyAt(0)
	require.NoError(t, err)
	require.Equal(t, first, keys[0])

	keys, err = s.Keys(len(entries) + 10)
	require.NoError(t, err)
	require.Len(t, keys, len(entries))
	keys, err = s.Keys(0)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestSortedExample(t *testing.T) {
	// written out of order on purpose
	contents := "" +
		"00000000-0000-0000-0000-000000000003 0000000000 ccc\n" +
		"00000000-0000-0000-0000-000000000001 0000000001 aaa\n" +
		"00000000-0000-0000-0000-000000000002 0000000002 bbb\n"
	r := openData(t, writeRaw(t, contents))

	offsets, err := BuildSorted(context.Background(), r, discard)
	require.NoError(t, err)
	require.Equal(t, []int64{52, 104, 0}, offsets)

	s := buildSortedIndex(t, r)
	off, ok, err := s.Search(uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(104), off)

	_, ok, err = s.Search(uuid.MustParse("00000000-0000-0000-0000-000000000099"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteSortedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "format.index")
	require.NoError(t, WriteSorted(path, []int64{0x0102030405, 0, 7}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x01, 0x02, 0x03, 0x04, 0x05,
		0, 0, 0, 0, 0,
		0, 0, 0, 0, 7,
	}, b)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0444), fi.Mode().Perm())

	// offsets that don't fit leave nothing behind
	tooBig := filepath.Join(t.TempDir(), "too-big.index")
	require.Error(t, WriteSorted(tooBig, []int64{ondisk.MaxUint40 + 1}))
	_, err = os.Stat(tooBig)
	require.ErrorIs(t, err, os.ErrNotExist)
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(tooBig), "kvsrv-index.*"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestSortedExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exists.index")

	ok, err := SortedExists(path)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, WriteSorted(path, nil))
	ok, err = SortedExists(path)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = SortedExists(dir)
	require.Error(t, err)
}

func TestOpenSortedCorrupt(t *testing.T) {
	contents := "" +
		"00000000-0000-0000-0000-000000000001 0000000000 aaa\n" +
		"00000000-0000-0000-0000-000000000002 0000000001 bbb\n"
	r := openData(t, writeRaw(t, contents))
	dir := t.TempDir()

	truncated := filepath.Join(dir, "truncated.index")
	require.NoError(t, os.WriteFile(truncated, make([]byte, 7), 0644))
	_, err := OpenSorted(truncated, r.Data())
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = OpenSorted(filepath.Join(dir, "missing.index"), r.Data())
	require.ErrorIs(t, err, os.ErrNotExist)

	for name, offsets := range map[string][]int64{
		"out-of-range": {0, 5000},
		"misaligned":   {0, 10},
		"unsorted":     {52, 0},
	} {
		path := filepath.Join(dir, name+".index")
		require.NoError(t, WriteSorted(path, offsets))
		s, err := OpenSorted(path, r.Data())
		require.NoError(t, err)
		err = s.Verify(context.Background())
		assert.ErrorIs(t, err, ErrCorrupt, name)
		require.NoError(t, s.Close())
	}

	// searching a corrupt index reports it rather than guessing
	path := filepath.Join(dir, "search.index")
	require.NoError(t, WriteSorted(path, []int64{0, 10}))
	s, err := OpenSorted(path, r.Data())
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()
	_, _, err = s.Search(maxKey)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestBuildMalformed(t *testing.T) {
	contents := "" +
		"00000000-0000-0000-0000-000000000001 0000000000 aaa\n" +
		"not-a-uuid 0000000001 bbb\n"
	r := openData(t, writeRaw(t, contents))
	ctx := context.Background()

	_, err := BuildSorted(ctx, r, discard)
	require.ErrorIs(t, err, ErrCorrupt)
	require.ErrorIs(t, err, record.ErrMalformedKey)
	require.Contains(t, err.Error(), "offset 52")

	_, err = BuildHashed(ctx, r, 2, discard)
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = BuildOrdered(ctx, r, discard)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestBuildShortRecords(t *testing.T) {
	ctx := context.Background()
	for name, contents := range map[string]string{
		"missing payload": "" +
			"00000000-0000-0000-0000-000000000001\n" +
			"00000000-0000-0000-0000-000000000002 0000000001 bbb\n",
		"short sequence": "" +
			"00000000-0000-0000-0000-000000000001 0000000000 aaa\n" +
			"00000000-0000-0000-0000-000000000002 01 bbb\n",
		"overlong sequence": "" +
			"00000000-0000-0000-0000-000000000001 000000000001 aaa\n",
	} {
		r := openData(t, writeRaw(t, contents))

		_, err := BuildSorted(ctx, r, discard)
		require.ErrorIs(t, err, ErrCorrupt, name)
		require.ErrorIs(t, err, record.ErrMalformedRecord, name)

		_, err = BuildHashed(ctx, r, 2, discard)
		require.ErrorIs(t, err, ErrCorrupt, name)

		_, err = BuildOrdered(ctx, r, discard)
		require.ErrorIs(t, err, ErrCorrupt, name)
	}
}

func TestEstimateRecords(t *testing.T) {
	// an empty first line mustn't presize the map for one entry per byte
	contents := "\n" + strings.Repeat("00000000-0000-0000-0000-000000000001 0000000000 aaa\n", 100)
	r := openData(t, writeRaw(t, contents))
	require.LessOrEqual(t, estimateRecords(r), int(r.Len())/(record.KeyWidth+1))

	r = openData(t, writeEntries(t, randomEntries(100, 4)))
	require.Positive(t, estimateRecords(r))
}

func TestBuildCanceled(t *testing.T) {
	r := openData(t, writeEntries(t, randomEntries(10, 3)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BuildSorted(ctx, r, discard)
	require.ErrorIs(t, err, context.Canceled)
	_, err = BuildHashed(ctx, r, 4, discard)
	require.ErrorIs(t, err, context.Canceled)
	_, err = BuildOrdered(ctx, r, discard)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHashed(t *testing.T) {
	entries := randomEntries(3000, 4)
	r := openData(t, writeEntries(t, entries))

	for _, workers := range []int{1, 3, 8} {
		h, err := BuildHashed(context.Background(), r, workers, discard)
		require.NoError(t, err)
		require.Equal(t, len(entries), h.Len())

		for _, e := range entries {
			off, ok := h.Lookup(e.Key)
			require.True(t, ok)
			v, err := r.ValueAt(off)
			require.NoError(t, err)
			require.Equal(t, e.Value, string(v))
		}
		for _, negative := range randomEntries(100, 5) {
			_, ok := h.Lookup(negative.Key)
			require.False(t, ok)
		}

		require.Len(t, h.Keys(25), 25)
		require.Len(t, h.Keys(len(entries)*2), len(entries))
		require.Empty(t, h.Keys(0))
	}
}

func TestOrdered(t *testing.T) {
	entries := randomEntries(3000, 6)
	r := openData(t, writeEntries(t, entries))

	o, err := BuildOrdered(context.Background(), r, discard)
	require.NoError(t, err)
	require.Equal(t, len(entries), o.Len())

	for _, e := range entries {
		off, ok := o.Lookup(e.Key)
		require.True(t, ok)
		v, err := r.ValueAt(off)
		require.NoError(t, err)
		require.Equal(t, e.Value, string(v))
	}
	_, ok := o.Lookup(maxKey)
	require.False(t, ok)

	keys := o.Keys(100)
	require.Len(t, keys, 100)
	for i := 1; i < len(keys); i++ {
		require.Equal(t, -1, record.Compare(keys[i-1], keys[i]))
	}
	require.Empty(t, o.Keys(-1))
}

func TestDuplicateKeysLastWriterWins(t *testing.T) {
	dup := uuid.MustParse("00000000-0000-0000-0000-00000000000d")
	var entries []testEntry
	for i := 0; i < 500; i++ {
		if i%100 == 0 {
			entries = append(entries, testEntry{Key: dup, Value: fmt.Sprintf("dup-%d", i)})
			continue
		}
		entries = append(entries, randomEntries(1, int64(1000+i))...)
	}
	r := openData(t, writeEntries(t, entries))
	ctx := context.Background()

	for _, workers := range []int{1, 2, 5, 16} {
		h, err := BuildHashed(ctx, r, workers, discard)
		require.NoError(t, err)
		require.Equal(t, len(entries)-4, h.Len())
		off, ok := h.Lookup(dup)
		require.True(t, ok)
		v, err := r.ValueAt(off)
		require.NoError(t, err)
		require.Equal(t, "dup-400", string(v), "workers=%d", workers)
	}

	o, err := BuildOrdered(ctx, r, discard)
	require.NoError(t, err)
	off, ok := o.Lookup(dup)
	require.True(t, ok)
	v, err := r.ValueAt(off)
	require.NoError(t, err)
	require.Equal(t, "dup-400", string(v))
}

func TestEmptyDataFile(t *testing.T) {
	r := openData(t, writeRaw(t, ""))
	ctx := context.Background()

	s := buildSortedIndex(t, r)
	require.Zero(t, s.Len())
	require.NoError(t, s.Verify(ctx))
	_, ok, err := s.Search(uuid.Nil)
	require.NoError(t, err)
	require.False(t, ok)

	h, err := BuildHashed(ctx, r, 4, discard)
	require.NoError(t, err)
	require.Zero(t, h.Len())

	o, err := BuildOrdered(ctx, r, discard)
	require.NoError(t, err)
	require.Zero(t, o.Len())
}

func BenchmarkSortedSearch(b *testing.B) {
	entries := randomEntries(100000, 7)
	r := openData(b, writeEntries(b, entries))
	s := buildSortedIndex(b, r)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := entries[i%len(entries)]
		if _, ok, err := s.Search(e.Key); !ok || err != nil {
			b.Fatal("bad data or lookup")
		}
	}
}

func BenchmarkHashedLookup(b *testing.B) {
	entries := randomEntries(100000, 7)
	r := openData(b, writeEntries(b, entries))
	h, err := BuildHashed(context.Background(), r, 4, discard)
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := entries[i%len(entries)]
		if _, ok := h.Lookup(e.Key); !ok {
			b.Fatal("bad data or lookup")
		}
	}
}
