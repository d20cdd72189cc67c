// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bpowers/kvsrv/internal/datafile"
	"github.com/bpowers/kvsrv/internal/mmap"
	"github.com/bpowers/kvsrv/internal/ondisk"
	"github.com/bpowers/kvsrv/internal/record"
)

// ScanOffsets returns the offset of every record in r, in file order.
// Each key is parsed once so malformed records fail the build here
// rather than inside the sort.
func ScanOffsets(ctx context.Context, r *datafile.MmapReader) ([]int64, error) {
	var offsets []int64
	_, err := scanKeys(ctx, r, wholeFile(r), func(_ uuid.UUID, off int64) {
		offsets = append(offsets, off)
	})
	if err != nil {
		return nil, err
	}
	return offsets, nil
}

// SortOffsets orders offsets by the key of the record each points at.
// Only the key field is decoded for every comparison.
func SortOffsets(data []byte, offsets []int64) {
	slices.SortFunc(offsets, func(a, b int64) int {
		return record.Compare(mustDecodeKey(data, a), mustDecodeKey(data, b))
	})
}

func mustDecodeKey(data []byte, off int64) uuid.UUID {
	k, err := record.DecodeKey(data, off)
	if err != nil {
		panic(fmt.Errorf("invariant broken: key at %d was valid when scanned: %w", off, err))
	}
	return k
}

// BuildSorted scans r and returns its record offsets in key order.
func BuildSorted(ctx context.Context, r *datafile.MmapReader, logger *slog.Logger) ([]int64, error) {
	start := time.Now()
	offsets, err := ScanOffsets(ctx, r)
	if err != nil {
		return nil, err
	}
	logger.Info("scanned data file", "records", len(offsets), "bytes", r.Len(), "elapsed", time.Since(start))

	// sorting touches records in random order
	if err := r.Advise(unix.MADV_RANDOM); err != nil {
		logger.Warn("madvise failed, continuing anyway", "err", err)
	}

	sortStart := time.Now()
	SortOffsets(r.Data(), offsets)
	logger.Info("sorted offsets", "records", len(offsets), "elapsed", time.Since(sortStart))
	return offsets, nil
}

// SortedExists reports whether an index file is already present at path.
func SortedExists(path string) (bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("os.Stat(%s): %w", path, err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("index path %s is a directory", path)
	}
	return true, nil
}

// WriteSorted persists offsets as 5-byte big-endian integers.  The file
// is written next to path and renamed into place, so readers never see
// a partial index.
func WriteSorted(path string, offsets []int64) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "kvsrv-index.*.tmp")
	if err != nil {
		return fmt.Errorf("os.CreateTemp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = writeOffsets(f, offsets); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("f.Sync: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("f.Close: %w", err)
	}
	// make the file read-only
	if err = os.Chmod(f.Name(), 0444); err != nil {
		return fmt.Errorf("os.Chmod(0444): %w", err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}

func writeOffsets(w io.Writer, offsets []int64) error {
	ow := ondisk.NewUint40Writer(w)
	for _, off := range offsets {
		if err := ow.Write(off); err != nil {
			return err
		}
	}
	return ow.Flush()
}

// Sorted is a persisted, key-ordered table of record offsets, backed
// by an mmap'd index file and searched against the mmap'd data file.
type Sorted struct {
	m       *mmap.ReaderAt
	offsets ondisk.Uint40Array
	data    []byte
}

// OpenSorted maps the index at path.  data must be the contents of the
// data file the index was built from.
func OpenSorted(path string, data []byte) (*Sorted, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap.Open(%s): %w", path, err)
	}
	offsets, err := ondisk.NewUint40Array(m.Data())
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("index %s: %w: %w", path, ErrCorrupt, err)
	}
	if err := m.Advise(unix.MADV_RANDOM); err != nil {
		_ = m.Close()
		return nil, err
	}
	return &Sorted{
		m:       m,
		offsets: offsets,
		data:    data,
	}, nil
}

func (s *Sorted) Len() int {
	return s.offsets.Len()
}

// Offset returns the i-th offset in key order.
func (s *Sorted) Offset(i int) int64 {
	return s.offsets.Get(i)
}

// KeyAt decodes the key of the i-th record in key order.
func (s *Sorted) KeyAt(i int) (uuid.UUID, error) {
	off := s.offsets.Get(i)
	k, err := record.DecodeKey(s.data, off)
	if err != nil {
		return uuid.Nil, fmt.Errorf("index entry %d: %w: %w", i, ErrCorrupt, err)
	}
	return k, nil
}

// Search binary searches for key, returning the offset of its record.
func (s *Sorted) Search(key uuid.UUID) (off int64, found bool, err error) {
	n := s.offsets.Len()
	i := sort.Search(n, func(i int) bool {
		if err != nil {
			return true
		}
		var k uuid.UUID
		k, err = s.KeyAt(i)
		return err != nil || record.Compare(k, key) >= 0
	})
	if err != nil {
		return 0, false, err
	}
	if i >= n {
		return 0, false, nil
	}
	k, err := s.KeyAt(i)
	if err != nil {
		return 0, false, err
	}
	if k != key {
		return 0, false, nil
	}
	return s.offsets.Get(i), true, nil
}

// Keys returns up to limit keys in ascending order.
func (s *Sorted) Keys(limit int) ([]uuid.UUID, error) {
	n := min(limit, s.offsets.Len())
	if n <= 0 {
		return nil, nil
	}
	keys := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		k, err := s.KeyAt(i)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Verify checks that every offset is the start of a record in the data
// file and that keys are non-decreasing.  It reads every record's key,
// so it is proportional to the size of the index.
func (s *Sorted) Verify(ctx context.Context) error {
	dataLen := int64(len(s.data))
	var prev uuid.UUID
	for i := 0; i < s.offsets.Len(); i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		off := s.offsets.Get(i)
		if off >= dataLen {
			return fmt.Errorf("index entry %d: offset %d beyond data file (%d bytes): %w", i, off, dataLen, ErrCorrupt)
		}
		if off > 0 && s.data[off-1] != record.Terminator {
			return fmt.Errorf("index entry %d: offset %d is not the start of a record: %w", i, off, ErrCorrupt)
		}
		k, err := s.KeyAt(i)
		if err != nil {
			return err
		}
		if i > 0 && record.Compare(prev, k) > 0 {
			return fmt.Errorf("index entry %d: key %s sorts before %s: %w", i, k, prev, ErrCorrupt)
		}
		prev = k
	}
	return nil
}

func (s *Sorted) Close() error {
	return s.m.Close()
}
