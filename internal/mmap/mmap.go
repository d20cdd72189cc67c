// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap provides a read-only, zero-copy view of a file backed
// by the OS page cache.
//
// Slices handed out by a ReaderAt alias the mapping itself: they are
// valid until Close is called and must never be written to.
package mmap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound is returned by FindByte when the needle doesn't
	// occur between the starting offset and the end of the file.
	ErrNotFound = errors.New("byte not found")
	// ErrOutOfRange is returned for reads outside of [0, Len()].
	ErrOutOfRange = errors.New("range out of bounds")

	errClosed = errors.New("mmap: closed")
)

// ReaderAt is a read-only memory-mapped file.
type ReaderAt struct {
	data   []byte
	closed atomic.Bool
}

// Open memory-maps the file at path for reading.  Empty files are
// valid and produce an empty view (mmap(2) rejects zero-length maps).
func Open(path string) (*ReaderAt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		// the mapping outlives the descriptor
		_ = f.Close()
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}

	size := fi.Size()
	if size < 0 {
		return nil, fmt.Errorf("mmap: file %q has negative size", path)
	}
	if size > math.MaxInt {
		return nil, fmt.Errorf("mmap: file %q is too large (%d bytes)", path, size)
	}

	r := &ReaderAt{}
	if size == 0 {
		return r, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%s): %w", path, err)
	}
	r.data = data
	runtime.SetFinalizer(r, (*ReaderAt).Close)
	return r, nil
}

// Len returns the length of the underlying file in bytes.
func (r *ReaderAt) Len() int64 {
	return int64(len(r.data))
}

// Data returns the whole mapping.
func (r *ReaderAt) Data() []byte {
	return r.data
}

// Slice returns the bytes in [start, end) without copying.
func (r *ReaderAt) Slice(start, end int64) ([]byte, error) {
	if start < 0 || end < start || end > int64(len(r.data)) {
		return nil, fmt.Errorf("slice [%d, %d) of %d bytes: %w", start, end, len(r.data), ErrOutOfRange)
	}
	return r.data[start:end], nil
}

// FindByte returns the offset of the first c at or after from.
func (r *ReaderAt) FindByte(c byte, from int64) (int64, error) {
	if from < 0 || from > int64(len(r.data)) {
		return 0, fmt.Errorf("find from %d of %d bytes: %w", from, len(r.data), ErrOutOfRange)
	}
	i := bytes.IndexByte(r.data[from:], c)
	if i < 0 {
		return 0, ErrNotFound
	}
	return from + int64(i), nil
}

// ReadAt implements io.ReaderAt, copying out of the mapping.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if r.closed.Load() {
		return 0, errClosed
	}
	if off < 0 || off > int64(len(r.data)) {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Advise passes an madvise(2) hint (e.g. unix.MADV_RANDOM) for the
// whole mapping.
func (r *ReaderAt) Advise(advice int) error {
	if len(r.data) == 0 {
		return nil
	}
	if err := unix.Madvise(r.data, advice); err != nil {
		return fmt.Errorf("madvise: %w", err)
	}
	return nil
}

// Close unmaps the file.  Calling Close more than once is a no-op.
func (r *ReaderAt) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	runtime.SetFinalizer(r, nil)
	return unix.Munmap(data)
}
