// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ondisk

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const (
	// Uint40Width is the on-disk width of a single element.
	Uint40Width = 5
	// MaxUint40 bounds addressable data files to 1 TiB.
	MaxUint40 = (1 << 40) - 1

	defaultBufferSize = 4 * 1024 * 1024
)

var ErrBadLength = errors.New("length is not a multiple of the element width")

// Uint40Array is a read-only view into a byte array as if it was a
// [][5]byte of big-endian unsigned integers.
type Uint40Array []byte

// NewUint40Array wraps b, which is usually an mmap'd region.
func NewUint40Array(b []byte) (Uint40Array, error) {
	if len(b)%Uint40Width != 0 {
		return nil, fmt.Errorf("%d bytes: %w", len(b), ErrBadLength)
	}
	return Uint40Array(b), nil
}

// Len returns the number of elements.
func (a Uint40Array) Len() int {
	return len(a) / Uint40Width
}

// Get returns the i-th element; i must be in [0, Len()).
func (a Uint40Array) Get(i int) int64 {
	b := a[i*Uint40Width : i*Uint40Width+Uint40Width]
	// bounds check elimination
	_ = b[4]
	return int64(b[0])<<32 | int64(b[1])<<24 | int64(b[2])<<16 | int64(b[3])<<8 | int64(b[4])
}

// PutUint40 encodes v into the first 5 bytes of b.
func PutUint40(b []byte, v int64) {
	_ = b[4]
	b[0] = byte(v >> 32)
	b[1] = byte(v >> 24)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 8)
	b[4] = byte(v)
}

// Uint40Writer writes a sequence of 5-byte integers through a buffer.
type Uint40Writer struct {
	w     *bufio.Writer
	count int64
}

func NewUint40Writer(w io.Writer) *Uint40Writer {
	return &Uint40Writer{
		w: bufio.NewWriterSize(w, defaultBufferSize),
	}
}

// Write appends v, which must be in [0, MaxUint40].
func (w *Uint40Writer) Write(v int64) error {
	if v < 0 || v > MaxUint40 {
		return fmt.Errorf("value %d doesn't fit in 40 bits", v)
	}
	var buf [Uint40Width]byte
	PutUint40(buf[:], v)
	if _, err := w.w.Write(buf[:]); err != nil {
		return fmt.Errorf("bufio.Write: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of elements written so far.
func (w *Uint40Writer) Count() int64 {
	return w.count
}

// Flush writes any buffered elements to the underlying writer.
func (w *Uint40Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	return nil
}
