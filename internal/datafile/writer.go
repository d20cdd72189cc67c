// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bpowers/kvsrv/internal/record"
)

const (
	defaultBufferSize = 4 * 1024 * 1024

	// offsets are stored in 5 bytes in the sorted index
	maxOffset = (1 << 40) - 1
)

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// Writer appends records to a data file.  The sequence field is the
// number of records written before this one.
type Writer struct {
	w        *bufio.Writer
	layout   record.Layout
	line     []byte
	off      int64
	count    uint64
	finished atomic.Bool
}

func NewWriter(f io.Writer, layout record.Layout) (*Writer, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		w:      bufio.NewWriterSize(f, defaultBufferSize),
		layout: layout,
	}, nil
}

// Write appends a record and returns the offset of its key field.
func (w *Writer) Write(key uuid.UUID, payload []byte) (off int64, err error) {
	if w.finished.Load() {
		return 0, errors.New("write after Finish")
	}
	off = w.off
	if off > maxOffset {
		return 0, errors.New("data file has grown too large (>1 TiB)")
	}

	w.line, err = w.layout.Append(w.line[:0], key, w.count, payload)
	if err != nil {
		return 0, fmt.Errorf("record.Append: %w", err)
	}
	n, err := w.w.Write(w.line)
	if err != nil {
		return 0, fmt.Errorf("bufio.Write: %w", err)
	}

	w.off += int64(n)
	w.count++

	return off, nil
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 {
	return w.count
}

// Finish flushes buffered records.  Further writes fail.
func (w *Writer) Finish() error {
	if alreadyFinished := w.finished.Swap(true); alreadyFinished {
		// nothing to do - already cleaned up
		return nil
	}

	defer func() {
		w.w.Reset(nopWriter{})
	}()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	return nil
}
