// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bpowers/kvsrv/internal/mmap"
	"github.com/bpowers/kvsrv/internal/record"
)

const readerBufferSize = 4 * 1024

// MmapReader provides random access to the records of a data file
// through a read-only memory mapping.
type MmapReader struct {
	layout record.Layout
	mmap   *mmap.ReaderAt
}

func NewMMapReaderWithPath(path string, layout record.Layout) (*MmapReader, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap.Open(%s): %w", path, err)
	}
	return &MmapReader{
		layout: layout,
		mmap:   m,
	}, nil
}

// Data returns the mapped bytes of the whole file.
func (r *MmapReader) Data() []byte {
	return r.mmap.Data()
}

// Len returns the size of the data file in bytes.
func (r *MmapReader) Len() int64 {
	return r.mmap.Len()
}

func (r *MmapReader) Layout() record.Layout {
	return r.layout
}

// Advise forwards an madvise(2) hint to the mapping.
func (r *MmapReader) Advise(advice int) error {
	return r.mmap.Advise(advice)
}

// KeyAt decodes the key of the record starting at off.
func (r *MmapReader) KeyAt(off int64) (uuid.UUID, error) {
	return record.DecodeKey(r.mmap.Data(), off)
}

// ValueAt returns the payload of the record starting at off, without copying.
func (r *MmapReader) ValueAt(off int64) ([]byte, error) {
	return r.layout.DecodeValue(r.mmap.Data(), off)
}

func (r *MmapReader) Close() error {
	return r.mmap.Close()
}

// Line is a single record as found in the file, without its newline.
type Line struct {
	Offset int64
	Bytes  []byte
}

// Iter walks the lines of a data file in order.
type Iter struct {
	m   *mmap.ReaderAt
	off int64
	end int64
}

// Iter iterates over every line in the file.
func (r *MmapReader) Iter() *Iter {
	return r.IterRange(Range{Start: 0, End: r.mmap.Len()})
}

// IterRange iterates over the lines starting in [rng.Start, rng.End).
// rng.Start must be the start of a line.
func (r *MmapReader) IterRange(rng Range) *Iter {
	return &Iter{
		m:   r.mmap,
		off: rng.Start,
		end: rng.End,
	}
}

// Next returns the next line.  Record boundaries are found by scanning
// for the newline delimiter, so lines may differ in length.  A final
// line without a trailing newline is still returned.
func (i *Iter) Next() (Line, bool) {
	if i.off >= i.end {
		return Line{}, false
	}

	start := i.off
	nl, err := i.m.FindByte(record.Terminator, start)
	var next int64
	if errors.Is(err, mmap.ErrNotFound) {
		nl = i.m.Len()
		next = nl
	} else if err != nil {
		i.off = i.end
		return Line{}, false
	} else {
		next = nl + 1
	}

	b, err := i.m.Slice(start, nl)
	if err != nil {
		i.off = i.end
		return Line{}, false
	}
	i.off = next

	return Line{Offset: start, Bytes: b}, true
}

// Offset is the position of the line Next will return.
func (i *Iter) Offset() int64 {
	return i.off
}

// Range is a half-open byte range of a data file.
type Range struct {
	Start int64
	End   int64
}

// Chunks splits the file into at most n contiguous ranges, each
// beginning at the start of a line, for concurrent scans.
func (r *MmapReader) Chunks(n int) []Range {
	size := r.mmap.Len()
	if n < 1 {
		n = 1
	}
	if size == 0 {
		return nil
	}

	chunkLen := size / int64(n)
	if chunkLen == 0 {
		chunkLen = 1
	}

	var ranges []Range
	start := int64(0)
	for start < size {
		end := start + chunkLen
		if len(ranges) == n-1 || end >= size {
			end = size
		} else {
			// move the boundary to just past the next newline
			nl, err := r.mmap.FindByte(record.Terminator, end-1)
			if err != nil {
				end = size
			} else {
				end = nl + 1
			}
		}
		ranges = append(ranges, Range{Start: start, End: end})
		start = end
	}
	return ranges
}

// FileReader reads records with buffered positional reads rather than
// a memory mapping.  It is safe for concurrent use.
type FileReader struct {
	layout   record.Layout
	f        *os.File
	size     int64
	pool     sync.Pool
	isClosed atomic.Bool
}

func NewFileReader(path string, layout record.Layout) (*FileReader, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}

	stats, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("f.Stat: %w", err)
	}

	r := &FileReader{
		layout: layout,
		f:      f,
		size:   stats.Size(),
	}
	r.pool.New = func() any {
		return bufio.NewReaderSize(nil, readerBufferSize)
	}
	return r, nil
}

// Len returns the size of the data file in bytes.
func (r *FileReader) Len() int64 {
	return r.size
}

// ReadLineAt returns a copy of the bytes from off up to, but not
// including, the next newline (or the end of the file).
func (r *FileReader) ReadLineAt(off int64) ([]byte, error) {
	if r.isClosed.Load() {
		return nil, os.ErrClosed
	}
	if off < 0 || off > r.size {
		return nil, fmt.Errorf("read at %d of %d bytes: %w", off, r.size, record.ErrOutOfRange)
	}

	br := r.pool.Get().(*bufio.Reader)
	defer r.pool.Put(br)
	br.Reset(io.NewSectionReader(r.f, off, r.size-off))

	line, err := br.ReadBytes(record.Terminator)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("ReadBytes(off: %d): %w", off, err)
	}
	return bytes.TrimSuffix(line, []byte{record.Terminator}), nil
}

// ValueAt returns a copy of the payload of the record starting at off.
// Like record.Layout.DecodeValue, it never reads past the record's
// newline.
func (r *FileReader) ValueAt(off int64) ([]byte, error) {
	valueOff := r.layout.ValueOffset()
	if off+valueOff > r.size {
		return nil, fmt.Errorf("record at %d shorter than %d bytes: %w", off, valueOff, record.ErrMalformedRecord)
	}
	line, err := r.ReadLineAt(off)
	if err != nil {
		return nil, err
	}
	if int64(len(line)) < valueOff {
		return nil, fmt.Errorf("record at %d has only %d bytes: %w", off, len(line), record.ErrMalformedRecord)
	}
	return line[valueOff:], nil
}

func (r *FileReader) Close() error {
	if r.isClosed.Swap(true) {
		return nil
	}
	return r.f.Close()
}
