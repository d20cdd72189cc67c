// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package record defines the layout of a single line of a data file:
//
//	<uuid, 36 bytes> SP <sequence, SequenceWidth bytes> SP <payload> LF
//
// for example
//
//	3b2f6c8e-4e4f-4d6a-9a57-3c1f1fd0a2b1 0000000042 qz9 kd0a...
//
// Keys are 128-bit unsigned integers; the uuid.UUID byte array is
// big-endian, so comparing arrays bytewise compares the integers.
package record

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/bpowers/kvsrv/internal/unsafestring"
)

const (
	// KeyWidth is the length of the canonical textual form of a UUID.
	KeyWidth = 36
	// DefaultSequenceWidth matches the generator's %010d counter.
	DefaultSequenceWidth = 10

	Separator  = ' '
	Terminator = '\n'
)

var (
	ErrMalformedKey    = errors.New("malformed key")
	ErrMalformedRecord = errors.New("malformed record")
	ErrOutOfRange      = errors.New("offset out of range")
)

// DefaultLayout is the layout produced by the reference generator.
var DefaultLayout = Layout{SequenceWidth: DefaultSequenceWidth}

// Layout describes the configurable widths in a record.
type Layout struct {
	SequenceWidth int
}

// Validate reports whether the layout is usable.
func (l Layout) Validate() error {
	if l.SequenceWidth <= 0 {
		return fmt.Errorf("sequence width must be positive (got %d)", l.SequenceWidth)
	}
	return nil
}

// ValueOffset is the distance from the start of a record to the first
// byte of its payload.
func (l Layout) ValueOffset() int64 {
	return KeyWidth + 1 + int64(l.SequenceWidth) + 1
}

// DecodeValue returns the payload of the record starting at off.  The
// result aliases data.  A record without a trailing newline (the last
// line of a file) ends at len(data).
func (l Layout) DecodeValue(data []byte, off int64) ([]byte, error) {
	if off < 0 || off >= int64(len(data)) {
		return nil, fmt.Errorf("record at %d of %d bytes: %w", off, len(data), ErrOutOfRange)
	}
	start := off + l.ValueOffset()
	if start > int64(len(data)) {
		return nil, fmt.Errorf("record at %d shorter than %d bytes: %w", off, l.ValueOffset(), ErrMalformedRecord)
	}
	// a newline before the payload means the line is too short
	if i := bytes.IndexByte(data[off:start], Terminator); i >= 0 {
		return nil, fmt.Errorf("record at %d has only %d bytes: %w", off, i, ErrMalformedRecord)
	}
	rest := data[start:]
	if end := bytes.IndexByte(rest, Terminator); end >= 0 {
		rest = rest[:end]
	}
	return rest[:len(rest):len(rest)], nil
}

// ParseLine returns the key of line, a record without its trailing
// newline, after checking that the separators and sequence digits sit
// where l says they do.
func (l Layout) ParseLine(line []byte) (uuid.UUID, error) {
	key, err := ParseKeyBytes(line[:min(len(line), KeyWidth)])
	if err != nil {
		return uuid.Nil, err
	}
	valueOff := int(l.ValueOffset())
	if len(line) < valueOff {
		return uuid.Nil, fmt.Errorf("record of %d bytes shorter than %d: %w", len(line), valueOff, ErrMalformedRecord)
	}
	if line[KeyWidth] != Separator {
		return uuid.Nil, fmt.Errorf("no separator after key: %w", ErrMalformedRecord)
	}
	if line[valueOff-1] != Separator {
		return uuid.Nil, fmt.Errorf("no separator after %d-digit sequence: %w", l.SequenceWidth, ErrMalformedRecord)
	}
	for _, c := range line[KeyWidth+1 : valueOff-1] {
		if c < '0' || c > '9' {
			return uuid.Nil, fmt.Errorf("sequence %q isn't %d digits: %w", line[KeyWidth+1:valueOff-1], l.SequenceWidth, ErrMalformedRecord)
		}
	}
	return key, nil
}

// Append encodes a record, including its trailing newline, onto dst.
func (l Layout) Append(dst []byte, key uuid.UUID, seq uint64, payload []byte) ([]byte, error) {
	var seqBuf [20]byte
	digits := strconv.AppendUint(seqBuf[:0], seq, 10)
	if len(digits) > l.SequenceWidth {
		return dst, fmt.Errorf("sequence %d wider than %d digits", seq, l.SequenceWidth)
	}
	if bytes.IndexByte(payload, Terminator) >= 0 {
		return dst, fmt.Errorf("payload contains a newline: %w", ErrMalformedRecord)
	}

	dst = append(dst, key.String()...)
	dst = append(dst, Separator)
	for i := len(digits); i < l.SequenceWidth; i++ {
		dst = append(dst, '0')
	}
	dst = append(dst, digits...)
	dst = append(dst, Separator)
	dst = append(dst, payload...)
	dst = append(dst, Terminator)
	return dst, nil
}

// ParseKey parses the canonical 36-character form of a key.  Hex digits
// may be upper or lower case; the braced, urn: and unhyphenated forms
// uuid.Parse also accepts are rejected.
func ParseKey(s string) (uuid.UUID, error) {
	return ParseKeyBytes(unsafestring.ToBytes(s))
}

// ParseKeyBytes is like ParseKey, but for a byte slice.
func ParseKeyBytes(b []byte) (uuid.UUID, error) {
	if len(b) != KeyWidth {
		return uuid.Nil, fmt.Errorf("key of length %d: %w", len(b), ErrMalformedKey)
	}
	id, err := uuid.ParseBytes(b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	return id, nil
}

// DecodeKey reads the key field of the record starting at off.
func DecodeKey(data []byte, off int64) (uuid.UUID, error) {
	if off < 0 || off+KeyWidth > int64(len(data)) {
		return uuid.Nil, fmt.Errorf("key at %d of %d bytes: %w", off, len(data), ErrOutOfRange)
	}
	id, err := ParseKeyBytes(data[off : off+KeyWidth])
	if err != nil {
		return uuid.Nil, fmt.Errorf("key at %d: %w", off, err)
	}
	return id, nil
}

// Compare compares a and b as unsigned 128-bit integers.
func Compare(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// FormatKey returns the canonical lower-case form of id.
func FormatKey(id uuid.UUID) string {
	return id.String()
}
