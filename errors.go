// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package kvsrv

import (
	"errors"
	"fmt"

	"github.com/bpowers/kvsrv/internal/index"
	"github.com/bpowers/kvsrv/internal/record"
)

var (
	// ErrInvalidKey means the key isn't the canonical 36-character
	// textual form of a UUID.  It is a client error, distinct from
	// ErrNotFound.
	ErrInvalidKey = errors.New("invalid key")
	// ErrNotFound means a well-formed key isn't in the index.
	ErrNotFound = errors.New("not found")
	// ErrIndexCorrupt means the index or data file is structurally
	// invalid, or they don't belong together.  It is fatal at startup.
	ErrIndexCorrupt = errors.New("index corrupt")
	// ErrNotLoaded is returned by lookups before Load has succeeded.
	ErrNotLoaded = errors.New("index not loaded")
)

// wrapCorrupt tags structural errors from the internal packages with
// ErrIndexCorrupt; everything else (I/O errors, cancellation) is
// returned as-is.
func wrapCorrupt(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, index.ErrCorrupt) ||
		errors.Is(err, record.ErrMalformedRecord) ||
		errors.Is(err, record.ErrMalformedKey) ||
		errors.Is(err, record.ErrOutOfRange) {
		return fmt.Errorf("%w: %w", ErrIndexCorrupt, err)
	}
	return err
}
