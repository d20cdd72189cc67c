// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bpowers/kvsrv/internal/datafile"
)

// how many lines to scan between context checks
const cancelCheckInterval = 64 * 1024

// ErrCorrupt is returned when an index (or the data file it points
// into) is structurally invalid.
var ErrCorrupt = errors.New("index corrupt")

// scanKeys calls fn with the key and offset of every line in rng, in
// file order.  It returns the number of lines scanned.
func scanKeys(ctx context.Context, r *datafile.MmapReader, rng datafile.Range, fn func(key uuid.UUID, off int64)) (int64, error) {
	var n int64
	layout := r.Layout()
	it := r.IterRange(rng)
	for line, ok := it.Next(); ok; line, ok = it.Next() {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		key, err := layout.ParseLine(line.Bytes)
		if err != nil {
			return n, fmt.Errorf("record at offset %d: %w: %w", line.Offset, ErrCorrupt, err)
		}
		fn(key, line.Offset)
		n++
	}
	return n, nil
}

func wholeFile(r *datafile.MmapReader) datafile.Range {
	return datafile.Range{Start: 0, End: r.Len()}
}
