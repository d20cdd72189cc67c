// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgryski/go-farm"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/bpowers/kvsrv/internal/datafile"
	"github.com/bpowers/kvsrv/internal/record"
)

// Hashed is an in-memory map from key to record offset.  It is never
// persisted; build it on every process start.
type Hashed struct {
	m *xsync.MapOf[uuid.UUID, int64]
}

func hashKey(k uuid.UUID, seed uint64) uint64 {
	return farm.Hash64WithSeed(k[:], seed)
}

// BuildHashed scans r with up to workers goroutines, each covering a
// newline-aligned chunk of the file.  If a key occurs more than once
// the record latest in the file wins, regardless of worker count.
func BuildHashed(ctx context.Context, r *datafile.MmapReader, workers int, logger *slog.Logger) (*Hashed, error) {
	start := time.Now()
	chunks := r.Chunks(workers)

	m := xsync.NewMapOfWithHasher[uuid.UUID, int64](hashKey, xsync.WithPresize(estimateRecords(r)))
	var total atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			n, err := scanKeys(ctx, r, chunk, func(key uuid.UUID, off int64) {
				m.Compute(key, func(prev int64, loaded bool) (int64, bool) {
					if loaded && prev > off {
						return prev, false
					}
					return off, false
				})
			})
			total.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	duplicates := total.Load() - int64(m.Size())
	logger.Info("built hash index",
		"records", total.Load(),
		"keys", m.Size(),
		"duplicates", duplicates,
		"workers", len(chunks),
		"elapsed", time.Since(start))

	return &Hashed{m: m}, nil
}

// estimateRecords guesses the record count from the first line,
// capped at what the file could hold if every line were a bare key.
func estimateRecords(r *datafile.MmapReader) int {
	line, ok := r.Iter().Next()
	if !ok {
		return 0
	}
	lineLen := max(int64(len(line.Bytes)), record.KeyWidth) + 1
	return int(r.Len() / lineLen)
}

// Lookup returns the offset of key's record.
func (h *Hashed) Lookup(key uuid.UUID) (int64, bool) {
	return h.m.Load(key)
}

func (h *Hashed) Len() int {
	return h.m.Size()
}

// Keys returns up to limit keys in map iteration order, which is
// unspecified.
func (h *Hashed) Keys(limit int) []uuid.UUID {
	if limit <= 0 {
		return nil
	}
	keys := make([]uuid.UUID, 0, min(limit, h.m.Size()))
	h.m.Range(func(k uuid.UUID, _ int64) bool {
		keys = append(keys, k)
		return len(keys) < limit
	})
	return keys
}
