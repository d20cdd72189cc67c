// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/bpowers/kvsrv/internal/datafile"
	"github.com/bpowers/kvsrv/internal/record"
)

const btreeDegree = 32

type entry struct {
	key uuid.UUID
	off int64
}

func entryLess(a, b entry) bool {
	return record.Compare(a.key, b.key) < 0
}

// Ordered is an in-memory B-tree from key to record offset.
type Ordered struct {
	t *btree.BTreeG[entry]
}

// BuildOrdered scans r once, in file order; later duplicates replace
// earlier ones.
func BuildOrdered(ctx context.Context, r *datafile.MmapReader, logger *slog.Logger) (*Ordered, error) {
	start := time.Now()
	t := btree.NewG[entry](btreeDegree, entryLess)
	n, err := scanKeys(ctx, r, wholeFile(r), func(key uuid.UUID, off int64) {
		t.ReplaceOrInsert(entry{key: key, off: off})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("built btree index", "records", n, "keys", t.Len(), "elapsed", time.Since(start))
	return &Ordered{t: t}, nil
}

// Lookup returns the offset of key's record.
func (o *Ordered) Lookup(key uuid.UUID) (int64, bool) {
	e, ok := o.t.Get(entry{key: key})
	return e.off, ok
}

func (o *Ordered) Len() int {
	return o.t.Len()
}

// Keys returns up to limit keys in ascending order.
func (o *Ordered) Keys(limit int) []uuid.UUID {
	if limit <= 0 {
		return nil
	}
	keys := make([]uuid.UUID, 0, min(limit, o.t.Len()))
	o.t.Ascend(func(e entry) bool {
		keys = append(keys, e.key)
		return len(keys) < limit
	})
	return keys
}
