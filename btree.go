// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package kvsrv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bpowers/kvsrv/internal/datafile"
	"github.com/bpowers/kvsrv/internal/index"
)

type btreeService struct {
	dataPath string
	opts     options
	data     *datafile.MmapReader
	idx      *index.Ordered
	loaded   bool
}

func newBTreeService(dataPath string, opts options) *btreeService {
	return &btreeService{
		dataPath: dataPath,
		opts:     opts,
	}
}

func (s *btreeService) BuildIndex(ctx context.Context) error {
	if s.idx != nil {
		return errors.New("already built")
	}
	logger := s.opts.logger
	logger.Info("building btree index", "data", s.dataPath)
	start := time.Now()

	r, err := datafile.NewMMapReaderWithPath(s.dataPath, s.opts.layout)
	if err != nil {
		return err
	}
	idx, err := index.BuildOrdered(ctx, r, logger)
	if err != nil {
		_ = r.Close()
		return wrapCorrupt(fmt.Errorf("index.BuildOrdered: %w", err))
	}
	// the mapping is kept for serving values
	s.data = r
	s.idx = idx

	logger.Info("btree index built", "entries", idx.Len(), "elapsed", time.Since(start))
	return nil
}

func (s *btreeService) Load(_ context.Context) error {
	if s.idx == nil {
		return errors.New("btree index must be built before Load")
	}
	if err := s.data.Advise(unix.MADV_RANDOM); err != nil {
		s.opts.logger.Warn("madvise failed, continuing anyway", "err", err)
	}
	s.loaded = true
	return nil
}

func (s *btreeService) Get(key string) ([]byte, error) {
	if !s.loaded {
		return nil, ErrNotLoaded
	}
	k, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	off, ok := s.idx.Lookup(k)
	if !ok {
		return nil, notFound(key)
	}
	v, err := s.data.ValueAt(off)
	if err != nil {
		return nil, wrapCorrupt(err)
	}
	return v, nil
}

func (s *btreeService) HeadKeys(limit int) ([]string, error) {
	if !s.loaded {
		return nil, ErrNotLoaded
	}
	return formatKeys(s.idx.Keys(limit)), nil
}

func (s *btreeService) Len() int {
	if s.idx == nil {
		return 0
	}
	return s.idx.Len()
}

func (s *btreeService) Close() error {
	if s.data == nil {
		return nil
	}
	return s.data.Close()
}
