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

type sortedService struct {
	dataPath string
	opts     options
	data     *datafile.MmapReader
	idx      *index.Sorted
}

func newSortedService(dataPath string, opts options) *sortedService {
	return &sortedService{
		dataPath: dataPath,
		opts:     opts,
	}
}

func (s *sortedService) BuildIndex(ctx context.Context) error {
	logger := s.opts.logger
	indexPath := s.opts.indexPath

	// an existing index is trusted as-is: if the data file is
	// regenerated, the index file must be removed by hand.
	if exists, err := index.SortedExists(indexPath); err != nil {
		return err
	} else if exists {
		logger.Info("sorted index exists, skipping build", "index", indexPath)
		return nil
	}

	logger.Info("building sorted index", "data", s.dataPath, "index", indexPath)
	start := time.Now()

	r, err := datafile.NewMMapReaderWithPath(s.dataPath, s.opts.layout)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()

	offsets, err := index.BuildSorted(ctx, r, logger)
	if err != nil {
		return wrapCorrupt(fmt.Errorf("index.BuildSorted: %w", err))
	}
	if err := index.WriteSorted(indexPath, offsets); err != nil {
		return fmt.Errorf("index.WriteSorted: %w", err)
	}

	logger.Info("sorted index built", "entries", len(offsets), "elapsed", time.Since(start))
	return nil
}

func (s *sortedService) Load(ctx context.Context) error {
	if s.idx != nil {
		return errors.New("already loaded")
	}
	logger := s.opts.logger
	start := time.Now()

	r, err := datafile.NewMMapReaderWithPath(s.dataPath, s.opts.layout)
	if err != nil {
		return err
	}
	if err := r.Advise(unix.MADV_RANDOM); err != nil {
		logger.Warn("madvise failed, continuing anyway", "err", err)
	}

	idx, err := index.OpenSorted(s.opts.indexPath, r.Data())
	if err != nil {
		_ = r.Close()
		return wrapCorrupt(err)
	}
	if s.opts.verifyIndex {
		if err := idx.Verify(ctx); err != nil {
			_ = idx.Close()
			_ = r.Close()
			return wrapCorrupt(fmt.Errorf("index.Verify: %w", err))
		}
	}

	s.data = r
	s.idx = idx
	logger.Info("sorted index loaded", "entries", idx.Len(), "verified", s.opts.verifyIndex, "elapsed", time.Since(start))
	return nil
}

func (s *sortedService) Get(key string) ([]byte, error) {
	if s.idx == nil {
		return nil, ErrNotLoaded
	}
	k, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	off, found, err := s.idx.Search(k)
	if err != nil {
		return nil, wrapCorrupt(err)
	}
	if !found {
		return nil, notFound(key)
	}
	v, err := s.data.ValueAt(off)
	if err != nil {
		return nil, wrapCorrupt(err)
	}
	return v, nil
}

func (s *sortedService) HeadKeys(limit int) ([]string, error) {
	if s.idx == nil {
		return nil, ErrNotLoaded
	}
	keys, err := s.idx.Keys(limit)
	if err != nil {
		return nil, wrapCorrupt(err)
	}
	return formatKeys(keys), nil
}

func (s *sortedService) Len() int {
	if s.idx == nil {
		return 0
	}
	return s.idx.Len()
}

func (s *sortedService) Close() error {
	var errs []error
	if s.idx != nil {
		errs = append(errs, s.idx.Close())
	}
	if s.data != nil {
		errs = append(errs, s.data.Close())
	}
	return errors.Join(errs...)
}
