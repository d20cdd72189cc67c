// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package kvsrv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bpowers/kvsrv/internal/datafile"
	"github.com/bpowers/kvsrv/internal/index"
)

type hashService struct {
	dataPath string
	opts     options
	idx      *index.Hashed
	file     *datafile.FileReader
}

func newHashService(dataPath string, opts options) *hashService {
	return &hashService{
		dataPath: dataPath,
		opts:     opts,
	}
}

// BuildIndex always rescans the data file; the map is never persisted.
func (s *hashService) BuildIndex(ctx context.Context) error {
	logger := s.opts.logger
	logger.Info("building hash index", "data", s.dataPath, "workers", s.opts.buildWorkers)
	start := time.Now()

	r, err := datafile.NewMMapReaderWithPath(s.dataPath, s.opts.layout)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()

	idx, err := index.BuildHashed(ctx, r, s.opts.buildWorkers, logger)
	if err != nil {
		return wrapCorrupt(fmt.Errorf("index.BuildHashed: %w", err))
	}
	s.idx = idx

	logger.Info("hash index built", "entries", idx.Len(), "elapsed", time.Since(start))
	return nil
}

func (s *hashService) Load(_ context.Context) error {
	if s.idx == nil {
		return errors.New("hash index must be built before Load")
	}
	if s.file != nil {
		return errors.New("already loaded")
	}
	f, err := datafile.NewFileReader(s.dataPath, s.opts.layout)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

func (s *hashService) Get(key string) ([]byte, error) {
	if s.file == nil {
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
	v, err := s.file.ValueAt(off)
	if err != nil {
		return nil, wrapCorrupt(err)
	}
	return v, nil
}

func (s *hashService) HeadKeys(limit int) ([]string, error) {
	if s.file == nil {
		return nil, ErrNotLoaded
	}
	return formatKeys(s.idx.Keys(limit)), nil
}

func (s *hashService) Len() int {
	if s.idx == nil {
		return 0
	}
	return s.idx.Len()
}

func (s *hashService) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
