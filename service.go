// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package kvsrv serves point lookups by UUID against an immutable flat
// file of text records, each line of which looks like
//
//	<uuid> <zero-padded sequence> <payload>
//
// An index from key to record offset is built once, with one of
// several strategies, and then queried without loading the data file
// into memory.
//
// A Service must finish BuildIndex and Load before it is queried;
// after that Get and HeadKeys may be called from any number of
// goroutines without locking.  The data file must not change while a
// Service is using it.
package kvsrv

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bpowers/kvsrv/internal/record"
)

// Strategy selects how a Service indexes the data file.
type Strategy string

const (
	// StrategySorted persists record offsets in key order to a side file
	// and binary searches them against the mmap'd data file.  Low
	// resident memory; the index is built once and reused.
	StrategySorted Strategy = "sorted"
	// StrategyHash keeps a key to offset hash map in memory, rebuilt on
	// every start, and reads values with buffered file reads.
	StrategyHash Strategy = "hash"
	// StrategyBTree keeps an ordered in-memory B-tree, rebuilt on every
	// start, and reads values from the mmap'd data file.
	StrategyBTree Strategy = "btree"
	// StrategyMock answers every lookup with fixed data, for wiring tests.
	StrategyMock Strategy = "mock"
)

// Strategies lists the accepted strategy names.
var Strategies = []Strategy{StrategySorted, StrategyHash, StrategyBTree, StrategyMock}

// ParseStrategy parses a strategy name.  "bisect" and "dict" are
// accepted as aliases for sorted and hash.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategySorted, "bisect":
		return StrategySorted, nil
	case StrategyHash, "dict":
		return StrategyHash, nil
	case StrategyBTree:
		return StrategyBTree, nil
	case StrategyMock:
		return StrategyMock, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (expected one of %v)", s, Strategies)
	}
}

// Service looks up values by key in a data file.
type Service interface {
	// BuildIndex makes the index available to Load.  For the sorted
	// strategy it is a no-op if the index file already exists.
	BuildIndex(ctx context.Context) error
	// Load opens whatever BuildIndex produced for serving.
	Load(ctx context.Context) error
	// Get returns the payload stored for key.  Errors match
	// ErrInvalidKey, ErrNotFound or ErrIndexCorrupt via errors.Is.
	Get(key string) ([]byte, error)
	// HeadKeys returns min(limit, Len()) keys.  Sorted and btree
	// strategies return the smallest keys in ascending order; the hash
	// strategy returns them in no particular order.
	HeadKeys(limit int) ([]string, error)
	// Len is the number of keys in the index.
	Len() int
	Close() error
}

// New creates a Service for the data file at dataPath.
func New(strategy Strategy, dataPath string, opts ...Option) (Service, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.layout.Validate(); err != nil {
		return nil, err
	}
	if options.indexPath == "" {
		options.indexPath = dataPath + ".index"
	}

	switch strategy {
	case StrategySorted:
		return newSortedService(dataPath, options), nil
	case StrategyHash:
		return newHashService(dataPath, options), nil
	case StrategyBTree:
		return newBTreeService(dataPath, options), nil
	case StrategyMock:
		return newMockService(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// Open is New followed by BuildIndex and Load.
func Open(ctx context.Context, strategy Strategy, dataPath string, opts ...Option) (Service, error) {
	svc, err := New(strategy, dataPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := svc.BuildIndex(ctx); err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("BuildIndex: %w", err)
	}
	if err := svc.Load(ctx); err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("Load: %w", err)
	}
	return svc, nil
}

func parseKey(key string) (uuid.UUID, error) {
	k, err := record.ParseKey(key)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w %q: %w", ErrInvalidKey, key, err)
	}
	return k, nil
}

func notFound(key string) error {
	return fmt.Errorf("key %s: %w", key, ErrNotFound)
}

func formatKeys(keys []uuid.UUID) []string {
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, record.FormatKey(k))
	}
	return result
}
