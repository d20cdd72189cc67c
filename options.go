// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package kvsrv

import (
	"io"
	"log/slog"
	"runtime"

	"github.com/bpowers/kvsrv/internal/record"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	layout       record.Layout
	indexPath    string
	buildWorkers int
	verifyIndex  bool
}

func defaultOptions() options {
	return options{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		layout:       record.DefaultLayout,
		buildWorkers: runtime.GOMAXPROCS(0),
		verifyIndex:  true,
	}
}

// WithLogger sets an optional logger for build and load progress.
// If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithSequenceWidth sets the width of the zero-padded sequence field
// in the data file (10 by default).
func WithSequenceWidth(width int) Option {
	return func(opts *options) {
		opts.layout.SequenceWidth = width
	}
}

// WithIndexPath overrides where the sorted strategy keeps its index
// file.  The default is the data file path with ".index" appended.
func WithIndexPath(path string) Option {
	return func(opts *options) {
		opts.indexPath = path
	}
}

// WithBuildWorkers sets how many goroutines scan the data file when
// building the hash index.  Values below 1 mean 1.
func WithBuildWorkers(n int) Option {
	return func(opts *options) {
		opts.buildWorkers = max(n, 1)
	}
}

// WithVerifyIndex controls whether Load checks every entry of a
// persisted index against the data file (on by default).  Verification
// reads every record's key.
func WithVerifyIndex(verify bool) Option {
	return func(opts *options) {
		opts.verifyIndex = verify
	}
}
