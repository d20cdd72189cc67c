// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bench runs a quick in-process lookup benchmark against a
// loaded service, alternating keys that are absent with keys that
// are present.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/bpowers/kvsrv"
)

const (
	DefaultRequests    = 200 * 1000
	DefaultAbsentKeys  = 1000
	DefaultPresentKeys = 1000
	DefaultReportEvery = 100 * 1000
)

type Options struct {
	// Requests is the number of absent/present pairs to look up.
	Requests    int
	AbsentKeys  int
	PresentKeys int
	// ReportEvery is how many lookups pass between progress logs.
	ReportEvery int
	Seed        int64
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Requests <= 0 {
		o.Requests = DefaultRequests
	}
	if o.AbsentKeys <= 0 {
		o.AbsentKeys = DefaultAbsentKeys
	}
	if o.PresentKeys <= 0 {
		o.PresentKeys = DefaultPresentKeys
	}
	if o.ReportEvery <= 0 {
		o.ReportEvery = DefaultReportEvery
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

type Result struct {
	Ops     int
	Hits    int
	Misses  int
	Elapsed time.Duration
}

// RPS is lookups per second over the whole run.
func (r Result) RPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

func (r Result) AvgLatency() time.Duration {
	if r.Ops == 0 {
		return 0
	}
	return r.Elapsed / time.Duration(r.Ops)
}

// Run benchmarks svc, which must already be loaded.  A key sampled
// from the service that then can't be found is reported as an error.
func Run(ctx context.Context, svc kvsrv.Service, opts Options) (Result, error) {
	opts = opts.withDefaults()
	logger := opts.Logger
	rng := rand.New(rand.NewSource(opts.Seed))

	absent := make([]string, 0, opts.AbsentKeys)
	for i := 0; i < opts.AbsentKeys; i++ {
		k, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return Result{}, fmt.Errorf("uuid.NewRandomFromReader: %w", err)
		}
		absent = append(absent, k.String())
	}

	present, err := svc.HeadKeys(opts.PresentKeys)
	if err != nil {
		return Result{}, fmt.Errorf("svc.HeadKeys: %w", err)
	}
	rng.Shuffle(len(present), func(i, j int) {
		present[i], present[j] = present[j], present[i]
	})

	var result Result
	lookup := func(key string, present bool) error {
		result.Ops++
		_, err := svc.Get(key)
		switch {
		case err == nil:
			result.Hits++
		case errors.Is(err, kvsrv.ErrNotFound) && !present:
			result.Misses++
		default:
			return err
		}
		return nil
	}

	logger.Info("minibench starting", "requests", opts.Requests, "present", len(present), "absent", len(absent))
	start := time.Now()
	passStart, passOps := start, 0
	for i := 0; i < opts.Requests; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := lookup(absent[i%len(absent)], false); err != nil {
			return result, fmt.Errorf("absent key lookup: %w", err)
		}
		if len(present) > 0 {
			key := present[i%len(present)]
			if err := lookup(key, true); err != nil {
				return result, fmt.Errorf("sampled key %s: %w", key, err)
			}
		}

		if result.Ops-passOps >= opts.ReportEvery {
			elapsed := time.Since(passStart)
			ops := result.Ops - passOps
			logger.Info("minibench pass",
				"ops", ops,
				"elapsed", elapsed,
				"avg", elapsed/time.Duration(ops),
				"rps", fmt.Sprintf("%.0f", float64(ops)/elapsed.Seconds()))
			passStart, passOps = time.Now(), result.Ops
		}
	}
	result.Elapsed = time.Since(start)

	logger.Info("minibench done",
		"ops", result.Ops,
		"hits", result.Hits,
		"misses", result.Misses,
		"elapsed", result.Elapsed,
		"rps", fmt.Sprintf("%.0f", result.RPS()))
	return result, nil
}
