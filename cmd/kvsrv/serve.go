// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bpowers/kvsrv"
	"github.com/bpowers/kvsrv/internal/bench"
	"github.com/bpowers/kvsrv/internal/bootstrap"
	"github.com/bpowers/kvsrv/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the index, run the minibench and serve HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return bootstrap.Serve(cmd.Context(), cfg, os.Stderr)
		},
	}
	config.AddIndexFlags(cmd)
	config.AddServeFlags(cmd)
	return cmd
}

func openService(ctx context.Context, cfg *config.Config, logOut io.Writer) (kvsrv.Service, error) {
	logger := cfg.NewLogger(logOut)
	svc, err := kvsrv.Open(ctx, cfg.Strategy, cfg.DataFile, cfg.ServiceOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("kvsrv.Open(%s): %w", cfg.DataFile, err)
	}
	return svc, nil
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Build the index, then print the value stored for one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, err := openService(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				_ = svc.Close()
			}()

			value, err := svc.Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(value); err != nil {
				return err
			}
			_, err = io.WriteString(out, "\n")
			return err
		},
	}
	config.AddIndexFlags(cmd)
	return cmd
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Build the index and run the minibench without serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, err := openService(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				_ = svc.Close()
			}()

			result, err := bench.Run(cmd.Context(), svc, bench.Options{
				Requests: cfg.BenchRequests,
				Logger:   cfg.NewLogger(cmd.ErrOrStderr()),
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ops=%d hits=%d misses=%d elapsed=%s avg=%s rps=%.0f\n",
				result.Ops, result.Hits, result.Misses, result.Elapsed, result.AvgLatency(), result.RPS())
			return err
		},
	}
	config.AddIndexFlags(cmd)
	config.AddServeFlags(cmd)
	return cmd
}
