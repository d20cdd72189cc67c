// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bootstrap wires config, logging, the lookup service and the
// HTTP server together.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/dig"

	"github.com/bpowers/kvsrv"
	"github.com/bpowers/kvsrv/internal/bench"
	"github.com/bpowers/kvsrv/internal/config"
	"github.com/bpowers/kvsrv/internal/server"
)

// Container returns a dig container able to produce a loaded
// kvsrv.Service and a *server.Server for cfg.  The service's index is
// built and loaded, using ctx, the first time it is requested.
func Container(ctx context.Context, cfg *config.Config, logOut io.Writer) (*dig.Container, error) {
	container := dig.New()
	constructors := []interface{}{
		func() *config.Config { return cfg },
		func(cfg *config.Config) *slog.Logger { return cfg.NewLogger(logOut) },
		func(cfg *config.Config, logger *slog.Logger) (kvsrv.Service, error) {
			return openService(ctx, cfg, logger)
		},
		newServer,
	}
	for _, constructor := range constructors {
		if err := container.Provide(constructor); err != nil {
			return nil, err
		}
	}
	return container, nil
}

func openService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kvsrv.Service, error) {
	logger.Info("opening service", "strategy", cfg.Strategy, "data", cfg.DataFile)
	svc, err := kvsrv.Open(ctx, cfg.Strategy, cfg.DataFile, cfg.ServiceOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("kvsrv.Open(%s): %w", cfg.DataFile, err)
	}
	return svc, nil
}

func newServer(cfg *config.Config, svc kvsrv.Service, logger *slog.Logger) *server.Server {
	return server.New(cfg.Addr, svc,
		server.WithLogger(logger),
		server.WithHeadLimit(cfg.HeadLimit))
}

// Serve builds and loads the service, runs the minibench if enabled,
// then serves HTTP until ctx is done.
func Serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	container, err := Container(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	return container.Invoke(func(svc kvsrv.Service, srv *server.Server, logger *slog.Logger) error {
		defer func() {
			if err := svc.Close(); err != nil {
				logger.Warn("closing service", "err", err)
			}
		}()

		if cfg.BenchRequests > 0 {
			if _, err := bench.Run(ctx, svc, bench.Options{
				Requests: cfg.BenchRequests,
				Logger:   logger,
			}); err != nil {
				return fmt.Errorf("bench.Run: %w", err)
			}
		}
		return srv.Run(ctx)
	})
}
