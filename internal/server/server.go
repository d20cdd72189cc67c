// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package server exposes a kvsrv.Service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bpowers/kvsrv"
)

const (
	DefaultHeadLimit = 1000

	shutdownTimeout = 10 * time.Second
)

// Server routes lookup requests to a service.  A nil service is
// allowed: lookups then fail with 503 until one is provided.
type Server struct {
	addr      string
	svc       kvsrv.Service
	logger    *slog.Logger
	headLimit int
	router    *chi.Mux
	metrics   *metrics.Set

	getOK       *metrics.Counter
	getNotFound *metrics.Counter
	getInvalid  *metrics.Counter
	getError    *metrics.Counter
	getDuration *metrics.Histogram
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHeadLimit sets the number of keys /head_keys/ returns when the
// request has no limit parameter.
func WithHeadLimit(limit int) Option {
	return func(s *Server) {
		s.headLimit = limit
	}
}

func New(addr string, svc kvsrv.Service, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		svc:       svc,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		headLimit: DefaultHeadLimit,
		router:    chi.NewRouter(),
		metrics:   metrics.NewSet(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.getOK = s.metrics.NewCounter(`kvsrv_get_total{result="ok"}`)
	s.getNotFound = s.metrics.NewCounter(`kvsrv_get_total{result="not_found"}`)
	s.getInvalid = s.metrics.NewCounter(`kvsrv_get_total{result="invalid_key"}`)
	s.getError = s.metrics.NewCounter(`kvsrv_get_total{result="error"}`)
	s.getDuration = s.metrics.NewHistogram(`kvsrv_get_duration_seconds`)
	s.metrics.NewGauge(`kvsrv_index_entries`, func() float64 {
		if s.svc == nil {
			return 0
		}
		return float64(s.svc.Len())
	})

	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.healthz)
	s.router.Get("/metrics", s.writeMetrics)
	s.router.Get("/get/", s.get)
	s.router.Get("/head_keys/", s.headKeys)
}

// Handler returns the router, for mounting or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("net.Listen(%s): %w", s.addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("serving", "addr", l.Addr().String())
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("srv.Shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start))
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) writeMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.WritePrometheus(w)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		writeDetail(w, http.StatusServiceUnavailable, "service not initialized")
		return
	}

	start := time.Now()
	key := r.URL.Query().Get("key")
	value, err := s.svc.Get(key)
	s.getDuration.Update(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.getOK.Inc()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(value)))
		_, _ = w.Write(value)
	case errors.Is(err, kvsrv.ErrInvalidKey):
		s.getInvalid.Inc()
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, kvsrv.ErrNotFound):
		s.getNotFound.Inc()
		writeDetail(w, http.StatusNotFound, "Not found")
	default:
		s.getError.Inc()
		s.logger.Error("lookup failed", "key", key, "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

type headKeysResponse struct {
	Keys []string `json:"keys"`
}

func (s *Server) headKeys(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		writeDetail(w, http.StatusServiceUnavailable, "service not initialized")
		return
	}

	limit := s.headLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("bad limit %q", raw))
			return
		}
		limit = n
	}

	keys, err := s.svc.HeadKeys(limit)
	if err != nil {
		s.logger.Error("head_keys failed", "limit", limit, "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, headKeysResponse{Keys: keys})
}

type detailResponse struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
