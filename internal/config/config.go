// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package config collects kvsrv settings from command line flags,
// KVSRV_* environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bpowers/kvsrv"
	"github.com/bpowers/kvsrv/internal/bench"
	"github.com/bpowers/kvsrv/internal/record"
	"github.com/bpowers/kvsrv/internal/server"
)

const EnvPrefix = "kvsrv"

const (
	KeyDataFile      = "data-file"
	KeyIndexFile     = "index-file"
	KeyStrategy      = "strategy"
	KeySequenceWidth = "sequence-width"
	KeyBuildWorkers  = "build-workers"
	KeyVerifyIndex   = "verify-index"
	KeyAddr          = "addr"
	KeyLogLevel      = "log-level"
	KeyBenchRequests = "bench-requests"
	KeyHeadLimit     = "head-limit"
	KeyServerURL     = "server-url"
)

type Config struct {
	DataFile      string
	IndexFile     string
	Strategy      kvsrv.Strategy
	SequenceWidth int
	BuildWorkers  int
	VerifyIndex   bool
	Addr          string
	LogLevel      slog.Level
	// BenchRequests is the number of minibench rounds run before
	// serving; zero skips it.
	BenchRequests int
	HeadLimit     int
	ServerURL     string
}

// LoadEnvFiles loads .env and .env.local from the working directory,
// if present.  Variables already in the environment win.
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// NewViper returns a viper instance reading KVSRV_* variables, with
// dashes in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func wrap(text string) string {
	const width = 50
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// AddIndexFlags registers the flags needed to open a service.
func AddIndexFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(KeyDataFile, "./data/data-1M.data", wrap("Path of the record file to serve"))
	flags.String(KeyIndexFile, "", wrap("Path of the sorted index file (default <data-file>.index)"))
	flags.String(KeyStrategy, string(kvsrv.StrategyHash), wrap("Index strategy, one of: sorted (bisect), hash (dict), btree, mock"))
	flags.Int(KeySequenceWidth, record.DefaultSequenceWidth, wrap("Width of the zero padded sequence number in each record"))
	flags.Int(KeyBuildWorkers, runtime.GOMAXPROCS(0), wrap("Number of goroutines scanning the record file when building the hash index"))
	flags.Bool(KeyVerifyIndex, true, wrap("Check the sorted index against the record file when loading it"))
	flags.String(KeyLogLevel, "info", wrap("Level at which logs will be output (debug, info, warn, error)"))
}

// AddServeFlags registers the HTTP and minibench flags.
func AddServeFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(KeyAddr, "0.0.0.0:5000", wrap("The address on which the HTTP API will listen"))
	flags.Int(KeyHeadLimit, server.DefaultHeadLimit, wrap("Number of keys /head_keys/ returns when no limit is given"))
	flags.Int(KeyBenchRequests, bench.DefaultRequests, wrap("Minibench rounds to run before serving, 0 to skip"))
}

// AddClientFlags registers the flags used to reach a running server.
func AddClientFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(KeyServerURL, "http://localhost:5000", wrap("Base URL of a running kvsrv server"))
	flags.String(KeyLogLevel, "info", wrap("Level at which logs will be output (debug, info, warn, error)"))
}

// Load reads a Config out of v.  Keys that were never registered keep
// their zero value, which Validate accepts only where it is meaningful.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		DataFile:      v.GetString(KeyDataFile),
		IndexFile:     v.GetString(KeyIndexFile),
		SequenceWidth: v.GetInt(KeySequenceWidth),
		BuildWorkers:  v.GetInt(KeyBuildWorkers),
		VerifyIndex:   v.GetBool(KeyVerifyIndex),
		Addr:          v.GetString(KeyAddr),
		BenchRequests: v.GetInt(KeyBenchRequests),
		HeadLimit:     v.GetInt(KeyHeadLimit),
		ServerURL:     v.GetString(KeyServerURL),
	}

	if s := v.GetString(KeyStrategy); s != "" {
		strategy, err := kvsrv.ParseStrategy(s)
		if err != nil {
			return nil, err
		}
		c.Strategy = strategy
	}
	if level := v.GetString(KeyLogLevel); level != "" {
		if err := c.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("bad %s %q: %w", KeyLogLevel, level, err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadClient reads only the settings client commands use, so a
// KVSRV_STRATEGY meant for the server doesn't get validated here.
func LoadClient(v *viper.Viper) (*Config, error) {
	c := &Config{ServerURL: v.GetString(KeyServerURL)}
	if c.ServerURL == "" {
		return nil, fmt.Errorf("%s must be set", KeyServerURL)
	}
	if level := v.GetString(KeyLogLevel); level != "" {
		if err := c.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("bad %s %q: %w", KeyLogLevel, level, err)
		}
	}
	return c, nil
}

// Validate rejects settings that can't open a service.  It only checks
// fields relevant to the configured strategy.
func (c *Config) Validate() error {
	if c.Strategy == "" {
		// client commands don't open a service
		return nil
	}
	var errs []error
	if c.Strategy != kvsrv.StrategyMock && c.DataFile == "" {
		errs = append(errs, fmt.Errorf("%s must be set", KeyDataFile))
	}
	if c.SequenceWidth <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, not %d", KeySequenceWidth, c.SequenceWidth))
	}
	if c.BuildWorkers <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, not %d", KeyBuildWorkers, c.BuildWorkers))
	}
	if c.BenchRequests < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyBenchRequests))
	}
	return errors.Join(errs...)
}

// ServiceOptions translates the config into options for kvsrv.New.
func (c *Config) ServiceOptions(logger *slog.Logger) []kvsrv.Option {
	opts := []kvsrv.Option{
		kvsrv.WithLogger(logger),
		kvsrv.WithSequenceWidth(c.SequenceWidth),
		kvsrv.WithBuildWorkers(c.BuildWorkers),
		kvsrv.WithVerifyIndex(c.VerifyIndex),
	}
	if c.IndexFile != "" {
		opts = append(opts, kvsrv.WithIndexPath(c.IndexFile))
	}
	return opts
}

// NewLogger returns a text logger at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}
