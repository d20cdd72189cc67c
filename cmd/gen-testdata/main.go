// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command gen-testdata writes a record file of random UUID keys for
// kvsrv to serve.
package main

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bpowers/kvsrv/internal/datafile"
	"github.com/bpowers/kvsrv/internal/record"
)

const (
	// records are 128 bytes: 36 key + 10 sequence + separators
	defaultPayloadLen = 128 - 40 - 10
	payloadAlphabet   = " abcdefghijklmnopqrstuvwxyz0123456789"
	progressEvery     = 1000 * 1000
)

type options struct {
	Count         int
	PayloadLen    int
	SequenceWidth int
	Seed          int64
	SamePayload   bool
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := crand.Read(seedBytes[:]); err != nil {
			panic(err)
		}
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed))
}

func randomPayload(rng *rand.Rand, buf []byte) {
	for i := range buf {
		buf[i] = payloadAlphabet[rng.Intn(len(payloadAlphabet))]
	}
}

func generate(w io.Writer, opts options, logger *slog.Logger) (uint64, error) {
	dw, err := datafile.NewWriter(w, record.Layout{SequenceWidth: opts.SequenceWidth})
	if err != nil {
		return 0, err
	}
	rng := newRand(opts.Seed)
	payload := make([]byte, opts.PayloadLen)
	randomPayload(rng, payload)

	for i := 0; i < opts.Count; i++ {
		key, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return dw.Count(), fmt.Errorf("uuid.NewRandomFromReader: %w", err)
		}
		if !opts.SamePayload && i > 0 {
			randomPayload(rng, payload)
		}
		if _, err := dw.Write(key, payload); err != nil {
			return dw.Count(), err
		}
		if (i+1)%progressEvery == 0 {
			logger.Info("progress", "records", i+1, "of", opts.Count)
		}
	}
	if err := dw.Finish(); err != nil {
		return dw.Count(), err
	}
	return dw.Count(), nil
}

func writeFile(path string, opts options, logger *slog.Logger) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	logger.Info("creating data file", "path", path, "records", opts.Count)
	n, err := generate(f, opts, logger)
	if err != nil {
		return fmt.Errorf("generate(%s): %w", path, err)
	}
	logger.Info("done", "path", path, "records", n)
	return nil
}

func newRootCmd() *cobra.Command {
	var opts options
	var size int
	var output string

	cmd := &cobra.Command{
		Use:          "gen-testdata",
		Short:        "Write a record file of random UUID keys",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("count") {
				opts.Count = size * 1000 * 1000
			}
			if output == "" {
				output = fmt.Sprintf("./data/data-%dM.data", size)
			}
			if opts.Count < 0 || opts.PayloadLen < 0 {
				return fmt.Errorf("count and payload-len must not be negative")
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			return writeFile(output, opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&size, "size", 1, "Number of records, in millions")
	flags.IntVar(&opts.Count, "count", 0, "Exact number of records, overrides --size")
	flags.IntVar(&opts.PayloadLen, "payload-len", defaultPayloadLen, "Length of each record's payload")
	flags.IntVar(&opts.SequenceWidth, "sequence-width", record.DefaultSequenceWidth, "Width of the zero padded sequence number")
	flags.Int64Var(&opts.Seed, "seed", 0, "Random seed, 0 for a random one")
	flags.BoolVar(&opts.SamePayload, "same-payload", false, "Use one payload for every record")
	flags.StringVarP(&output, "output", "o", "", "Output path (default ./data/data-<size>M.data)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gen-testdata: %s\n", err)
		os.Exit(1)
	}
}
