// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command kvsrv serves values from a flat record file keyed by UUID.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bpowers/kvsrv/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvsrv",
		Short: "read-only key-value lookups over a record file",
		Long: `kvsrv indexes a file of "<uuid> <sequence> <payload>" lines and
answers lookups by key, in process or over HTTP.

Every flag can also be set with a KVSRV_<FLAG> environment variable
(e.g. KVSRV_DATA_FILE=./data/data-1M.data), or in .env / .env.local.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newGetCmd(),
		newBenchCmd(),
		newQueryCmd(),
		newHeadCmd(),
	)
	return root
}

// loadConfig binds cmd's flags to a fresh viper instance and reads the
// resulting config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	config.LoadEnvFiles()
	v := config.NewViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func loadClientConfig(cmd *cobra.Command) (*config.Config, error) {
	config.LoadEnvFiles()
	v := config.NewViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return config.LoadClient(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "kvsrv: %s\n", err)
		stop()
		os.Exit(1)
	}
}
