// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bpowers/kvsrv/internal/client"
	"github.com/bpowers/kvsrv/internal/config"
	"github.com/bpowers/kvsrv/internal/server"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <key>",
		Short: "Look up one key on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(cmd)
			if err != nil {
				return err
			}
			value, err := client.New(cfg.ServerURL).Get(cmd.Context(), args[0])
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
	config.AddClientFlags(cmd)
	return cmd
}

func newHeadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "head [limit]",
		Short: "List keys from a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := server.DefaultHeadLimit
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("bad limit %q: %w", args[0], err)
				}
				limit = n
			}
			cfg, err := loadClientConfig(cmd)
			if err != nil {
				return err
			}
			keys, err := client.New(cfg.ServerURL).HeadKeys(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, k := range keys {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), k); err != nil {
					return err
				}
			}
			return nil
		},
	}
	config.AddClientFlags(cmd)
	return cmd
}
