// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quietloop/riftpull/internal/server"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var (
		addr         string
		port         int
		downloadsDir string
		conns        int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an HTTP server for browser- and API-driven downloads",
		Long: `Start an HTTP server that provides:
  - REST API for starting, listing, and cancelling downloads
  - WebSocket for live progress events

Example:
  riftpull serve
  riftpull serve --port 3000 --downloads-dir ./Downloads`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.Config{
				Addr:         addr,
				Port:         port,
				DownloadsDir: downloadsDir,
				Concurrency:  conns,
			}

			srv, err := server.New(cfg)
			if err != nil {
				return fmt.Errorf("building server: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Println()
			fmt.Println("riftpull server")
			fmt.Printf("listening on %s:%d, writing downloads under %s\n", addr, port, downloadsDir)
			fmt.Println()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&downloadsDir, "downloads-dir", "./Downloads", "Output directory for downloads")
	cmd.Flags().IntVarP(&conns, "connections", "c", 8, "Concurrent ranged connections per download")

	return cmd
}
