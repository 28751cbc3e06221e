// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/repository"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var h models.HealthStatus
			if err := c.do(cmd.Context(), http.MethodGet, "/health", nil, nil, &h); err != nil {
				return err
			}
			if opts.json {
				return opts.print(h)
			}

			fmt.Fprintf(opts.out, "Status:      %s\n", h.Status)
			fmt.Fprintf(opts.out, "Version:     %s\n", h.Version)
			fmt.Fprintf(opts.out, "Store:       %s (connected: %t)\n", h.StoreDriver, h.StoreConnected)
			fmt.Fprintf(opts.out, "Remote:      configured: %t, online: %t\n", h.RemoteConfigured, h.Online)
			fmt.Fprintf(opts.out, "Pending:     %d\n", h.Pending)
			if h.LastSyncAt != nil {
				fmt.Fprintf(opts.out, "Last sync:   %s\n", h.LastSyncAt.Format(time.RFC3339))
			} else {
				fmt.Fprintln(opts.out, "Last sync:   never")
			}
			fmt.Fprintf(opts.out, "Uptime:      %s\n", (time.Duration(h.Uptime) * time.Second).String())
			return nil
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show repository statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var s repository.Stats
			if err := c.do(cmd.Context(), http.MethodGet, "/stats", nil, nil, &s); err != nil {
				return err
			}
			if opts.json {
				return opts.print(s)
			}

			fmt.Fprintf(opts.out, "Online:   %t\n", s.Online)
			fmt.Fprintf(opts.out, "Syncing:  %t\n", s.Syncing)
			fmt.Fprintf(opts.out, "Pending:  %d\n", s.Pending)
			printStateCounts(opts, s.Counts)
			if s.LastResult != nil {
				printSyncResult(opts, s.LastResult)
			}
			return nil
		},
	}
}

func printStateCounts(opts *options, counts map[models.SyncState]int) {
	fmt.Fprintln(opts.out, "Records:")
	for _, st := range []models.SyncState{
		models.SyncStatePending,
		models.SyncStateInProgress,
		models.SyncStateSynced,
		models.SyncStateFailed,
	} {
		fmt.Fprintf(opts.out, "  %-12s %d\n", st, counts[st])
	}
}
