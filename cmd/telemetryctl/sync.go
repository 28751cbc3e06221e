// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/telemetrysync/internal/models"
)

func newSyncCmd(opts *options) *cobra.Command {
	var params models.SyncParams
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var res models.SyncResult
			if err := c.do(cmd.Context(), http.MethodPost, "/sync", nil, params, &res); err != nil {
				return err
			}
			if opts.json {
				return opts.print(res)
			}
			printSyncResult(opts, &res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&params.Force, "force", false, "ignore backoff windows")
	cmd.Flags().StringSliceVar(&params.Kinds, "kind", nil, "only sync these kinds")
	cmd.Flags().IntVar(&params.BatchSize, "batch-size", 0, "override the configured batch size")

	cmd.AddCommand(newSyncStatusCmd(opts))
	return cmd
}

func newSyncStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state counts and the last pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var s models.SyncStatusSummary
			if err := c.do(cmd.Context(), http.MethodGet, "/sync/status", nil, nil, &s); err != nil {
				return err
			}
			if opts.json {
				return opts.print(s)
			}
			fmt.Fprintf(opts.out, "Online:   %t\n", s.Online)
			fmt.Fprintf(opts.out, "Running:  %t\n", s.Running)
			fmt.Fprintf(opts.out, "Pending:  %d\n", s.Pending)
			if s.LastSyncAt != nil {
				fmt.Fprintf(opts.out, "Last:     %s\n", s.LastSyncAt.Format(time.RFC3339))
			}
			printStateCounts(opts, s.Counts)
			if s.LastResult != nil {
				printSyncResult(opts, s.LastResult)
			}
			return nil
		},
	}
}

func printSyncResult(opts *options, res *models.SyncResult) {
	switch {
	case res.Offline:
		fmt.Fprintln(opts.out, "Sync skipped: offline")
		return
	case res.Skipped:
		fmt.Fprintln(opts.out, "Sync skipped: a pass is already running")
		return
	}
	outcome := "succeeded"
	if !res.Success {
		outcome = "finished with failures"
	}
	fmt.Fprintf(opts.out, "Sync %s: %d synced, %d failed in %d batches (%s)\n",
		outcome, res.SyncedCount, res.FailedCount, res.Batches, res.Duration.Round(time.Millisecond))
	for _, f := range res.Failures {
		terminal := ""
		if f.Terminal {
			terminal = " [terminal]"
		}
		fmt.Fprintf(opts.out, "  %s: %s (%s, retries %d)%s\n", f.RecordID, f.Error, f.Code, f.RetryCount, terminal)
	}
}

func newCleanupCmd(opts *options) *cobra.Command {
	var (
		days   int
		before string
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove synced records older than a cutoff",
		Long:  "Remove synced records older than a cutoff. Unsynced records are never removed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]interface{}{}
			switch {
			case days > 0 && before != "":
				return errors.New("use either --days or --before")
			case days > 0:
				body["older_than_days"] = days
			case before != "":
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("--before: %w", err)
				}
				body["older_than"] = t
			default:
				return errors.New("one of --days or --before is required")
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			var res models.CleanupResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/cleanup", nil, body, &res); err != nil {
				return err
			}
			if opts.json {
				return opts.print(res)
			}
			fmt.Fprintf(opts.out, "Removed %d records\n", res.Removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "remove synced records older than this many days")
	cmd.Flags().StringVar(&before, "before", "", "remove synced records older than this time (RFC3339)")
	return cmd
}
