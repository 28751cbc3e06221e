// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Command telemetryctl drives a running telemetryd over its local API.
//
//	telemetryctl health
//	telemetryctl records list --kind temperature --state failed
//	telemetryctl records create --source sensor-1 --kind temperature --value 21.5 --unit C
//	telemetryctl records requeue <id>
//	telemetryctl sync --force
//	telemetryctl cleanup --days 30
//	telemetryctl watch --types sync_completed,pending_count
//
// The daemon address comes from --addr, then TELEMETRYCTL_ADDR, then
// http://127.0.0.1:8686.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const (
	defaultAddr = "http://127.0.0.1:8686"
	addrEnvVar  = "TELEMETRYCTL_ADDR"
)

// options are the persistent flags shared by every command.
type options struct {
	addr    string
	timeout time.Duration
	json    bool
	out     io.Writer
}

func (o *options) client() (*client, error) {
	return newClient(o.addr, o.timeout)
}

// print writes v as indented JSON.
func (o *options) print(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(o.out, string(raw))
	return err
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{out: out}

	addr := os.Getenv(addrEnvVar)
	if addr == "" {
		addr = defaultAddr
	}

	root := &cobra.Command{
		Use:           "telemetryctl",
		Short:         "Control a running telemetryd",
		Long:          "Command-line interface for the telemetryd local API.\nInspect records, trigger sync passes and watch live events.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.addr, "addr", addr, "telemetryd address (env "+addrEnvVar+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newHealthCmd(opts),
		newRecordsCmd(opts),
		newSyncCmd(opts),
		newStatsCmd(opts),
		newCleanupCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			os.Exit(3)
		}
		os.Exit(1)
	}
}
