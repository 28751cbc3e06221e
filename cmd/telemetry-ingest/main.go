// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Command telemetry-ingest serves the reference Remote Telemetry API from
// memory. It is meant for local development against telemetryd:
//
//	telemetry-ingest --addr 127.0.0.1:8787 &
//	REMOTE_URL=http://127.0.0.1:8787 telemetryd
//
// --reject-kind makes every create or update of that kind fail with a
// VALIDATION item error, which is handy for exercising terminal failures.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/telemetrysync/internal/ingest"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/models"
)

type serveOptions struct {
	addr        string
	logLevel    string
	logFormat   string
	rejectKinds []string
}

func newRootCmd(out io.Writer, ready func(net.Addr)) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:           "telemetry-ingest",
		Short:         "Serve the reference Remote Telemetry API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Init(logging.Config{
				Level:     opts.logLevel,
				Format:    opts.logFormat,
				Timestamp: true,
				Output:    out,
			})
			return serve(cmd.Context(), opts, ready)
		},
	}
	cmd.SetOut(out)
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "console", "log format (json or console)")
	cmd.Flags().StringSliceVar(&opts.rejectKinds, "reject-kind", nil, "reject writes of these kinds")
	return cmd
}

// newServer builds the ingest handler with the configured rejections.
func newServer(opts *serveOptions) *ingest.Server {
	srv := ingest.NewServer(nil)
	if len(opts.rejectKinds) == 0 {
		return srv
	}
	reject := make(map[string]bool, len(opts.rejectKinds))
	for _, k := range opts.rejectKinds {
		reject[k] = true
	}
	srv.SetRejectFunc(func(_ string, r *models.TelemetryRecord) (string, string) {
		if reject[r.Kind] {
			return models.ItemCodeValidation, fmt.Sprintf("kind %q is rejected by this server", r.Kind)
		}
		return "", ""
	})
	return srv
}

func serve(ctx context.Context, opts *serveOptions, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.addr, err)
	}

	server := &http.Server{
		Handler:           newServer(opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	logging.Info().
		Str("addr", ln.Addr().String()).
		Strs("reject_kinds", opts.rejectKinds).
		Msg("Remote Telemetry API listening")
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logging.Info().Msg("Remote Telemetry API stopped")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stderr, nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
