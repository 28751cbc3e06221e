// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

//go:build integration

package testinfra

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
)

// pollInterval paces Eventually.
const pollInterval = 250 * time.Millisecond

// RequireContainers skips the test in short mode or when no container
// provider (Docker or Podman) answers.
func RequireContainers(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

// testLogger routes testcontainers output into the test log.
type testLogger struct {
	tb testing.TB
}

// TestLogger returns a testcontainers logger writing to tb.
func TestLogger(tb testing.TB) tclog.Logger {
	return testLogger{tb: tb}
}

func (l testLogger) Printf(format string, v ...interface{}) {
	l.tb.Helper()
	l.tb.Logf(format, v...)
}

// Eventually polls check until it reports true or timeout passes.
func Eventually(ctx context.Context, timeout time.Duration, check func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if check() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
