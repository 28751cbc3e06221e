// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Package testinfra provides container helpers for integration tests.
//
// Everything except this file is behind the integration build tag, so the
// package costs nothing in a normal test run:
//
//	go test -tags integration ./internal/testinfra/...
//
// # NATS Container
//
// StartNATS starts a JetStream-enabled NATS server for one test, skips the
// test when no container provider answers, and removes the container when
// the test ends. The event mirror can then be pointed at a real broker:
//
//	func TestMirror(t *testing.T) {
//	    ctx := context.Background()
//	    nats := testinfra.StartNATS(t, ctx)
//
//	    mirror, err := events.NewNATSMirror(ctx, bus, config.NATSConfig{URL: nats.URL})
//	    ...
//	}
//
// Unit tests in internal/events use an embedded nats-server instead and need
// no container runtime.
//
// # Helpers
//
//   - RequireContainers skips in short mode or without a healthy provider
//   - TestLogger sends testcontainers output to the test log
//   - Eventually polls for an effect such as a message reaching a stream
package testinfra
