// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/telemetrysync/internal/logging"
)

// Forwarder matches *events.Forwarder and *events.NATSMirror.
type Forwarder interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}

// ForwarderService runs the NATS event mirror under supervision.
//
// Stop waits for in-flight publishes, which can hang while NATS is
// reconnecting. The wait is bounded by the shutdown timeout; the mirror's
// own Close releases whatever is left once the tree has stopped.
type ForwarderService struct {
	forwarder       Forwarder
	shutdownTimeout time.Duration
	name            string
}

// NewForwarderService wraps forwarder with a 10s shutdown timeout.
func NewForwarderService(forwarder Forwarder) *ForwarderService {
	return NewForwarderServiceWithTimeout(forwarder, 10*time.Second)
}

// NewForwarderServiceWithTimeout wraps forwarder with a custom shutdown
// timeout. A non-positive timeout uses 10s.
func NewForwarderServiceWithTimeout(forwarder Forwarder, shutdownTimeout time.Duration) *ForwarderService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &ForwarderService{
		forwarder:       forwarder,
		shutdownTimeout: shutdownTimeout,
		name:            "event-forwarder",
	}
}

// Serve implements suture.Service.
func (s *ForwarderService) Serve(ctx context.Context) error {
	if err := s.forwarder.Start(ctx); err != nil {
		return fmt.Errorf("event forwarder start failed: %w", err)
	}

	<-ctx.Done()

	stopped := make(chan error, 1)
	go func() { stopped <- s.forwarder.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			return fmt.Errorf("event forwarder stop failed: %w", err)
		}
	case <-time.After(s.shutdownTimeout):
		logging.Warn().Dur("timeout", s.shutdownTimeout).Msg("Event forwarder did not stop in time")
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's logs.
func (s *ForwarderService) String() string {
	return s.name
}
