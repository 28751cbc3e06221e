// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// mockForwarder implements the Forwarder interface.
type mockForwarder struct {
	running   atomic.Bool
	started   atomic.Bool
	startErr  error
	stopBlock chan struct{}
}

func (m *mockForwarder) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started.Store(true)
	m.running.Store(true)
	return nil
}

func (m *mockForwarder) Stop() error {
	if m.stopBlock != nil {
		<-m.stopBlock
	}
	m.running.Store(false)
	return nil
}

func (m *mockForwarder) IsRunning() bool {
	return m.running.Load()
}

func TestForwarderService(t *testing.T) {
	t.Run("implements suture.Service interface", func(t *testing.T) {
		var _ suture.Service = (*ForwarderService)(nil)
	})

	t.Run("starts and stops the forwarder", func(t *testing.T) {
		fwd := &mockForwarder{}
		svc := NewForwarderService(fwd)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Serve(ctx)
		}()

		waitStarted(t, &fwd.started)
		if !fwd.IsRunning() {
			t.Error("forwarder should be running")
		}
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("service did not stop in time")
		}
		if fwd.IsRunning() {
			t.Error("forwarder should have been stopped")
		}
	})

	t.Run("propagates start error for restart", func(t *testing.T) {
		fwd := &mockForwarder{startErr: errors.New("nats: no servers available for connection")}
		svc := NewForwarderService(fwd)

		err := svc.Serve(context.Background())
		if !errors.Is(err, fwd.startErr) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("String returns service name", func(t *testing.T) {
		svc := NewForwarderService(&mockForwarder{})
		if svc.String() != "event-forwarder" {
			t.Errorf("expected 'event-forwarder', got '%s'", svc.String())
		}
	})
}

func TestForwarderServiceWithTimeout(t *testing.T) {
	t.Run("gives up on a hung stop", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		fwd := &mockForwarder{stopBlock: block}
		svc := NewForwarderServiceWithTimeout(fwd, 50*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Serve(ctx)
		}()
		waitStarted(t, &fwd.started)
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("service did not honor the shutdown timeout")
		}
	})

	t.Run("non-positive timeout uses default", func(t *testing.T) {
		svc := NewForwarderServiceWithTimeout(&mockForwarder{}, 0)
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("timeout = %v, want 10s", svc.shutdownTimeout)
		}
	})
}
