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

// mockComponent matches the StartStopper interface.
type mockComponent struct {
	started    atomic.Bool
	stopped    atomic.Bool
	startError error
	stopError  error
}

func (m *mockComponent) Start(ctx context.Context) error {
	if m.startError != nil {
		return m.startError
	}
	m.started.Store(true)
	return nil
}

func (m *mockComponent) Stop() error {
	m.stopped.Store(true)
	return m.stopError
}

func waitStarted(t *testing.T, started *atomic.Bool) {
	t.Helper()
	for i := 0; i < 50; i++ {
		if started.Load() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("component was not started")
}

func TestLifecycleServiceInterface(t *testing.T) {
	var _ suture.Service = (*LifecycleService)(nil)
}

func TestLifecycleService(t *testing.T) {
	t.Run("starts and stops the component", func(t *testing.T) {
		comp := &mockComponent{}
		svc := NewLifecycleService("repository", comp)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Serve(ctx)
		}()

		waitStarted(t, &comp.started)
		if comp.stopped.Load() {
			t.Error("component stopped before cancellation")
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
		if !comp.stopped.Load() {
			t.Error("component was not stopped")
		}
	})

	t.Run("propagates start error for restart", func(t *testing.T) {
		expectedErr := errors.New("store is closed")
		comp := &mockComponent{startError: expectedErr}
		svc := NewLifecycleService("repository", comp)

		err := svc.Serve(context.Background())
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected wrapped start error, got %v", err)
		}
		if comp.started.Load() || comp.stopped.Load() {
			t.Error("component should be untouched after a failed start")
		}
	})

	t.Run("reports stop error", func(t *testing.T) {
		comp := &mockComponent{stopError: errors.New("stop failed")}
		svc := NewLifecycleService("connectivity-prober", comp)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Serve(ctx)
		}()
		waitStarted(t, &comp.started)
		cancel()

		if err := <-done; err == nil || !errors.Is(err, comp.stopError) {
			t.Errorf("expected stop error, got %v", err)
		}
	})

	t.Run("String returns service name", func(t *testing.T) {
		svc := NewLifecycleService("connectivity-prober", &mockComponent{})
		if svc.String() != "connectivity-prober" {
			t.Errorf("expected 'connectivity-prober', got %q", svc.String())
		}
	})
}

func TestLifecycleServiceWithSupervisor(t *testing.T) {
	t.Run("supervisor restarts on start failure", func(t *testing.T) {
		startCount := atomic.Int32{}

		comp := &flakyComponent{
			startCount: &startCount,
			failUntil:  2,
		}
		svc := NewLifecycleService("repository", comp)

		sup := suture.New("lifecycle-test", suture.Spec{
			FailureThreshold: 10,
			FailureBackoff:   10 * time.Millisecond,
			Timeout:          100 * time.Millisecond,
		})
		sup.Add(svc)

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		errCh := sup.ServeBackground(ctx)
		time.Sleep(200 * time.Millisecond)

		if startCount.Load() < 3 {
			t.Errorf("expected at least 3 start attempts, got %d", startCount.Load())
		}
		cancel()
		<-errCh
	})
}

// flakyComponent fails the first N starts, then succeeds.
type flakyComponent struct {
	startCount *atomic.Int32
	stopCount  atomic.Int32
	failUntil  int32
}

func (m *flakyComponent) Start(ctx context.Context) error {
	count := m.startCount.Add(1)
	if count <= m.failUntil {
		return errors.New("simulated start failure")
	}
	return nil
}

func (m *flakyComponent) Stop() error {
	m.stopCount.Add(1)
	return nil
}
