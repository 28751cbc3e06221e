// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package services

import (
	"context"
	"fmt"
)

// StartStopper is the Start/Stop lifecycle shared by the repository and the
// connectivity prober.
//
// Satisfied by:
//   - *repository.Repository (sync manager, pending-count ticker, outbox retry loop and GC)
//   - *connectivity.Prober
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// LifecycleService adapts a StartStopper to suture's Serve pattern:
//  1. Start(ctx) spawns the component's goroutines and returns
//  2. Serve blocks until the context is canceled
//  3. Stop() waits for those goroutines
//
// A Start error is returned so suture restarts the service with backoff.
type LifecycleService struct {
	component StartStopper
	name      string
}

// NewLifecycleService wraps component under name.
//
//	tree.AddDataService(services.NewLifecycleService("repository", repo))
//	tree.AddMessagingService(services.NewLifecycleService("connectivity-prober", prober))
func NewLifecycleService(name string, component StartStopper) *LifecycleService {
	return &LifecycleService{
		component: component,
		name:      name,
	}
}

// Serve implements suture.Service.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.component.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's logs.
func (s *LifecycleService) String() string {
	return s.name
}
