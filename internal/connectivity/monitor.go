// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package connectivity

import (
	"sync"
	"sync/atomic"

	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
)

// Monitor reports whether the remote API is reachable. Offline is a
// precondition for skipping remote work, never an error.
type Monitor interface {
	IsOnline() bool

	// OnChange registers fn to be called after every online/offline
	// transition. The returned func removes the listener.
	OnChange(fn func(online bool)) (remove func())
}

// state holds the current value and the listeners shared by every monitor.
type state struct {
	online atomic.Bool

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(bool)
}

func (s *state) IsOnline() bool {
	return s.online.Load()
}

func (s *state) OnChange(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners == nil {
		s.listeners = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// set stores the value and notifies listeners when it changed. Listeners
// run synchronously on the caller's goroutine, outside the lock.
func (s *state) set(online bool) bool {
	if s.online.Swap(online) == online {
		metrics.SetOnline(online, false)
		return false
	}
	metrics.SetOnline(online, true)
	logging.Info().Bool("online", online).Msg("Connectivity changed")

	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
	return true
}

// Static is a monitor whose state is set explicitly. It serves
// connectivity.mode=static and tests.
type Static struct {
	state
}

// NewStatic creates a static monitor with the given initial state.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	metrics.SetOnline(online, false)
	return s
}

// SetOnline changes the state, notifying listeners on a transition.
func (s *Static) SetOnline(online bool) {
	s.set(online)
}

var (
	_ Monitor = (*Static)(nil)
	_ Monitor = (*Prober)(nil)
)
