// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
)

// Pinger is the health check a Prober issues. *remote.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober derives connectivity from periodic health checks of the remote.
//
// One successful probe flips the state online. Going offline takes
// FailureThreshold consecutive failures so a single dropped packet does not
// cancel in-flight sync work.
type Prober struct {
	state

	pinger    Pinger
	interval  time.Duration
	timeout   time.Duration
	threshold int

	mu       sync.Mutex
	failures int
	lastErr  error
	lastAt   time.Time

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProber creates a prober. It starts in cfg.InitialOnline state.
func NewProber(p Pinger, cfg config.ConnectivityConfig) *Prober {
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 1
	}

	pr := &Prober{pinger: p, interval: interval, timeout: timeout, threshold: threshold}
	pr.online.Store(cfg.InitialOnline)
	return pr
}

// Probe runs one health check and updates the state. It returns the state
// after the check.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.pinger.Ping(ctx)
	cancel()

	p.mu.Lock()
	p.lastAt = time.Now()
	p.lastErr = err
	if err == nil {
		p.failures = 0
	} else {
		p.failures++
	}
	failures := p.failures
	p.mu.Unlock()

	switch {
	case err == nil:
		p.set(true)
	case failures >= p.threshold:
		if p.set(false) {
			logging.Warn().Err(err).Int("failures", failures).Msg("Remote unreachable, going offline")
		}
	default:
		logging.Debug().Err(err).Int("failures", failures).Int("threshold", p.threshold).Msg("Probe failed")
	}
	return p.IsOnline()
}

// LastProbe returns when the last probe ran and its error.
func (p *Prober) LastProbe() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAt, p.lastErr
}

// Start probes immediately and then every interval until Stop or ctx is done.
func (p *Prober) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return errors.New("prober already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() error {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.runMu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
