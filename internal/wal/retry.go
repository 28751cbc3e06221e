// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package wal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
	"github.com/tomtom215/telemetrysync/internal/models"
)

const (
	defaultRetryInterval = 30 * time.Second
	maxBackoff           = 10 * time.Minute
	deliveryTimeout      = 10 * time.Second
)

// Deleter removes a record from the remote by server id. A record the remote
// does not know must be reported as success.
type Deleter interface {
	Delete(ctx context.Context, serverID string) error
}

// DrainResult summarizes one pass over the outbox.
type DrainResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
	Skipped   int `json:"skipped"`
}

// RetryLoop delivers tombstones to the remote in the background.
//
// Each pass walks the pending entries oldest first. An entry is skipped while
// it is in backoff or claimed elsewhere, dropped once its attempt budget is
// spent or the remote rejects it permanently, and confirmed on success.
type RetryLoop struct {
	outbox   *Outbox
	deleter  Deleter
	online   func() bool
	interval time.Duration
	gcEvery  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// RetryOption customizes a RetryLoop.
type RetryOption func(*RetryLoop)

// WithOnlineCheck makes passes no-ops while fn reports offline.
func WithOnlineCheck(fn func() bool) RetryOption {
	return func(r *RetryLoop) {
		if fn != nil {
			r.online = fn
		}
	}
}

// NewRetryLoop creates a retry loop over outbox delivering through d.
func NewRetryLoop(outbox *Outbox, d Deleter, opts ...RetryOption) *RetryLoop {
	interval := outbox.cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	r := &RetryLoop{
		outbox:   outbox,
		deleter:  d,
		online:   func() bool { return true },
		interval: interval,
		gcEvery:  outbox.cfg.GCInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the loop until ctx is done or Stop is called.
func (r *RetryLoop) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.run(loopCtx, r.done)

	logging.Info().
		Dur("interval", r.interval).
		Dur("gc_interval", r.gcEvery).
		Int("max_attempts", r.outbox.MaxAttempts()).
		Msg("Outbox retry loop started")
	return nil
}

// Stop halts the loop and waits for the current pass to finish.
func (r *RetryLoop) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	logging.Info().Msg("Outbox retry loop stopped")
}

// IsRunning reports whether the loop is active.
func (r *RetryLoop) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RetryLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var gc <-chan time.Time
	if r.gcEvery > 0 {
		gcTicker := time.NewTicker(r.gcEvery)
		defer gcTicker.Stop()
		gc = gcTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		case <-gc:
			if _, err := r.outbox.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("Outbox GC failed")
			}
		}
	}
}

// Drain makes one delivery pass over the pending entries.
func (r *RetryLoop) Drain(ctx context.Context) DrainResult {
	var res DrainResult
	if !r.online() {
		return res
	}

	entries, err := r.outbox.GetPending(ctx)
	if err != nil {
		if !errors.Is(err, ErrOutboxClosed) {
			logging.Error().Err(err).Msg("Outbox retry: failed to list pending entries")
		}
		return res
	}

	for _, entry := range entries {
		if ctx.Err() != nil || !r.online() {
			break
		}
		switch r.process(ctx, entry, true) {
		case outcomeDelivered:
			res.Delivered++
		case outcomeFailed:
			res.Failed++
		case outcomeDropped:
			res.Dropped++
		default:
			res.Skipped++
		}
	}

	if res.Delivered > 0 || res.Failed > 0 || res.Dropped > 0 {
		logging.Info().
			Int("delivered", res.Delivered).
			Int("failed", res.Failed).
			Int("dropped", res.Dropped).
			Int("skipped", res.Skipped).
			Msg("Outbox retry pass complete")
	}
	return res
}

// DeliverNow attempts one entry immediately, ignoring backoff. It returns nil
// when the tombstone was delivered and the delivery error otherwise. A failed
// entry stays queued for the retry loop unless it was dropped.
func (r *RetryLoop) DeliverNow(ctx context.Context, entryID string) error {
	entry, err := r.outbox.Get(ctx, entryID)
	if err != nil {
		return err
	}
	_, err = r.attempt(ctx, entry, false)
	return err
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFailed
	outcomeDropped
	outcomeSkipped
)

// ErrClaimed is returned by DeliverNow when another delivery holds the entry.
var ErrClaimed = errors.New("outbox entry is being delivered elsewhere")

func (r *RetryLoop) process(ctx context.Context, entry *Entry, respectBackoff bool) outcome {
	o, _ := r.attempt(ctx, entry, respectBackoff)
	return o
}

func (r *RetryLoop) attempt(ctx context.Context, entry *Entry, respectBackoff bool) (outcome, error) {
	if !r.outbox.TryClaim(entry.ID) {
		return outcomeSkipped, ErrClaimed
	}
	defer r.outbox.Release(entry.ID)

	if entry.Attempts >= r.outbox.MaxAttempts() {
		r.drop(ctx, entry, "attempt budget exhausted")
		return outcomeDropped, ErrEntryDropped
	}
	if respectBackoff && !r.ready(entry) {
		return outcomeSkipped, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	err := r.deleter.Delete(callCtx, entry.Tombstone.ServerID)
	cancel()

	if err == nil {
		if err := r.outbox.Confirm(ctx, entry.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
			logging.Error().Err(err).Str("entry_id", entry.ID).Msg("Outbox retry: failed to confirm entry")
			return outcomeFailed, err
		}
		metrics.OutboxRetries.WithLabelValues("success").Inc()
		logging.Ctx(ctx).Debug().
			Str("record_id", entry.Tombstone.RecordID).
			Str("server_id", entry.Tombstone.ServerID).
			Msg("Remote delete delivered")
		return outcomeDelivered, nil
	}

	if ctx.Err() != nil {
		return outcomeSkipped, err
	}

	if !models.IsNetworkError(err) {
		r.drop(ctx, entry, err.Error())
		return outcomeDropped, err
	}

	if updateErr := r.outbox.UpdateAttempt(ctx, entry.ID, err.Error()); updateErr != nil {
		logging.Error().Err(updateErr).Str("entry_id", entry.ID).Msg("Outbox retry: failed to record attempt")
	}
	metrics.OutboxRetries.WithLabelValues("failure").Inc()
	logging.Warn().
		Err(err).
		Str("entry_id", entry.ID).
		Int("attempt", entry.Attempts+1).
		Msg("Remote delete failed, will retry")

	if entry.Attempts+1 >= r.outbox.MaxAttempts() {
		r.drop(ctx, entry, err.Error())
		return outcomeDropped, err
	}
	return outcomeFailed, err
}

func (r *RetryLoop) drop(ctx context.Context, entry *Entry, reason string) {
	if err := r.outbox.Drop(ctx, entry.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("Outbox retry: failed to drop entry")
		return
	}
	metrics.OutboxRetries.WithLabelValues("dropped").Inc()
	logging.Error().
		Str("entry_id", entry.ID).
		Str("record_id", entry.Tombstone.RecordID).
		Str("server_id", entry.Tombstone.ServerID).
		Int("attempts", entry.Attempts).
		Str("reason", reason).
		Msg("Remote delete abandoned, remote copy may remain")
}

func (r *RetryLoop) ready(entry *Entry) bool {
	if entry.Attempts == 0 || entry.LastAttemptAt.IsZero() {
		return true
	}
	return r.now().Sub(entry.LastAttemptAt) >= r.backoff(entry.Attempts)
}

// backoff is interval * 2^(attempts-1), capped at ten minutes.
func (r *RetryLoop) backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if attempts > 20 {
		return maxBackoff
	}
	d := r.interval << (attempts - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
