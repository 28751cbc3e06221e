// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Stream defaults.
const (
	DefaultStreamName = "TELEMETRY"
	DefaultMaxAge     = 24 * time.Hour
	StreamSubjects    = "telemetry.>"
)

// JetStreamContext is the subset of jetstream.JetStream used by StreamInitializer.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamInitializer provisions the JetStream stream that backs the mirror.
// Publishers run with AutoProvision disabled, so EnsureStream must succeed
// before the first forward.
type StreamInitializer struct {
	js     JetStreamContext
	name   string
	maxAge time.Duration
}

// NewStreamInitializer creates an initializer. Empty name and zero maxAge
// fall back to TELEMETRY and 24 hours.
func NewStreamInitializer(js JetStreamContext, name string, maxAge time.Duration) (*StreamInitializer, error) {
	if js == nil {
		return nil, errors.New("JetStream context required")
	}
	if name == "" {
		name = DefaultStreamName
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &StreamInitializer{js: js, name: name, maxAge: maxAge}, nil
}

// Name returns the stream name.
func (s *StreamInitializer) Name() string {
	return s.name
}

// EnsureStream creates the stream or updates it in place. Idempotent.
func (s *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	cfg := jetstream.StreamConfig{
		Name:        s.name,
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      s.maxAge,
		MaxMsgs:     -1,
		MaxBytes:    -1,
		Duplicates:  2 * time.Minute,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	_, err := s.js.Stream(ctx, s.name)
	switch {
	case err == nil:
		stream, err := s.js.UpdateStream(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", s.name, err)
		}
		return stream, nil
	case errors.Is(err, jetstream.ErrStreamNotFound):
		stream, err := s.js.CreateStream(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", s.name, err)
		}
		return stream, nil
	default:
		return nil, fmt.Errorf("check stream %s: %w", s.name, err)
	}
}

// IsHealthy reports whether the stream can be queried.
func (s *StreamInitializer) IsHealthy(ctx context.Context) bool {
	_, err := s.js.Stream(ctx, s.name)
	return err == nil
}
