// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package events

import (
	"context"
	"sync"

	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
)

// Unsubscribe stops a subscription and closes its channel. It is safe to
// call more than once.
type Unsubscribe func()

// SubscribeOptions tunes a typed subscription.
type SubscribeOptions[T any] struct {
	// Buffer is the channel capacity. Zero uses the bus default.
	Buffer int
	// Filter drops values it returns false for.
	Filter func(T) bool
}

// Subscribe decodes topic into values of T.
//
// When the consumer falls behind, the oldest buffered value is discarded to
// make room, so a reader always catches up to the latest state. The returned
// channel is closed after Unsubscribe returns or when the bus closes.
func Subscribe[T any](b *Bus, topic string, opts SubscribeOptions[T]) (<-chan T, Unsubscribe, error) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := b.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = b.BufferSize()
	}
	out := make(chan T, buffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		for msg := range msgs {
			v, err := Decode[T](msg)
			if err != nil {
				logging.Warn().Err(err).Str("topic", topic).Msg("Dropping undecodable event")
				msg.Ack()
				continue
			}
			if opts.Filter == nil || opts.Filter(v) {
				SendLatest(out, v, topic)
			}
			msg.Ack()
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			// Drain so a pending publish is not left waiting for an ack.
			go func() {
				for range out {
				}
			}()
			<-done
		})
	}
	return out, unsubscribe, nil
}

// SendLatest sends v, evicting the oldest buffered value if out is full.
// It must be the only sender on out, so a freed slot stays free. topic labels
// the drop counter.
func SendLatest[T any](out chan T, v T, topic string) {
	select {
	case out <- v:
		return
	default:
	}
	select {
	case <-out:
		metrics.SubscriberDrops.WithLabelValues(topic).Inc()
	default:
	}
	select {
	case out <- v:
	default:
		metrics.SubscriberDrops.WithLabelValues(topic).Inc()
	}
}
