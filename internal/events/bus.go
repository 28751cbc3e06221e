// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/metrics"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// DefaultBufferSize is the per-subscriber buffer when none is configured.
const DefaultBufferSize = 64

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus is closed")

// Bus is the in-process event bus.
//
// Publish blocks until every subscriber acknowledged the message, which keeps
// per-topic ordering intact. Subscribers created through Subscribe never hold
// up a publisher: they acknowledge as soon as the value is buffered and drop
// the oldest buffered value when full.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
	buffer int
	closed atomic.Bool
}

// NewBus creates an in-process bus.
func NewBus(cfg config.EventsConfig) *Bus {
	buffer := int(cfg.BufferSize)
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	logger := WatermillLogger()

	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            int64(buffer),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: true,
		}, logger),
		logger: logger,
		buffer: buffer,
	}
}

// WatermillLogger adapts the global zerolog logger for watermill components.
// Watermill logs every publish without subscribers at info, so its info
// level is demoted to debug.
func WatermillLogger() watermill.LoggerAdapter {
	return newWatermillLogger(logging.NewSlogLogger())
}

func newWatermillLogger(l *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLoggerWithLevelMapping(l, map[slog.Level]slog.Level{
		slog.LevelInfo: slog.LevelDebug,
	})
}

// BufferSize returns the default subscriber buffer.
func (b *Bus) BufferSize() int {
	return b.buffer
}

// Publish serializes payload and publishes it on topic. Messages published
// while nobody is subscribed are discarded.
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(MetadataTopic, topic)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(MetadataCorrelationID, id)
	}
	if r, ok := payload.(*models.TelemetryRecord); ok && r != nil {
		msg.Metadata.Set(MetadataRecordID, r.ID)
	}

	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.EventsPublished.WithLabelValues(topic).Inc()
	return nil
}

// PublishRecordUpdated announces a created or modified record.
func (b *Bus) PublishRecordUpdated(ctx context.Context, r *models.TelemetryRecord) error {
	return b.Publish(ctx, TopicRecordUpdated, r)
}

// PublishRecordDeleted announces a local delete.
func (b *Bus) PublishRecordDeleted(ctx context.Context, recordID, serverID string, at time.Time) error {
	return b.Publish(ctx, TopicRecordDeleted, RecordDeleted{RecordID: recordID, ServerID: serverID, DeletedAt: at.UTC()})
}

// PublishSyncStatus announces a sync state transition.
func (b *Bus) PublishSyncStatus(ctx context.Context, t models.StatusTransition) error {
	return b.Publish(ctx, TopicSyncStatus, t)
}

// PublishSyncCompleted announces the end of a sync pass.
func (b *Bus) PublishSyncCompleted(ctx context.Context, res *models.SyncResult) error {
	return b.Publish(ctx, TopicSyncCompleted, res)
}

// PublishPendingCount announces the current number of unsynced records.
func (b *Bus) PublishPendingCount(ctx context.Context, count int, at time.Time) error {
	return b.Publish(ctx, TopicPendingCount, PendingCount{Count: count, Timestamp: at.UTC()})
}

// Subscribe returns the raw message stream of topic. Every message must be
// acked or nacked. The channel closes when ctx is done or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.pubsub.Close()
}

// Decode unmarshals a message payload.
func Decode[T any](msg *message.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", msg.Metadata.Get(MetadataTopic), err)
	}
	return v, nil
}
