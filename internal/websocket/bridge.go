// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/telemetrysync/internal/events"
	"github.com/tomtom215/telemetrysync/internal/logging"
)

// topicMessageTypes maps bus topics to the websocket message types they
// are broadcast as.
var topicMessageTypes = map[string]string{
	events.TopicRecordUpdated: MessageTypeRecordUpdated,
	events.TopicRecordDeleted: MessageTypeRecordDeleted,
	events.TopicSyncStatus:    MessageTypeSyncStatus,
	events.TopicSyncCompleted: MessageTypeSyncCompleted,
	events.TopicPendingCount:  MessageTypePendingCount,
}

// BusSubscriber is the part of the event bus the bridge reads from.
type BusSubscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Bridge forwards every event bus topic to the hub. Payloads are passed
// through unchanged, so websocket clients see the same JSON the bus carries.
type Bridge struct {
	hub *Hub
	bus BusSubscriber
}

// NewBridge creates a bus to websocket bridge.
func NewBridge(hub *Hub, bus BusSubscriber) *Bridge {
	return &Bridge{hub: hub, bus: bus}
}

// Serve subscribes to every topic and forwards until ctx is canceled.
func (b *Bridge) Serve(ctx context.Context) error {
	if b.hub == nil || b.bus == nil {
		return errors.New("websocket bridge requires a hub and a bus")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for topic, msgType := range topicMessageTypes {
		msgs, err := b.bus.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.forward(msgType, msgs)
		}()
	}

	logging.Info().Int("topics", len(topicMessageTypes)).Msg("Event bus to WebSocket bridge started")
	<-ctx.Done()
	wg.Wait()
	logging.Info().Msg("Event bus to WebSocket bridge stopped")
	return ctx.Err()
}

func (b *Bridge) forward(msgType string, msgs <-chan *message.Message) {
	for msg := range msgs {
		if b.hub.GetClientCount() > 0 {
			b.hub.Broadcast(msgType, json.RawMessage(msg.Payload))
		}
		msg.Ack()
	}
}

// String implements fmt.Stringer for supervisor logs.
func (b *Bridge) String() string {
	return "websocket-bridge"
}
