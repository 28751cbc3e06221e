// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package events provides the in-process event bus that feeds repository
subscriptions, the websocket stream and the optional NATS mirror.

# Topics

	telemetry.record.updated   *models.TelemetryRecord
	telemetry.record.deleted   RecordDeleted
	telemetry.sync.status      models.StatusTransition
	telemetry.sync.completed   *models.SyncResult
	telemetry.pending.count    PendingCount

Payloads are JSON encoded with goccy/go-json. Each message carries its topic,
the record id where there is one and the caller's correlation id in its
metadata.

# Subscriptions

Subscribe[T] decodes a topic into a typed channel. A slow reader never stalls
a publisher: when the buffer is full the oldest value is discarded, so the
reader always converges on the latest state.

	ch, unsubscribe, err := events.Subscribe[events.PendingCount](bus, events.TopicPendingCount, events.SubscribeOptions[events.PendingCount]{Buffer: 1})
	if err != nil {
	    return err
	}
	defer unsubscribe()

# NATS Mirror

NATSMirror provisions a JetStream stream over telemetry.> and forwards every
topic to it through a watermill-nats publisher guarded by a circuit breaker.
Mirroring is best-effort; local subscribers are unaffected by broker outages.
*/
package events
