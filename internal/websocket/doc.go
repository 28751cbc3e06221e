// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package websocket pushes repository change notifications to local clients.

A Hub owns the set of connected clients. A Bridge subscribes to every event
bus topic and hands each payload to the hub, which fans it out to the
clients that want that message type. Each Client runs a read pump and a
write pump.

	event bus ──► Bridge ──► Hub ──► Client (writePump) ──► browser / CLI

Message Types:

  - record_updated: a record was created or changed (the record JSON)
  - record_deleted: a record was removed ({record_id, server_id, deleted_at})
  - sync_status: a record changed sync state ({record_id, from, to, ...})
  - sync_completed: a sync pass finished (the sync result)
  - pending_count: the number of unsynced records changed ({count, timestamp})
  - pong: reply to a client ping

Clients may send:

	{"type":"ping"}
	{"type":"subscribe","types":["sync_status","pending_count"]}

A subscribe message with an empty list restores delivery of every type.

Flow Control:

Broadcast never blocks. When the hub queue is full the message is dropped
and counted in telemetry_websocket_broadcast_drops_total. A client whose
send buffer is full is disconnected. Clients are expected to reconcile
through the HTTP API after reconnecting.

Usage:

	hub := websocket.NewHub()
	bridge := websocket.NewBridge(hub, bus)
	go hub.RunWithContext(ctx)
	go bridge.Serve(ctx)

	// in an HTTP handler, after upgrading the connection
	client := websocket.NewClient(hub, conn)
	if hub.Add(client) {
	    client.Start()
	}
*/
package websocket
