// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package services provides suture.Service wrappers for telemetryd components.

Each wrapper turns a component lifecycle (Start/Stop, RunWithContext,
ListenAndServe) into suture's context-aware Serve:

	type Service interface {
	    Serve(ctx context.Context) error
	}

# Available Services

LifecycleService wraps anything with Start(ctx) error and Stop() error.
telemetryd uses it for the repository, which owns the sync manager, the
pending-count ticker and the outbox retry loop, and for the connectivity
prober.

ForwarderService runs the NATS event mirror. Stop is bounded by a
shutdown timeout because publishes can hang while NATS reconnects.

WebSocketHubService delegates to websocket.Hub.RunWithContext. The
websocket bridge is a suture.Service already and needs no wrapper.

HTTPServerService runs *http.Server.ListenAndServe and shuts the server
down gracefully when its context is canceled.

# Error Semantics

A failing Start is returned wrapped, so suture restarts the service with
backoff. On cancellation every wrapper returns ctx.Err() unless stopping
failed.
*/
package services
