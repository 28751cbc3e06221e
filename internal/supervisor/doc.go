// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package supervisor runs telemetryd as a suture/v4 process tree.

# Tree Layout

	telemetryd (root)
	├── data-layer
	│   └── repository          sync manager, pending-count ticker, outbox retry loop + GC
	├── messaging-layer
	│   ├── connectivity-prober
	│   ├── websocket-hub
	│   ├── websocket-bridge    bus events to websocket clients
	│   └── event-forwarder     optional NATS JetStream mirror
	└── api-layer
	    └── http-server         local API

Each layer is its own supervisor, so a service that keeps failing backs
off without touching its siblings in other layers.

# Logging

Suture events go through sutureslog. Pass logging.NewSlogLogger() so they
end up in the same zerolog stream as the rest of the daemon.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
	    return err
	}
	err = tree.Install(supervisor.Components{
	    Repository: repo,
	    Prober:     prober,
	    Hub:        hub,
	    Bridge:     websocket.NewBridge(hub, repo.Bus()),
	    HTTPServer: server,
	})
	if err != nil {
	    return err
	}
	return tree.Serve(ctx)
*/
package supervisor
