// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package supervisor

import (
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/supervisor/services"
)

// ErrNoRepository is returned by Install without a repository.
var ErrNoRepository = errors.New("supervisor: repository is required")

// Components are the long-running parts of telemetryd. Only Repository is
// required; nil fields are skipped.
type Components struct {
	// Repository runs the sync manager, pending-count ticker and outbox
	// retry loop.
	Repository services.StartStopper

	// Prober drives the connectivity monitor.
	Prober services.StartStopper

	// Hub and Bridge serve the websocket event stream.
	Hub    services.ContextHub
	Bridge suture.Service

	// Forwarder mirrors bus events to NATS.
	Forwarder services.Forwarder

	// HTTPServer serves the local API.
	HTTPServer          services.HTTPServer
	HTTPShutdownTimeout time.Duration
}

// Install adds every configured component to its layer.
func (t *SupervisorTree) Install(c Components) error {
	if c.Repository == nil {
		return ErrNoRepository
	}

	installed := []string{"repository"}
	t.AddDataService(services.NewLifecycleService("repository", c.Repository))

	if c.Prober != nil {
		t.AddMessagingService(services.NewLifecycleService("connectivity-prober", c.Prober))
		installed = append(installed, "connectivity-prober")
	}
	if c.Hub != nil {
		t.AddMessagingService(services.NewWebSocketHubService(c.Hub))
		installed = append(installed, "websocket-hub")
	}
	if c.Bridge != nil {
		t.AddMessagingService(c.Bridge)
		installed = append(installed, "websocket-bridge")
	}
	if c.Forwarder != nil {
		t.AddMessagingService(services.NewForwarderServiceWithTimeout(c.Forwarder, t.config.ShutdownTimeout))
		installed = append(installed, "event-forwarder")
	}
	if c.HTTPServer != nil {
		t.AddAPIService(services.NewHTTPServerService(c.HTTPServer, c.HTTPShutdownTimeout))
		installed = append(installed, "http-server")
	}

	logging.Info().Strs("services", installed).Msg("Supervisor tree assembled")
	return nil
}
