// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/telemetrysync/internal/api"
	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/connectivity"
	"github.com/tomtom215/telemetrysync/internal/database"
	"github.com/tomtom215/telemetrysync/internal/events"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/remote"
	"github.com/tomtom215/telemetrysync/internal/repository"
	"github.com/tomtom215/telemetrysync/internal/supervisor"
	"github.com/tomtom215/telemetrysync/internal/wal"
	ws "github.com/tomtom215/telemetrysync/internal/websocket"
)

// daemon owns every component of a running telemetryd.
type daemon struct {
	cfg *config.Config

	store  *database.Store
	outbox *wal.Outbox
	client *remote.Client
	prober *connectivity.Prober
	bus    *events.Bus
	repo   *repository.Repository
	hub    *ws.Hub
	bridge *ws.Bridge
	mirror *events.NATSMirror
	server *http.Server
	tree   *supervisor.SupervisorTree
}

// newDaemon builds the component graph. Nothing is started; on error every
// component created so far is closed.
func newDaemon(ctx context.Context, cfg *config.Config) (d *daemon, err error) {
	d = &daemon{cfg: cfg}
	defer func() {
		if err != nil {
			_ = d.close()
			d = nil
		}
	}()

	d.store, err = database.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	logging.Info().
		Str("driver", d.store.Driver()).
		Str("path", cfg.Store.Path).
		Msg("Local store initialized")

	d.outbox, err = wal.Open(cfg.Outbox)
	if err != nil {
		return nil, fmt.Errorf("open delete outbox: %w", err)
	}

	var remoteAPI remote.API
	var monitor connectivity.Monitor
	if cfg.RemoteEnabled() {
		d.client, err = remote.New(cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("create remote client: %w", err)
		}
		remoteAPI = d.client
		monitor = d.newMonitor()
		logging.Info().
			Str("base_url", cfg.Remote.BaseURL).
			Str("token", logging.SanitizeToken(cfg.Remote.Token)).
			Str("connectivity", cfg.Connectivity.Mode).
			Msg("Remote Telemetry API configured")
	} else {
		monitor = connectivity.NewStatic(false)
		logging.Info().Msg("No remote configured - running offline only")
	}

	d.bus = events.NewBus(cfg.Events)

	d.repo, err = repository.New(repository.Deps{
		Store:   d.store,
		API:     remoteAPI,
		Monitor: monitor,
		Outbox:  d.outbox,
		Bus:     d.bus,
	}, repository.Config{
		Cache:         cfg.Cache,
		Sync:          cfg.Sync,
		RemoteTimeout: cfg.Remote.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	d.hub = ws.NewHub()
	d.bridge = ws.NewBridge(d.hub, d.bus)

	if cfg.Events.NATS.Enabled {
		d.mirror, err = events.NewNATSMirror(ctx, d.bus, cfg.Events.NATS)
		if err != nil {
			return nil, fmt.Errorf("connect NATS mirror: %w", err)
		}
		logging.Info().
			Str("url", cfg.Events.NATS.URL).
			Str("stream", cfg.Events.NATS.Stream).
			Msg("NATS event mirror enabled")
	}

	handler := api.NewHandler(d.repo, d.hub, cfg)
	handler.SetVersion(version)
	router := api.NewRouter(handler, cfg)

	d.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	d.tree, err = supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return nil, fmt.Errorf("create supervisor tree: %w", err)
	}

	components := supervisor.Components{
		Repository:          d.repo,
		Hub:                 d.hub,
		Bridge:              d.bridge,
		HTTPServer:          d.server,
		HTTPShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if d.prober != nil {
		components.Prober = d.prober
	}
	if d.mirror != nil {
		components.Forwarder = d.mirror
	}
	if err := d.tree.Install(components); err != nil {
		return nil, err
	}
	return d, nil
}

// newMonitor picks the connectivity monitor for a configured remote.
func (d *daemon) newMonitor() connectivity.Monitor {
	if d.cfg.Connectivity.Mode == config.ConnectivityStatic {
		return connectivity.NewStatic(d.cfg.Connectivity.InitialOnline)
	}
	d.prober = connectivity.NewProber(d.client, d.cfg.Connectivity)
	return d.prober
}

// run serves the supervisor tree until ctx is canceled.
func (d *daemon) run(ctx context.Context) error {
	logging.Info().Str("addr", d.cfg.Server.ListenAddr).Msg("Starting supervisor tree...")
	errCh := d.tree.ServeBackground(ctx)

	runErr := <-errCh
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		runErr = nil
	}
	if runErr != nil {
		logging.Error().Err(runErr).Msg("Supervisor tree error")
	}

	unstopped, _ := d.tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return runErr
}

// close releases every component in reverse creation order.
func (d *daemon) close() error {
	var errs []error
	if d.repo != nil {
		if err := d.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repository: %w", err))
		}
	}
	if d.mirror != nil {
		if err := d.mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close NATS mirror: %w", err))
		}
	}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if d.outbox != nil {
		if err := d.outbox.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close delete outbox: %w", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close local store: %w", err))
		}
	}
	return errors.Join(errs...)
}
