// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/tomtom215/telemetrysync/docs" // Import generated swagger docs
	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging.ToLoggingConfig())
	defer func() { _ = logging.Close() }()

	logging.Info().
		Str("version", version).
		Str("store_driver", cfg.Store.Driver).
		Bool("remote", cfg.RemoteEnabled()).
		Bool("nats", cfg.Events.NATS.Enabled).
		Msg("Starting telemetryd")

	watchConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize telemetryd")
		_ = logging.Close()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	runErr := d.run(ctx)
	if err := d.close(); err != nil {
		logging.Error().Err(err).Msg("Error during shutdown")
	}
	if runErr != nil {
		_ = logging.Close()
		os.Exit(1)
	}
	logging.Info().Msg("telemetryd stopped gracefully")
}

// watchConfig reloads the log level when the config file changes. Other
// settings need a restart.
func watchConfig() {
	path := config.ConfigFilePath()
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Ignoring invalid config change")
			return
		}
		logging.SetLevelString(cfg.Logging.Level)
		logging.Info().Str("level", cfg.Logging.Level).Msg("Log level reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
	}
}
