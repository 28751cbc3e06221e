// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

// Package logging provides centralized zerolog-based structured logging.
//
// # Quick Start
//
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    File:   logging.FileConfig{Path: "/var/log/telemetryd/telemetryd.log", MaxSizeMB: 50},
//	})
//
//	logging.Info().Str("record_id", id).Msg("record created")
//	logging.Error().Err(err).Msg("sync pass failed")
//
//	// Context-aware logging
//	ctx = logging.ContextWithNewCorrelationID(ctx)
//	logging.Ctx(ctx).Info().Int("batches", n).Msg("sync pass started")
//
// # File Output
//
// When File.Path is set, every entry is also written as JSON to a rotating
// file managed by lumberjack (size, backup count, age and compression).
//
// # slog Integration
//
// NewSlogLogger returns an *slog.Logger backed by zerolog for libraries that
// expect slog (the suture supervisor tree and the watermill event bus).
package logging
