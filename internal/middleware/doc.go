// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

/*
Package middleware provides the HTTP middleware shared by the local API and
the reference ingest server.

  - RequestID: request and correlation ids for log tracing
  - PrometheusMetrics: request count, latency and in-flight gauge labeled by
    chi route pattern

Both are plain func(http.Handler) http.Handler and are installed with
chi's r.Use:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)

Response writers are wrapped with chi's WrapResponseWriter, which keeps
http.Hijacker working so websocket upgrades pass through.
*/
package middleware
