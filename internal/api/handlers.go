// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/telemetrysync/internal/config"
	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/repository"
	ws "github.com/tomtom215/telemetrysync/internal/websocket"
)

// DefaultVersion is reported by the health endpoint when none is set.
const DefaultVersion = "dev"

// Handler contains dependencies for API handlers
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, websocket upgrade (this file)
//   - handlers_helpers.go: response envelope and parameter parsing
//   - handlers_health.go: health, liveness and readiness
//   - handlers_records.go: record CRUD, batch writes, count, requeue
//   - handlers_sync.go: sync trigger, sync status, stats, cleanup
type Handler struct {
	repo      *repository.Repository
	wsHub     *ws.Hub
	config    *config.Config
	version   string
	startTime time.Time
}

// NewHandler creates a new API handler.
//
// wsHub may be nil, in which case the websocket endpoint answers 503.
// cfg may be nil in tests; origin checks then accept every origin.
func NewHandler(repo *repository.Repository, wsHub *ws.Hub, cfg *config.Config) *Handler {
	return &Handler{
		repo:      repo,
		wsHub:     wsHub,
		config:    cfg,
		version:   DefaultVersion,
		startTime: time.Now(),
	}
}

// SetVersion sets the build version reported by the health endpoint.
func (h *Handler) SetVersion(version string) {
	if version != "" {
		h.version = version
	}
}

// WebSocket upgrades the connection and streams repository events.
//
// @Summary Live event stream
// @Description Upgrades to a WebSocket that streams record_updated, record_deleted, sync_status, sync_completed and pending_count messages. Clients may send {"type":"subscribe","types":[...]} to filter.
// @Tags Events
// @Success 101 "Switching protocols"
// @Failure 503 {object} models.APIResponse "WebSocket service unavailable"
// @Router /ws [get]
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "WebSocket service unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	if !h.wsHub.Add(client) {
		_ = conn.Close()
		return
	}
	client.Start()
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins.
//
// Requests without an Origin header come from non-browser clients such as
// telemetryctl and are accepted. Browser origins must match the request
// host or one of the configured CORS origins.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}

	if h.config == nil {
		return true
	}
	for _, allowed := range h.config.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", logging.SanitizeValue(origin)).Msg("WebSocket connection rejected: origin not allowed")
	return false
}
