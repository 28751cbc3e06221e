// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/telemetrysync/internal/models"
)

// Health handles health check requests
//
// @Summary Get daemon health status
// @Description Returns store connectivity, remote connectivity, pending record count, last sync time and uptime. The daemon is degraded only when the local store is unreachable; being offline is normal.
// @Tags Core
// @Produce json
// @Success 200 {object} models.APIResponse{data=models.HealthStatus} "Health status retrieved successfully"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeConnected := h.repo.Ping(ctx) == nil

	status := "healthy"
	if !storeConnected {
		status = "degraded"
	}

	health := models.HealthStatus{
		Status:           status,
		Version:          h.version,
		StoreConnected:   storeConnected,
		StoreDriver:      h.repo.StoreDriver(),
		RemoteConfigured: h.repo.HasRemote(),
		Online:           h.repo.Monitor().IsOnline(),
		Uptime:           time.Since(h.startTime).Seconds(),
	}
	if storeConnected {
		if summary, err := h.repo.SyncSummary(ctx); err == nil {
			health.Pending = summary.Pending
			health.LastSyncAt = summary.LastSyncAt
		}
	}

	respondSuccess(w, http.StatusOK, health, time.Time{})
}

// HealthLive handles liveness probe requests
// Returns 200 OK if the process is alive, regardless of dependencies
//
// @Summary Liveness probe
// @Tags Core
// @Produce json
// @Success 200 {object} models.APIResponse "Service is alive"
// @Router /health/live [get]
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	}, time.Time{})
}

// HealthReady handles readiness probe requests
// Returns 200 OK only if the local store answers
//
// @Summary Readiness probe
// @Tags Core
// @Produce json
// @Success 200 {object} models.APIResponse "Service is ready"
// @Failure 503 {object} models.APIResponse "Service is not ready"
// @Router /health/ready [get]
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Local store is not ready", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"ready": true}, time.Time{})
}
