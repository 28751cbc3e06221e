// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// TriggerSync runs one sync pass and returns its result.
//
// The body is optional. A pass requested while another is running returns
// a skipped result; a pass requested offline returns an offline result.
//
// @Summary Run a sync pass
// @Tags Sync
// @Accept json
// @Produce json
// @Param params body models.SyncParams false "Pass options"
// @Success 200 {object} models.APIResponse{data=models.SyncResult}
// @Failure 400 {object} models.APIResponse "Invalid parameters"
// @Failure 500 {object} models.APIResponse "Pass could not run"
// @Router /sync [post]
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var params models.SyncParams
	if !decodeJSON(w, r, &params, true) {
		return
	}

	logging.Ctx(r.Context()).Info().
		Bool("force", params.Force).
		Strs("kinds", params.Kinds).
		Msg("Manual sync requested")

	res, err := h.repo.Sync(r.Context(), params)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, res, start)
}

// SyncStatus reports record counts per sync state and the last pass.
//
// @Summary Sync status
// @Tags Sync
// @Produce json
// @Success 200 {object} models.APIResponse{data=models.SyncStatusSummary}
// @Router /sync/status [get]
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	summary, err := h.repo.SyncSummary(r.Context())
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, summary, start)
}

// Stats reports store, cache, outbox and sync statistics.
//
// @Summary Repository statistics
// @Tags Sync
// @Produce json
// @Success 200 {object} models.APIResponse{data=repository.Stats}
// @Router /stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, stats, start)
}

// Cleanup removes synced records older than a cutoff.
//
// @Summary Remove old synced records
// @Description Unsynced records are never removed.
// @Tags Sync
// @Accept json
// @Produce json
// @Param request body CleanupRequest true "Cutoff"
// @Success 200 {object} models.APIResponse{data=models.CleanupResponse}
// @Failure 400 {object} models.APIResponse "Invalid cutoff"
// @Router /cleanup [post]
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CleanupRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	removed, err := h.repo.Cleanup(r.Context(), req.Cutoff(time.Now()))
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, models.CleanupResponse{Removed: removed}, start)
}
