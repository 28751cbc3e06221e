// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/repository"
)

// recordsWithStatusPage is the listing body when status=true.
type recordsWithStatusPage struct {
	Records    []*models.RecordWithStatus `json:"records"`
	Pagination models.PaginationInfo      `json:"pagination"`
}

// CreateRecord stores a new record locally.
//
// @Summary Create a record
// @Description Stores a record in the local store and queues it for sync. A missing id is generated; an existing id is overwritten and re-queued.
// @Tags Records
// @Accept json
// @Produce json
// @Param record body models.TelemetryRecord true "Record"
// @Success 201 {object} models.APIResponse{data=models.TelemetryRecord}
// @Failure 400 {object} models.APIResponse "Invalid record"
// @Failure 500 {object} models.APIResponse "Storage error"
// @Router /records [post]
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var rec models.TelemetryRecord
	if !decodeJSON(w, r, &rec, false) {
		return
	}

	stored, err := h.repo.Create(r.Context(), &rec)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, stored, start)
}

// ListRecords lists local records.
//
// @Summary List records
// @Description Lists records from the local store. refresh=true first merges matching remote records when online.
// @Tags Records
// @Produce json
// @Param kind query string false "Kinds, comma separated or repeated"
// @Param source_id query string false "Source id"
// @Param from query string false "Earliest event time (RFC3339)"
// @Param to query string false "Latest event time (RFC3339)"
// @Param sync_state query string false "Sync states, comma separated"
// @Param sort query string false "timestamp_asc, timestamp_desc, created_asc or created_desc"
// @Param limit query int false "Page size (0 = all, default 100)"
// @Param offset query int false "Offset"
// @Param status query bool false "Include sync status"
// @Param refresh query bool false "Merge remote records first"
// @Success 200 {object} models.APIResponse{data=models.RecordsPage}
// @Failure 400 {object} models.APIResponse "Invalid filter"
// @Router /records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	f, apiErr := parseRecordFilter(r)
	if apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}
	opts := repository.QueryOptions{RefreshRemote: getBoolParam(r, "refresh")}

	// The query runs first so a remote refresh is reflected in the total.
	records, err := h.repo.QueryWithStatus(r.Context(), f, opts)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	total, err := h.repo.Count(r.Context(), f)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	page := pagination(f, len(records), total)

	if getBoolParam(r, "status") {
		respondSuccess(w, http.StatusOK, recordsWithStatusPage{Records: records, Pagination: page}, start)
		return
	}

	plain := make([]*models.TelemetryRecord, len(records))
	for i, rws := range records {
		plain[i] = rws.Record
	}
	respondSuccess(w, http.StatusOK, models.RecordsPage{Records: plain, Pagination: page}, start)
}

// pagination describes a page. Concurrent writes can land between the
// query and the count, so total never drops below what was returned.
func pagination(f models.RecordFilter, returned, total int) models.PaginationInfo {
	if f.Offset+returned > total {
		total = f.Offset + returned
	}
	return models.PaginationInfo{
		Limit:      f.Limit,
		Offset:     f.Offset,
		HasMore:    f.Limit > 0 && f.Offset+returned < total,
		TotalCount: total,
	}
}

// CountRecords counts local records matching a filter.
//
// @Summary Count records
// @Tags Records
// @Produce json
// @Param kind query string false "Kinds"
// @Param sync_state query string false "Sync states"
// @Success 200 {object} models.APIResponse{data=models.CountResponse}
// @Failure 400 {object} models.APIResponse "Invalid filter"
// @Router /records/count [get]
func (h *Handler) CountRecords(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	f, apiErr := parseRecordFilter(r)
	if apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}
	f.Limit, f.Offset = 0, 0

	n, err := h.repo.Count(r.Context(), f)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, models.CountResponse{Count: n}, start)
}

// CreateRecordsBatch stores many records in one local transaction.
//
// @Summary Create records in bulk
// @Description Invalid items are reported per item and do not block the others.
// @Tags Records
// @Accept json
// @Produce json
// @Param batch body BatchRequest true "Records"
// @Success 200 {object} models.APIResponse{data=models.BatchOperationResult}
// @Failure 400 {object} models.APIResponse "Invalid request"
// @Router /records/batch [post]
func (h *Handler) CreateRecordsBatch(w http.ResponseWriter, r *http.Request) {
	h.writeBatch(w, r, h.repo.CreateBatch)
}

// UpdateRecordsBatch replaces many existing records.
//
// @Summary Update records in bulk
// @Description Unknown ids are reported as NOT_FOUND items.
// @Tags Records
// @Accept json
// @Produce json
// @Param batch body BatchRequest true "Records"
// @Success 200 {object} models.APIResponse{data=models.BatchOperationResult}
// @Failure 400 {object} models.APIResponse "Invalid request"
// @Router /records/batch [put]
func (h *Handler) UpdateRecordsBatch(w http.ResponseWriter, r *http.Request) {
	h.writeBatch(w, r, h.repo.UpdateBatch)
}

type batchWriter func(ctx context.Context, records []*models.TelemetryRecord) (*models.BatchOperationResult, error)

func (h *Handler) writeBatch(w http.ResponseWriter, r *http.Request, write batchWriter) {
	start := time.Now()
	var req BatchRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	res, err := write(r.Context(), req.Records)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, res, start)
}

// GetRecord returns one record.
//
// @Summary Get a record
// @Tags Records
// @Produce json
// @Param id path string true "Record id"
// @Param status query bool false "Include sync status"
// @Success 200 {object} models.APIResponse{data=models.TelemetryRecord}
// @Failure 404 {object} models.APIResponse "Record not found"
// @Router /records/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	if getBoolParam(r, "status") {
		rws, err := h.repo.GetWithStatus(r.Context(), id)
		if err != nil {
			respondRepoError(w, r, err)
			return
		}
		respondSuccess(w, http.StatusOK, rws, start)
		return
	}

	rec, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, rec, start)
}

// UpdateRecord replaces an existing record.
//
// @Summary Update a record
// @Description The id in the path wins; a different id in the body is rejected.
// @Tags Records
// @Accept json
// @Produce json
// @Param id path string true "Record id"
// @Param record body models.TelemetryRecord true "Record"
// @Success 200 {object} models.APIResponse{data=models.TelemetryRecord}
// @Failure 400 {object} models.APIResponse "Invalid record"
// @Failure 404 {object} models.APIResponse "Record not found"
// @Router /records/{id} [put]
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	var rec models.TelemetryRecord
	if !decodeJSON(w, r, &rec, false) {
		return
	}
	if rec.ID != "" && rec.ID != id {
		respondRepoError(w, r, fmt.Errorf("%w: %s != %s", ErrIDMismatch, rec.ID, id))
		return
	}
	rec.ID = id

	stored, err := h.repo.Update(r.Context(), &rec)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, stored, start)
}

// DeleteRecord removes a record locally and, when it was synced, remotely.
//
// @Summary Delete a record
// @Tags Records
// @Produce json
// @Param id path string true "Record id"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse "Record not found"
// @Router /records/{id} [delete]
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	existed, err := h.repo.Delete(r.Context(), id)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	if !existed {
		respondError(w, http.StatusNotFound, CodeNotFound, "record "+id+" not found", nil)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true}, start)
}

// RequeueRecord moves a Failed record back to Pending.
//
// @Summary Requeue a failed record
// @Tags Records
// @Produce json
// @Param id path string true "Record id"
// @Success 200 {object} models.APIResponse{data=models.RecordWithStatus}
// @Failure 404 {object} models.APIResponse "Record not found"
// @Failure 409 {object} models.APIResponse "Record is not failed"
// @Router /records/{id}/requeue [post]
func (h *Handler) RequeueRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	if err := h.repo.Requeue(r.Context(), id); err != nil {
		respondRepoError(w, r, err)
		return
	}
	rws, err := h.repo.GetWithStatus(r.Context(), id)
	if err != nil {
		respondRepoError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, rws, start)
}
