// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package ingest

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/middleware"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/remote"
	"github.com/tomtom215/telemetrysync/internal/validation"
)

// maxBatchSize caps a batch request.
const maxBatchSize = 500

// maxBodyBytes caps a request body.
const maxBodyBytes = 8 << 20

// Operation names used by counters and hooks.
const (
	OpCreate      = "create"
	OpCreateBatch = "create_batch"
	OpUpdate      = "update"
	OpUpdateBatch = "update_batch"
	OpDelete      = "delete"
	OpGet         = "get"
	OpQuery       = "query"
	OpCount       = "count"
	OpHealth      = "health"
)

// RejectFunc decides whether a record is refused by a create or update.
// Returning a non-empty code rejects the item with that code
// (models.ItemCode*) and message.
type RejectFunc func(op string, r *models.TelemetryRecord) (code, message string)

// Server is the reference implementation of the Remote Telemetry API.
// It backs the remote client tests and cmd/telemetry-ingest.
type Server struct {
	backend *Backend
	router  chi.Router

	mu           sync.RWMutex
	reject       RejectFunc
	forcedStatus int

	calls sync.Map // op -> *atomic.Int64
}

// NewServer creates a server over backend. A nil backend gets a fresh one.
func NewServer(backend *Backend) *Server {
	if backend == nil {
		backend = NewBackend()
	}
	s := &Server{backend: backend}
	s.router = s.routes()
	return s
}

// Backend returns the record store.
func (s *Server) Backend() *Backend {
	return s.backend
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetRejectFunc installs an item rejection hook. nil removes it.
func (s *Server) SetRejectFunc(fn RejectFunc) {
	s.mu.Lock()
	s.reject = fn
	s.mu.Unlock()
}

// SetForcedStatus makes every request, health included, fail with status.
// Zero restores normal operation.
func (s *Server) SetForcedStatus(status int) {
	s.mu.Lock()
	s.forcedStatus = status
	s.mu.Unlock()
}

// Calls returns how many requests reached op.
func (s *Server) Calls(op string) int {
	if v, ok := s.calls.Load(op); ok {
		return int(v.(*atomic.Int64).Load())
	}
	return 0
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.injectFailures)

	r.Get(remote.PathHealth, s.count(OpHealth, s.handleHealth))
	r.Route(remote.PathTelemetry, func(r chi.Router) {
		r.Post("/", s.count(OpCreate, s.handleCreate))
		r.Get("/", s.count(OpQuery, s.handleQuery))
		r.Get("/count", s.count(OpCount, s.handleCount))
		r.Post("/batch", s.count(OpCreateBatch, s.handleCreateBatch))
		r.Put("/batch", s.count(OpUpdateBatch, s.handleUpdateBatch))
		r.Get("/{id}", s.count(OpGet, s.handleGet))
		r.Put("/{id}", s.count(OpUpdate, s.handleUpdate))
		r.Delete("/{id}", s.count(OpDelete, s.handleDelete))
	})
	return r
}

func (s *Server) count(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, _ := s.calls.LoadOrStore(op, new(atomic.Int64))
		v.(*atomic.Int64).Add(1)
		h(w, r)
	}
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		status := s.forcedStatus
		s.mu.RUnlock()
		if status != 0 {
			writeError(w, status, models.ItemCodeInternal, "injected failure", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rejectItem(op string, r *models.TelemetryRecord) (code, message string) {
	s.mu.RLock()
	fn := s.reject
	s.mu.RUnlock()
	if fn == nil {
		return "", ""
	}
	return fn(op, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rec models.TelemetryRecord
	if !decodeBody(w, r, &rec) {
		return
	}
	if err := validation.ValidateRecord(&rec); err != nil {
		writeError(w, http.StatusBadRequest, models.ItemCodeValidation, err.Error(), nil)
		return
	}
	if code, msg := s.rejectItem(OpCreate, &rec); code != "" {
		writeError(w, statusForCode(code), code, msg, nil)
		return
	}

	stored, created := s.backend.Create(&rec)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, stored)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	var rec models.TelemetryRecord
	if !decodeBody(w, r, &rec) {
		return
	}
	if err := validation.ValidateRecord(&rec); err != nil {
		writeError(w, http.StatusBadRequest, models.ItemCodeValidation, err.Error(), nil)
		return
	}
	if code, msg := s.rejectItem(OpUpdate, &rec); code != "" {
		writeError(w, statusForCode(code), code, msg, nil)
		return
	}

	stored, err := s.backend.Update(serverID, &rec, forceParam(r))
	if err != nil {
		code, msg, conflict := itemError(err)
		writeError(w, statusForCode(code), code, msg, conflict)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req remote.BatchRequest
	if !decodeBatch(w, r, &req) {
		return
	}

	var ok []*models.TelemetryRecord
	var failed []models.BatchItemFailure
	for i, rec := range req.Records {
		if f := s.checkItem(OpCreateBatch, i, rec); f != nil {
			failed = append(failed, *f)
			continue
		}
		stored, _ := s.backend.Create(rec)
		ok = append(ok, stored)
	}
	writeJSON(w, http.StatusOK, models.NewBatchResult(ok, failed))
}

func (s *Server) handleUpdateBatch(w http.ResponseWriter, r *http.Request) {
	var req remote.BatchRequest
	if !decodeBatch(w, r, &req) {
		return
	}
	force := forceParam(r)

	var ok []*models.TelemetryRecord
	var failed []models.BatchItemFailure
	for i, rec := range req.Records {
		if f := s.checkItem(OpUpdateBatch, i, rec); f != nil {
			failed = append(failed, *f)
			continue
		}
		if !rec.HasServerID() {
			failed = append(failed, models.BatchItemFailure{
				ItemID: rec.ID, Index: i, Code: models.ItemCodeValidation, Error: "server_id is required",
			})
			continue
		}
		stored, err := s.backend.Update(*rec.ServerID, rec, force)
		if err != nil {
			code, msg, _ := itemError(err)
			failed = append(failed, models.BatchItemFailure{ItemID: rec.ID, Index: i, Code: code, Error: msg})
			continue
		}
		ok = append(ok, stored)
	}
	writeJSON(w, http.StatusOK, models.NewBatchResult(ok, failed))
}

// checkItem validates one batch item and applies the rejection hook.
func (s *Server) checkItem(op string, index int, rec *models.TelemetryRecord) *models.BatchItemFailure {
	if rec == nil {
		return &models.BatchItemFailure{Index: index, Code: models.ItemCodeValidation, Error: "record is required"}
	}
	if err := validation.ValidateRecord(rec); err != nil {
		return &models.BatchItemFailure{ItemID: rec.ID, Index: index, Code: models.ItemCodeValidation, Error: err.Error()}
	}
	if code, msg := s.rejectItem(op, rec); code != "" {
		return &models.BatchItemFailure{ItemID: rec.ID, Index: index, Code: code, Error: msg}
	}
	return nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.backend.Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, models.ItemCodeNotFound, "record not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.backend.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, models.ItemCodeNotFound, "record not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	f, err := remote.FilterFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ItemCodeValidation, err.Error(), nil)
		return
	}
	records, total := s.backend.Query(f)
	writeJSON(w, http.StatusOK, remote.QueryResponse{Records: records, Total: total})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	f, err := remote.FilterFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ItemCodeValidation, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, models.CountResponse{Count: s.backend.Count(f)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, models.ItemCodeValidation, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

func decodeBatch(w http.ResponseWriter, r *http.Request, req *remote.BatchRequest) bool {
	if !decodeBody(w, r, req) {
		return false
	}
	if len(req.Records) > maxBatchSize {
		writeError(w, http.StatusBadRequest, models.ItemCodeValidation,
			"batch exceeds "+strconv.Itoa(maxBatchSize)+" records", nil)
		return false
	}
	return true
}

func forceParam(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get(remote.ParamForce))
	return force
}

// itemError maps a backend error onto an item code and message.
func itemError(err error) (code, msg string, conflict *models.ConflictError) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &conflict):
		return models.ItemCodeConflict, err.Error(), conflict
	case errors.Is(err, models.ErrNotFound):
		return models.ItemCodeNotFound, err.Error(), nil
	case errors.As(err, &ve):
		return models.ItemCodeValidation, err.Error(), nil
	default:
		return models.ItemCodeInternal, err.Error(), nil
	}
}

func statusForCode(code string) int {
	switch code {
	case models.ItemCodeValidation:
		return http.StatusBadRequest
	case models.ItemCodeConflict:
		return http.StatusConflict
	case models.ItemCodeNotFound:
		return http.StatusNotFound
	case models.ItemCodeNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, conflict *models.ConflictError) {
	body := remote.ErrorResponse{Code: code, Message: message}
	if conflict != nil && !conflict.RemoteUpdatedAt.IsZero() {
		t := conflict.RemoteUpdatedAt
		body.ServerUpdatedAt = &t
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
