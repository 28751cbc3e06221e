// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/telemetrysync/internal/logging"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/validation"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 8 << 20

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", generateETag(data))

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondSuccess wraps data in a success envelope. start, when non-zero,
// fills in the query time.
func respondSuccess(w http.ResponseWriter, status int, data interface{}, start time.Time) {
	meta := models.Metadata{Timestamp: time.Now().UTC()}
	if !start.IsZero() {
		meta.QueryTimeMS = time.Since(start).Milliseconds()
	}
	respondJSON(w, status, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: meta,
	})
}

// generateETag creates a simple ETag from data using FNV-1a hash
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", logging.SanitizeValue(code)).Str("error", logging.SanitizeValue(err.Error())).Msg("API Error")
	}
	respondAPIError(w, status, &models.APIError{Code: code, Message: message})
}

func respondAPIError(w http.ResponseWriter, status int, apiErr *models.APIError) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Data:     nil,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    apiErr,
	})
}

// respondRepoError maps an error from the repository onto the envelope.
// Client errors are logged at debug, server errors at error.
func respondRepoError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)

	event := logging.Ctx(r.Context()).Debug()
	if status >= http.StatusInternalServerError {
		event = logging.Ctx(r.Context()).Error()
	}
	event.Str("code", code).Str("error", logging.SanitizeValue(err.Error())).Msg("API Error")

	message := err.Error()
	if code == CodeInternal {
		message = "Internal server error"
	}
	respondAPIError(w, status, &models.APIError{
		Code:    code,
		Message: message,
		Details: fieldDetails(err),
	})
}

// validateRequest validates a struct using go-playground/validator.
// Returns nil if validation passes, or a models.APIError if validation fails.
func validateRequest(v interface{}) *models.APIError {
	validationErr := validation.ValidateStruct(v)
	if validationErr == nil {
		return nil
	}
	return validationErr.ToAPIError()
}

// decodeJSON reads a JSON body into v. An empty body is an error unless
// allowEmpty is set. It writes the error response itself and reports
// whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		respondError(w, http.StatusBadRequest, CodeBadRequest, "Invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

// getIntParam extracts an integer query parameter with a default value
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// getBoolParam extracts a boolean query parameter; anything unparsable is false.
func getBoolParam(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

// parseCommaSeparated parses a comma-separated string into a slice
func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}

	var result []string
	parts := strings.Split(value, ",")
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// multiValue collects a parameter given either repeated or comma separated.
func multiValue(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		out = append(out, parseCommaSeparated(v)...)
	}
	return out
}

// parseRecordFilter reads a RecordFilter from query parameters:
//
//	kind, source_id, from, to, sync_state, sort, limit, offset
func parseRecordFilter(r *http.Request) (models.RecordFilter, *models.APIError) {
	q := r.URL.Query()
	req := RecordsQueryRequest{
		Kinds:      multiValue(r, "kind"),
		SourceID:   q.Get("source_id"),
		From:       q.Get("from"),
		To:         q.Get("to"),
		SyncStates: multiValue(r, "sync_state"),
		Sort:       q.Get("sort"),
		Limit:      getIntParam(r, "limit", DefaultPageSize),
		Offset:     getIntParam(r, "offset", 0),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		return models.RecordFilter{}, apiErr
	}

	f, err := req.Filter()
	if err == nil {
		err = validation.ValidateFilter(f)
	}
	if err != nil {
		return models.RecordFilter{}, &models.APIError{
			Code:    CodeValidation,
			Message: err.Error(),
			Details: fieldDetails(err),
		}
	}
	return f, nil
}
