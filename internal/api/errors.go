// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/telemetrysync/internal/models"
	intsync "github.com/tomtom215/telemetrysync/internal/sync"
)

// API error codes.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeStorage     = "STORAGE_ERROR"
	CodeNetwork     = "NETWORK_ERROR"
	CodeInternal    = "INTERNAL_ERROR"
	CodeBadRequest  = "BAD_REQUEST"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrIDMismatch is returned when a body id contradicts the path id.
var ErrIDMismatch = errors.New("record id in body does not match path")

// classifyError maps a repository error to an HTTP status and error code.
func classifyError(err error) (status int, code string) {
	var (
		ve *models.ValidationError
		se *models.StorageError
		ne *models.NetworkError
		ce *models.ConflictError
	)
	switch {
	case errors.As(err, &ve), errors.Is(err, ErrIDMismatch):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, intsync.ErrNotFailed), errors.As(err, &ce):
		return http.StatusConflict, CodeConflict
	case errors.As(err, &se):
		return http.StatusInternalServerError, CodeStorage
	case errors.As(err, &ne):
		return http.StatusServiceUnavailable, CodeNetwork
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// fieldDetails exposes validation field errors in the error envelope.
func fieldDetails(err error) map[string]interface{} {
	var ve *models.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) == 0 {
		return nil
	}
	details := map[string]interface{}{"fields": ve.Fields}
	if ve.RecordID != "" {
		details["record_id"] = ve.RecordID
	}
	return details
}
