// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package remote

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/telemetrysync/internal/models"
)

// maxErrorBody bounds how much of an error reply is read.
const maxErrorBody = 64 << 10

// Outcome labels for metrics.
const (
	outcomeSuccess    = "success"
	outcomeNetwork    = "network"
	outcomeRejected   = "rejected"
	outcomeValidation = "validation"
	outcomeConflict   = "conflict"
	outcomeNotFound   = "not_found"
	outcomeError      = "error"
)

// classifyResponse maps a non-2xx reply onto the error taxonomy:
//
//	400, 422           -> *models.ValidationError
//	404                -> models.ErrNotFound
//	409                -> *models.ConflictError
//	408, 429, 5xx      -> *models.NetworkError
//	anything else      -> plain error
func classifyResponse(op string, rc requestConfig, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var er ErrorResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &er); err != nil {
			er.Message = strings.TrimSpace(string(body))
		}
	}
	if er.Message == "" {
		er.Message = http.StatusText(resp.StatusCode)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return models.NewValidationError(rc.recordID, "record", er.Message)
	case code == http.StatusNotFound:
		return fmt.Errorf("remote %s %s: %w", op, rc.serverID, models.ErrNotFound)
	case code == http.StatusConflict:
		ce := &models.ConflictError{RecordID: rc.recordID, ServerID: rc.serverID, Message: er.Message}
		if er.ServerUpdatedAt != nil {
			ce.RemoteUpdatedAt = *er.ServerUpdatedAt
		}
		if rc.updatedAt != nil {
			ce.LocalUpdatedAt = *rc.updatedAt
		}
		return ce
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &models.NetworkError{Op: op, StatusCode: code, Err: errors.New(er.Message)}
	default:
		return fmt.Errorf("remote %s: unexpected status %d: %s", op, code, er.Message)
	}
}

// outcomeOf returns the metrics label of a call result.
func outcomeOf(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return outcomeRejected
	}
	var ve *models.ValidationError
	var ce *models.ConflictError
	switch {
	case models.IsNetworkError(err):
		return outcomeNetwork
	case errors.As(err, &ve):
		return outcomeValidation
	case errors.As(err, &ce):
		return outcomeConflict
	case errors.Is(err, models.ErrNotFound):
		return outcomeNotFound
	default:
		return outcomeError
	}
}

// ItemCode returns the batch item code a whole-call error maps to.
func ItemCode(err error) string {
	var ve *models.ValidationError
	var ce *models.ConflictError
	switch {
	case models.IsNetworkError(err):
		return models.ItemCodeNetwork
	case errors.As(err, &ve):
		return models.ItemCodeValidation
	case errors.As(err, &ce):
		return models.ItemCodeConflict
	case errors.Is(err, models.ErrNotFound):
		return models.ItemCodeNotFound
	default:
		return models.ItemCodeInternal
	}
}

// FailBatch reports every record of a batch whose call failed as a whole.
// A validation rejection of a multi-record batch cannot be pinned on any one
// record, so it is reported as a retryable INTERNAL failure.
func FailBatch(records []*models.TelemetryRecord, err error) *models.BatchOperationResult {
	code := ItemCode(err)
	if code == models.ItemCodeValidation && len(records) > 1 {
		code = models.ItemCodeInternal
	}
	return models.FailAll(records, code, err)
}

// transportError wraps a failed round trip. Cancellation by the caller is
// reported as-is; everything else is transient.
func transportError(op string, callerCtxErr, err error) error {
	if callerCtxErr != nil {
		return callerCtxErr
	}
	return &models.NetworkError{Op: op, Err: err}
}
