// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a record does not exist locally or remotely.
var ErrNotFound = errors.New("record not found")

// FieldError is a single rejected field of a ValidationError.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag,omitempty"`
	Message string `json:"message"`
}

// ValidationError reports malformed input. It is raised before anything is
// persisted and is never retried.
type ValidationError struct {
	RecordID string
	Fields   []FieldError
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(recordID, field, message string) *ValidationError {
	return &ValidationError{
		RecordID: recordID,
		Fields:   []FieldError{{Field: field, Message: message}},
	}
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	if e.RecordID != "" {
		return fmt.Sprintf("invalid record %s: %s", e.RecordID, strings.Join(msgs, "; "))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// StorageError wraps a local durability failure. It is fatal for the
// operation and always surfaced to the caller.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err, returning nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NetworkError is a transient remote failure: transport error, timeout,
// 5xx, throttling or an open circuit breaker. It drives the retry path.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Temporary marks the error as safe to retry.
func (e *NetworkError) Temporary() bool { return true }

// ConflictError is raised when the remote rejects a write because its copy
// is newer. Resolution is last-write-wins on UpdatedAt.
type ConflictError struct {
	RecordID        string
	ServerID        string
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt time.Time
	Message         string
}

func (e *ConflictError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "stale version"
	}
	return fmt.Sprintf("conflict on record %s (server %s): %s", e.RecordID, e.ServerID, msg)
}

// SyncItemError is the per-item failure of a sync pass. It is aggregated
// into SyncResult and never returned from Sync.
type SyncItemError struct {
	RecordID string
	Code     string
	Err      error
}

func (e *SyncItemError) Error() string {
	return fmt.Sprintf("sync record %s [%s]: %v", e.RecordID, e.Code, e.Err)
}

func (e *SyncItemError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should go down the retry path.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ie *SyncItemError
	if errors.As(err, &ie) {
		return ie.Code != ItemCodeValidation
	}
	return true
}

// IsNetworkError reports whether err is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
