// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package models

import (
	"fmt"
	"time"
)

// SyncState is the position of a record in the sync state machine.
type SyncState string

const (
	SyncStatePending    SyncState = "pending"
	SyncStateInProgress SyncState = "in_progress"
	SyncStateSynced     SyncState = "synced"
	SyncStateFailed     SyncState = "failed"
)

// DefaultMaxRetries bounds automatic sync attempts per record.
const DefaultMaxRetries = 3

// Valid reports whether s is one of the known states.
func (s SyncState) Valid() bool {
	switch s {
	case SyncStatePending, SyncStateInProgress, SyncStateSynced, SyncStateFailed:
		return true
	}
	return false
}

// ParseSyncState converts a string to a SyncState.
func ParseSyncState(s string) (SyncState, error) {
	st := SyncState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown sync state %q", s)
	}
	return st, nil
}

// allowedTransitions encodes the per-record state machine:
//
//	pending -> in_progress -> synced | pending (retry) | failed (terminal)
//
// synced -> pending happens when a synced record is edited locally, and
// failed -> pending only through a manual requeue.
var allowedTransitions = map[SyncState][]SyncState{
	SyncStatePending:    {SyncStateInProgress, SyncStatePending, SyncStateSynced},
	SyncStateInProgress: {SyncStateSynced, SyncStatePending, SyncStateFailed},
	SyncStateSynced:     {SyncStatePending, SyncStateSynced},
	SyncStateFailed:     {SyncStateInProgress, SyncStatePending},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to SyncState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SyncStatus is the sync bookkeeping kept one-to-one with a TelemetryRecord.
//
// Invariants:
//   - a Synced record always has a non-nil ServerID on its record
//   - RetryCount only increases; it resets to zero on success or manual requeue
type SyncStatus struct {
	RecordID     string     `json:"record_id"`
	State        SyncState  `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewPendingStatus returns the status every freshly captured record starts with.
func NewPendingStatus(recordID string) SyncStatus {
	return SyncStatus{RecordID: recordID, State: SyncStatePending}
}

// IsTerminal reports whether the record exhausted its retry budget.
func (s SyncStatus) IsTerminal(maxRetries int) bool {
	return s.State == SyncStateFailed && s.RetryCount >= maxRetries
}

// Transition moves the status to a new state, rejecting illegal moves.
func (s *SyncStatus) Transition(to SyncState) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("illegal sync transition %s -> %s for record %s", s.State, to, s.RecordID)
	}
	s.State = to
	return nil
}

// MarkInProgress records the start of a sync attempt.
func (s *SyncStatus) MarkInProgress(at time.Time) error {
	if err := s.Transition(SyncStateInProgress); err != nil {
		return err
	}
	s.LastAttempt = &at
	return nil
}

// MarkSynced records a successful attempt and resets the retry budget.
func (s *SyncStatus) MarkSynced(at time.Time) error {
	if err := s.Transition(SyncStateSynced); err != nil {
		return err
	}
	s.RetryCount = 0
	s.LastSuccess = &at
	s.ErrorMessage = ""
	return nil
}

// MarkFailedAttempt records a failed attempt. The record goes back to
// Pending until the retry budget is exhausted, then becomes terminal Failed.
// A non-retryable failure goes straight to terminal Failed.
func (s *SyncStatus) MarkFailedAttempt(at time.Time, msg string, maxRetries int, retryable bool) error {
	s.RetryCount++
	s.LastAttempt = &at
	s.ErrorMessage = msg
	if !retryable && s.RetryCount < maxRetries {
		s.RetryCount = maxRetries
	}
	if s.RetryCount >= maxRetries {
		return s.Transition(SyncStateFailed)
	}
	return s.Transition(SyncStatePending)
}

// Requeue returns a terminal record to Pending with a fresh retry budget.
func (s *SyncStatus) Requeue() error {
	if err := s.Transition(SyncStatePending); err != nil {
		return err
	}
	s.RetryCount = 0
	s.ErrorMessage = ""
	return nil
}

// StatusTransition is published whenever a record's sync state changes.
type StatusTransition struct {
	RecordID  string    `json:"record_id"`
	From      SyncState `json:"from"`
	To        SyncState `json:"to"`
	Retry     int       `json:"retry_count"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordWithStatus pairs a record with its sync bookkeeping.
type RecordWithStatus struct {
	Record *TelemetryRecord `json:"record"`
	Status SyncStatus       `json:"sync_status"`
}
