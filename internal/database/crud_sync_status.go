// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/telemetrysync/internal/database/query"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// BackoffFunc returns how long a record with the given retry count must
// wait after its last attempt before it is eligible again.
type BackoffFunc func(retryCount int) time.Duration

// EligibleParams selects records for a sync pass.
type EligibleParams struct {
	Now        time.Time
	MaxRetries int

	// Backoff gates records with retryCount > 0. Nil ignores backoff.
	Backoff BackoffFunc

	Kinds []string

	// Limit caps the result; 0 returns every eligible record.
	Limit int
}

// GetStatus returns the sync status of a record or models.ErrNotFound.
func (s *Store) GetStatus(ctx context.Context, id string) (models.SyncStatus, error) {
	rws, err := s.GetWithStatus(ctx, id)
	if err != nil {
		return models.SyncStatus{}, err
	}
	return rws.Status, nil
}

// UpdateSyncStatus replaces the status row of an existing record.
func (s *Store) UpdateSyncStatus(ctx context.Context, st models.SyncStatus) error {
	return s.UpdateSyncStatuses(ctx, []models.SyncStatus{st})
}

// UpdateSyncStatuses replaces several status rows in one transaction.
// A missing record fails the whole call with models.ErrNotFound.
func (s *Store) UpdateSyncStatuses(ctx context.Context, statuses []models.SyncStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	for _, st := range statuses {
		if !st.State.Valid() {
			return models.NewValidationError(st.RecordID, "status", fmt.Sprintf("unknown sync state %q", st.State))
		}
	}

	ctx, finish, err := s.begin(ctx, "update_status", true)
	if err != nil {
		return err
	}

	err = s.withConflictRetry(ctx, func(tx *sql.Tx) error {
		for _, st := range statuses {
			a := statusArgs(st)
			res, err := tx.ExecContext(ctx, `UPDATE sync_status SET
					status = ?, retry_count = ?, last_attempt = ?, last_success = ?, error_message = ?
				WHERE record_id = ?`,
				a[1], a[2], a[3], a[4], a[5], a[0])
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return fmt.Errorf("status of %s: %w", st.RecordID, models.ErrNotFound)
			}
		}
		return nil
	})
	return finish(err)
}

// MarkInProgress claims records for an in-flight remote call. Only Pending
// and Failed rows move; the ids actually claimed are returned.
func (s *Store) MarkInProgress(ctx context.Context, ids []string, at time.Time) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	ctx, finish, err := s.begin(ctx, "mark_in_progress", true)
	if err != nil {
		return nil, err
	}

	unique := dedupe(ids)
	var claimed []string
	err = s.withConflictRetry(ctx, func(tx *sql.Tx) error {
		claimed = claimed[:0]
		for start := 0; start < len(unique); start += inChunkSize {
			end := min(start+inChunkSize, len(unique))
			wb := query.NewWhereBuilder().
				AddIn("record_id", unique[start:end]).
				AddIn("status", []string{string(models.SyncStatePending), string(models.SyncStateFailed)})
			where, args := wb.BuildWithPrefix()

			chunk, err := selectIDs(ctx, tx, "SELECT record_id FROM sync_status "+where, args)
			if err != nil {
				return err
			}
			if len(chunk) == 0 {
				continue
			}
			in, inArgs := buildInClause(chunk)
			execArgs := append([]interface{}{string(models.SyncStateInProgress), at.UnixMilli()}, inArgs...)
			if _, err := tx.ExecContext(ctx,
				"UPDATE sync_status SET status = ?, last_attempt = ? WHERE record_id IN ("+in+")", execArgs...); err != nil {
				return err
			}
			claimed = append(claimed, chunk...)
		}
		return nil
	})
	if err != nil {
		return nil, finish(err)
	}
	if claimed == nil {
		claimed = []string{}
	}
	return claimed, finish(nil)
}

// MarkSynced attaches the server id and moves the record to Synced with a
// reset retry budget.
func (s *Store) MarkSynced(ctx context.Context, id, serverID string, at time.Time) error {
	ctx, finish, err := s.begin(ctx, "mark_synced", true)
	if err != nil {
		return err
	}

	err = s.withConflictRetry(ctx, func(tx *sql.Tx) error {
		if serverID != "" {
			res, err := tx.ExecContext(ctx, "UPDATE telemetry_records SET server_id = ? WHERE id = ?", serverID, id)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return models.ErrNotFound
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE sync_status SET
				status = ?, retry_count = 0, last_success = ?, error_message = NULL
			WHERE record_id = ?`,
			string(models.SyncStateSynced), at.UnixMilli(), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
	return finish(err)
}

// SelectEligible returns records a sync pass may send: Pending, or Failed
// with retries left, whose backoff window has elapsed. Oldest event first.
func (s *Store) SelectEligible(ctx context.Context, p EligibleParams) ([]*models.RecordWithStatus, error) {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	ctx, finish, err := s.begin(ctx, "select_eligible", false)
	if err != nil {
		return nil, err
	}

	wb := query.NewWhereBuilder().
		AddClause("(s.status = ? OR (s.status = ? AND s.retry_count < ?))",
			string(models.SyncStatePending), string(models.SyncStateFailed), maxRetries).
		AddIn("r.kind", p.Kinds)
	where, args := wb.BuildWithPrefix()

	// Backoff depends on retry_count through a Go function, so candidates
	// are paged and filtered here rather than in SQL.
	pageSize := inChunkSize
	if p.Limit > 0 && p.Limit*2 < pageSize {
		pageSize = p.Limit * 2
	}

	out := []*models.RecordWithStatus{}
	for offset := 0; ; offset += pageSize {
		q := "SELECT " + selectRecordColumns + " " + fromRecordsJoin + " " + where +
			" ORDER BY r.ts ASC, r.id ASC LIMIT ? OFFSET ?"
		page, err := s.queryRecords(ctx, q, append(append([]interface{}{}, args...), pageSize, offset))
		if err != nil {
			return nil, finish(err)
		}
		for _, rws := range page {
			if !backoffElapsed(rws.Status, now, p.Backoff) {
				continue
			}
			out = append(out, rws)
			if p.Limit > 0 && len(out) >= p.Limit {
				return out, finish(nil)
			}
		}
		if len(page) < pageSize {
			return out, finish(nil)
		}
	}
}

func backoffElapsed(st models.SyncStatus, now time.Time, backoff BackoffFunc) bool {
	if backoff == nil || st.RetryCount == 0 || st.LastAttempt == nil {
		return true
	}
	return !st.LastAttempt.Add(backoff(st.RetryCount)).After(now)
}

// ResetInProgress reverts every InProgress row to Pending. Called on open
// to recover claims held by a process that died mid-pass.
func (s *Store) ResetInProgress(ctx context.Context) (int, error) {
	ctx, finish, err := s.begin(ctx, "reset_in_progress", true)
	if err != nil {
		return 0, err
	}

	var n int64
	err = s.withConflictRetry(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE sync_status SET status = ? WHERE status = ?",
			string(models.SyncStatePending), string(models.SyncStateInProgress))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), finish(err)
}

// CountByStatus returns the number of records in each sync state. Every
// state is present in the result, zero when empty.
func (s *Store) CountByStatus(ctx context.Context) (map[models.SyncState]int, error) {
	ctx, finish, err := s.begin(ctx, "count_by_status", false)
	if err != nil {
		return nil, err
	}

	counts := map[models.SyncState]int{
		models.SyncStatePending:    0,
		models.SyncStateInProgress: 0,
		models.SyncStateSynced:     0,
		models.SyncStateFailed:     0,
	}

	rows, err := s.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM sync_status GROUP BY status")
	if err != nil {
		return nil, finish(err)
	}
	defer closeWithLog(rows, "rows")

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, finish(err)
		}
		counts[models.SyncState(status)] = int(n)
	}
	return counts, finish(rows.Err())
}

// CountUnsynced counts records that still need a successful sync:
// Pending, InProgress, and Failed with retries left.
func (s *Store) CountUnsynced(ctx context.Context, maxRetries int) (int, error) {
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}

	ctx, finish, err := s.begin(ctx, "count_unsynced", false)
	if err != nil {
		return 0, err
	}

	var n int64
	err = s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_status WHERE status IN (?, ?) OR (status = ? AND retry_count < ?)",
		string(models.SyncStatePending), string(models.SyncStateInProgress),
		string(models.SyncStateFailed), maxRetries,
	).Scan(&n)
	return int(n), finish(err)
}

func selectIDs(ctx context.Context, tx *sql.Tx, q string, args []interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer closeWithLog(rows, "rows")

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
