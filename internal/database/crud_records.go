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

	"github.com/goccy/go-json"

	"github.com/tomtom215/telemetrysync/internal/database/query"
	"github.com/tomtom215/telemetrysync/internal/models"
	"github.com/tomtom215/telemetrysync/internal/validation"
)

// inChunkSize bounds the number of placeholders in one IN clause.
const inChunkSize = 500

// noLimit stands in for "no LIMIT" when only OFFSET is set; both engines
// require a LIMIT before OFFSET.
const noLimit = int64(1) << 62

const upsertRecordSQL = `INSERT INTO telemetry_records (
		id, server_id, source_id, kind, value_json, unit, ts,
		latitude, longitude, altitude, accuracy, attributes_json,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		server_id = EXCLUDED.server_id,
		source_id = EXCLUDED.source_id,
		kind = EXCLUDED.kind,
		value_json = EXCLUDED.value_json,
		unit = EXCLUDED.unit,
		ts = EXCLUDED.ts,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		altitude = EXCLUDED.altitude,
		accuracy = EXCLUDED.accuracy,
		attributes_json = EXCLUDED.attributes_json,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at`

const insertPendingStatusSQL = `INSERT INTO sync_status (record_id, status, retry_count)
	VALUES (?, 'pending', 0)
	ON CONFLICT (record_id) DO NOTHING`

const upsertStatusSQL = `INSERT INTO sync_status (
		record_id, status, retry_count, last_attempt, last_success, error_message
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (record_id) DO UPDATE SET
		status = EXCLUDED.status,
		retry_count = EXCLUDED.retry_count,
		last_attempt = EXCLUDED.last_attempt,
		last_success = EXCLUDED.last_success,
		error_message = EXCLUDED.error_message`

const selectRecordColumns = `r.id, r.server_id, r.source_id, r.kind, r.value_json, r.unit, r.ts,
	r.latitude, r.longitude, r.altitude, r.accuracy, r.attributes_json,
	r.created_at, r.updated_at,
	s.status, s.retry_count, s.last_attempt, s.last_success, s.error_message`

const fromRecordsJoin = `FROM telemetry_records r JOIN sync_status s ON s.record_id = r.id`

// Insert upserts a record by id. A new record starts Pending; an existing
// record keeps its sync status. The record is validated first and its
// timestamps are normalized to millisecond precision.
func (s *Store) Insert(ctx context.Context, r *models.TelemetryRecord) error {
	return s.insert(ctx, "insert", []*models.TelemetryRecord{r}, nil)
}

// InsertWithStatus upserts a record and replaces its sync status.
func (s *Store) InsertWithStatus(ctx context.Context, r *models.TelemetryRecord, status models.SyncStatus) error {
	if r != nil {
		status.RecordID = r.ID
	}
	return s.insert(ctx, "insert_with_status", []*models.TelemetryRecord{r}, []models.SyncStatus{status})
}

// InsertBatch upserts several records in one transaction. Either every
// record is committed or none is.
func (s *Store) InsertBatch(ctx context.Context, records []*models.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.insert(ctx, "insert_batch", records, nil)
}

// InsertBatchWithStatus upserts records with explicit statuses, paired by index.
func (s *Store) InsertBatchWithStatus(ctx context.Context, records []*models.TelemetryRecord, statuses []models.SyncStatus) error {
	if len(records) != len(statuses) {
		return fmt.Errorf("insert batch: %d records but %d statuses", len(records), len(statuses))
	}
	if len(records) == 0 {
		return nil
	}
	for i := range statuses {
		if records[i] != nil {
			statuses[i].RecordID = records[i].ID
		}
	}
	return s.insert(ctx, "insert_batch_with_status", records, statuses)
}

func (s *Store) insert(ctx context.Context, op string, records []*models.TelemetryRecord, statuses []models.SyncStatus) error {
	for _, r := range records {
		if err := validation.ValidateRecord(r); err != nil {
			return err
		}
	}
	for _, st := range statuses {
		if !st.State.Valid() {
			return models.NewValidationError(st.RecordID, "status", fmt.Sprintf("unknown sync state %q", st.State))
		}
	}

	ctx, finish, err := s.begin(ctx, op, true)
	if err != nil {
		return err
	}

	args := make([][]interface{}, len(records))
	for i, r := range records {
		normalizeTimestamps(r)
		a, err := recordArgs(r)
		if err != nil {
			return finish(err)
		}
		args[i] = a
	}

	err = s.withConflictRetry(ctx, func(tx *sql.Tx) error {
		for i, r := range records {
			if _, err := tx.ExecContext(ctx, upsertRecordSQL, args[i]...); err != nil {
				return fmt.Errorf("upsert record %s: %w", r.ID, err)
			}
			if statuses == nil {
				if _, err := tx.ExecContext(ctx, insertPendingStatusSQL, r.ID); err != nil {
					return fmt.Errorf("insert status %s: %w", r.ID, err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, upsertStatusSQL, statusArgs(statuses[i])...); err != nil {
				return fmt.Errorf("upsert status %s: %w", r.ID, err)
			}
		}
		return nil
	})
	return finish(err)
}

// GetByID returns the record with the given client id or models.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*models.TelemetryRecord, error) {
	rws, err := s.GetWithStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return rws.Record, nil
}

// GetWithStatus returns a record together with its sync status.
func (s *Store) GetWithStatus(ctx context.Context, id string) (*models.RecordWithStatus, error) {
	ctx, finish, err := s.begin(ctx, "get", false)
	if err != nil {
		return nil, err
	}

	row := s.conn.QueryRowContext(ctx,
		"SELECT "+selectRecordColumns+" "+fromRecordsJoin+" WHERE r.id = ?", id)
	rws, err := scanRecordWithStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, finish(models.ErrNotFound)
	}
	if err != nil {
		return nil, finish(err)
	}
	return rws, finish(nil)
}

// GetByIDs returns the records that exist, in the order of ids. Missing
// ids are skipped and duplicates collapse to one entry.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]*models.TelemetryRecord, error) {
	if len(ids) == 0 {
		return []*models.TelemetryRecord{}, nil
	}

	ctx, finish, err := s.begin(ctx, "get_many", false)
	if err != nil {
		return nil, err
	}

	unique := dedupe(ids)
	found := make(map[string]*models.TelemetryRecord, len(unique))
	for start := 0; start < len(unique); start += inChunkSize {
		end := min(start+inChunkSize, len(unique))
		wb := query.NewWhereBuilder().AddIn("r.id", unique[start:end])
		where, args := wb.BuildWithPrefix()

		rows, err := s.queryRecords(ctx, "SELECT "+selectRecordColumns+" "+fromRecordsJoin+" "+where, args)
		if err != nil {
			return nil, finish(err)
		}
		for _, rws := range rows {
			found[rws.Record.ID] = rws.Record
		}
	}

	out := make([]*models.TelemetryRecord, 0, len(found))
	for _, id := range unique {
		if r, ok := found[id]; ok {
			out = append(out, r)
		}
	}
	return out, finish(nil)
}

// Query returns records matching the filter.
func (s *Store) Query(ctx context.Context, f models.RecordFilter) ([]*models.TelemetryRecord, error) {
	rows, err := s.QueryWithStatus(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*models.TelemetryRecord, len(rows))
	for i, rws := range rows {
		out[i] = rws.Record
	}
	return out, nil
}

// QueryWithStatus returns matching records with their sync status.
func (s *Store) QueryWithStatus(ctx context.Context, f models.RecordFilter) ([]*models.RecordWithStatus, error) {
	if err := validation.ValidateFilter(f); err != nil {
		return nil, err
	}

	ctx, finish, err := s.begin(ctx, "query", false)
	if err != nil {
		return nil, err
	}

	where, args := buildFilterConditions(f)
	q := "SELECT " + selectRecordColumns + " " + fromRecordsJoin + " " + where + " ORDER BY " + orderByClause(f.EffectiveSort())
	switch {
	case f.Limit > 0:
		q += " LIMIT ?"
		args = append(args, f.Limit)
	case f.Offset > 0:
		q += " LIMIT ?"
		args = append(args, noLimit)
	}
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.queryRecords(ctx, q, args)
	return rows, finish(err)
}

// CountWhere counts records matching the filter, ignoring Sort, Limit and Offset.
func (s *Store) CountWhere(ctx context.Context, f models.RecordFilter) (int, error) {
	if err := validation.ValidateFilter(f); err != nil {
		return 0, err
	}

	ctx, finish, err := s.begin(ctx, "count", false)
	if err != nil {
		return 0, err
	}

	where, args := buildFilterConditions(f)
	var n int64
	err = s.conn.QueryRowContext(ctx, "SELECT COUNT(*) "+fromRecordsJoin+" "+where, args...).Scan(&n)
	return int(n), finish(err)
}

// Delete removes a record and its sync status. It reports whether the
// record existed; deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, finish, err := s.begin(ctx, "delete", true)
	if err != nil {
		return false, err
	}

	var existed bool
	err = s.withConflictRetry(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_status WHERE record_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM telemetry_records WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		existed = n > 0
		return nil
	})
	return existed, finish(err)
}

// DeleteWhere removes records whose event timestamp is before olderThan.
// With onlySynced, records that still have unsynced changes are kept.
// It returns the ids that were removed.
func (s *Store) DeleteWhere(ctx context.Context, olderThan time.Time, onlySynced bool) ([]string, error) {
	ctx, finish, err := s.begin(ctx, "delete_where", true)
	if err != nil {
		return nil, err
	}

	wb := query.NewWhereBuilder().AddClause("r.ts < ?", olderThan.UnixMilli())
	if onlySynced {
		wb.AddClause("s.status = ?", string(models.SyncStateSynced))
	}
	where, args := wb.BuildWithPrefix()

	var removed []string
	err = s.withConflictRetry(ctx, func(tx *sql.Tx) error {
		removed = removed[:0]
		rows, err := tx.QueryContext(ctx, "SELECT r.id "+fromRecordsJoin+" "+where, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				closeQuietly(rows)
				return err
			}
			removed = append(removed, id)
		}
		if err := rows.Err(); err != nil {
			closeQuietly(rows)
			return err
		}
		closeWithLog(rows, "rows")

		for start := 0; start < len(removed); start += inChunkSize {
			end := min(start+inChunkSize, len(removed))
			in, inArgs := buildInClause(removed[start:end])
			if _, err := tx.ExecContext(ctx, "DELETE FROM sync_status WHERE record_id IN ("+in+")", inArgs...); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM telemetry_records WHERE id IN ("+in+")", inArgs...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, finish(err)
	}
	if removed == nil {
		removed = []string{}
	}
	return removed, finish(nil)
}

// queryRecords runs a SELECT of selectRecordColumns and scans every row.
func (s *Store) queryRecords(ctx context.Context, q string, args []interface{}) ([]*models.RecordWithStatus, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer closeWithLog(rows, "rows")

	out := []*models.RecordWithStatus{}
	for rows.Next() {
		rws, err := scanRecordWithStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rws)
	}
	return out, rows.Err()
}

func normalizeTimestamps(r *models.TelemetryRecord) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Millisecond)
	r.CreatedAt = r.CreatedAt.UTC().Truncate(time.Millisecond)
	r.UpdatedAt = r.UpdatedAt.UTC().Truncate(time.Millisecond)
}

func recordArgs(r *models.TelemetryRecord) ([]interface{}, error) {
	valueJSON, err := json.Marshal(r.Value)
	if err != nil {
		return nil, fmt.Errorf("encode value of %s: %w", r.ID, err)
	}

	var attrs sql.NullString
	if len(r.Attributes) > 0 {
		b, err := json.Marshal(r.Attributes)
		if err != nil {
			return nil, fmt.Errorf("encode attributes of %s: %w", r.ID, err)
		}
		attrs = sql.NullString{String: string(b), Valid: true}
	}

	var serverID sql.NullString
	if r.HasServerID() {
		serverID = sql.NullString{String: *r.ServerID, Valid: true}
	}

	var lat, lon, alt, acc sql.NullFloat64
	if r.Location != nil {
		lat = sql.NullFloat64{Float64: r.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: r.Location.Longitude, Valid: true}
		alt = nullFloat(r.Location.Altitude)
		acc = nullFloat(r.Location.Accuracy)
	}

	return []interface{}{
		r.ID, serverID, r.SourceID, r.Kind, string(valueJSON), r.Unit, r.Timestamp.UnixMilli(),
		lat, lon, alt, acc, attrs,
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	}, nil
}

func statusArgs(st models.SyncStatus) []interface{} {
	var msg sql.NullString
	if st.ErrorMessage != "" {
		msg = sql.NullString{String: st.ErrorMessage, Valid: true}
	}
	return []interface{}{
		st.RecordID, string(st.State), st.RetryCount,
		nullMillis(st.LastAttempt), nullMillis(st.LastSuccess), msg,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecordWithStatus(sc rowScanner) (*models.RecordWithStatus, error) {
	var (
		r                       models.TelemetryRecord
		serverID, attrs, errMsg sql.NullString
		valueJSON, status       string
		ts, createdAt, updated  int64
		lat, lon, alt, acc      sql.NullFloat64
		retryCount              int64
		lastAttempt, lastOK     sql.NullInt64
	)

	if err := sc.Scan(
		&r.ID, &serverID, &r.SourceID, &r.Kind, &valueJSON, &r.Unit, &ts,
		&lat, &lon, &alt, &acc, &attrs,
		&createdAt, &updated,
		&status, &retryCount, &lastAttempt, &lastOK, &errMsg,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(valueJSON), &r.Value); err != nil {
		return nil, fmt.Errorf("decode value of %s: %w", r.ID, err)
	}
	r.Attributes = map[string]string{}
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &r.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", r.ID, err)
		}
	}
	if serverID.Valid && serverID.String != "" {
		sid := serverID.String
		r.ServerID = &sid
	}
	if lat.Valid && lon.Valid {
		r.Location = &models.Location{
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
			Altitude:  floatPtr(alt),
			Accuracy:  floatPtr(acc),
		}
	}
	r.Timestamp = time.UnixMilli(ts).UTC()
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()

	st := models.SyncStatus{
		RecordID:     r.ID,
		State:        models.SyncState(status),
		RetryCount:   int(retryCount),
		LastAttempt:  timePtr(lastAttempt),
		LastSuccess:  timePtr(lastOK),
		ErrorMessage: errMsg.String,
	}

	return &models.RecordWithStatus{Record: &r, Status: st}, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
