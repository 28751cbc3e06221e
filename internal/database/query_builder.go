// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package database

import (
	"strings"

	"github.com/tomtom215/telemetrysync/internal/database/query"
	"github.com/tomtom215/telemetrysync/internal/models"
)

// buildInClause creates placeholders and args for an IN clause.
// Returns the placeholder string (e.g. "?,?,?") and the args slice.
func buildInClause(items []string) (string, []interface{}) {
	placeholders := make([]string, len(items))
	args := make([]interface{}, len(items))
	for i, item := range items {
		placeholders[i] = "?"
		args[i] = item
	}
	return strings.Join(placeholders, ","), args
}

// buildFilterConditions turns a RecordFilter into a WHERE clause over the
// records/status join (aliases r and s). Sort, Limit and Offset are the
// caller's concern.
func buildFilterConditions(f models.RecordFilter) (string, []interface{}) {
	wb := query.NewWhereBuilder().
		AddIn("r.kind", f.Kinds).
		AddMillisRange("r.ts", f.From, f.To).
		AddEquals("r.source_id", f.SourceID)

	if len(f.SyncStates) > 0 {
		states := make([]string, len(f.SyncStates))
		for i, st := range f.SyncStates {
			states[i] = string(st)
		}
		wb.AddIn("s.status", states)
	}

	return wb.BuildWithPrefix()
}

// orderByClause maps a sort order to SQL. The id tiebreaker keeps paging stable.
func orderByClause(order models.SortOrder) string {
	switch order {
	case models.SortTimestampDesc:
		return "r.ts DESC, r.id DESC"
	case models.SortCreatedAsc:
		return "r.created_at ASC, r.id ASC"
	case models.SortCreatedDesc:
		return "r.created_at DESC, r.id DESC"
	default:
		return "r.ts ASC, r.id ASC"
	}
}
