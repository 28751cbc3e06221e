// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package query

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized arguments.
// Placeholders are "?" which both supported drivers accept.
//
// Example usage:
//
//	wb := query.NewWhereBuilder()
//	wb.AddIn("r.kind", kinds)
//	wb.AddMillisRange("r.ts", from, to)
//	whereClause, args := wb.Build()
//	// r.kind IN (?, ?) AND r.ts >= ? AND r.ts <= ?
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates a new WhereBuilder instance.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{
		clauses: []string{},
		args:    []interface{}{},
	}
}

// AddClause adds a raw WHERE clause with its arguments.
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddEquals adds "column = ?" when value is non-empty.
func (wb *WhereBuilder) AddEquals(column, value string) *WhereBuilder {
	if value != "" {
		wb.AddClause(column+" = ?", value)
	}
	return wb
}

// AddMillisRange adds bounds on a column holding unix milliseconds.
// Nil bounds are skipped; both bounds are inclusive.
func (wb *WhereBuilder) AddMillisRange(column string, from, to *time.Time) *WhereBuilder {
	if from != nil {
		wb.AddClause(column+" >= ?", from.UnixMilli())
	}
	if to != nil {
		wb.AddClause(column+" <= ?", to.UnixMilli())
	}
	return wb
}

// AddIn adds "column IN (?, ...)". An empty slice is skipped.
func (wb *WhereBuilder) AddIn(column string, values []string) *WhereBuilder {
	if len(values) == 0 {
		return wb
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		wb.args = append(wb.args, v)
	}
	wb.clauses = append(wb.clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	return wb
}

// Build constructs the final WHERE clause and returns it with arguments.
// Clauses are joined with "AND". Returns ("1=1", []) if no clauses were added.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns the WHERE clause with "WHERE " prefix.
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	whereClause, args := wb.Build()
	return "WHERE " + whereClause, args
}

// Count returns the number of clauses added to the builder.
func (wb *WhereBuilder) Count() int {
	return len(wb.clauses)
}

// IsEmpty returns true if no clauses have been added.
func (wb *WhereBuilder) IsEmpty() bool {
	return len(wb.clauses) == 0
}
