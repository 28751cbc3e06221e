// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package remote

import (
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/telemetrysync/internal/models"
)

// Paths of the Remote Telemetry API.
const (
	PathTelemetry = "/telemetry"
	PathBatch     = "/telemetry/batch"
	PathCount     = "/telemetry/count"
	PathHealth    = "/health"
)

// Query parameter names.
const (
	ParamKind     = "kind"
	ParamFrom     = "from"
	ParamTo       = "to"
	ParamSourceID = "sourceId"
	ParamLimit    = "limit"
	ParamOffset   = "offset"
	ParamForce    = "force"
)

// BatchRequest is the body of POST and PUT /telemetry/batch.
type BatchRequest struct {
	Records []*models.TelemetryRecord `json:"records"`
}

// QueryResponse is the body of GET /telemetry.
type QueryResponse struct {
	Records []*models.TelemetryRecord `json:"records"`
	Total   int                       `json:"total"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// ServerUpdatedAt is set on CONFLICT replies.
	ServerUpdatedAt *time.Time `json:"server_updated_at,omitempty"`
}

// FilterToQuery encodes the remote-relevant part of a filter. Sync states,
// sort order and anything the remote does not index are ignored.
func FilterToQuery(f models.RecordFilter) url.Values {
	q := url.Values{}
	for _, k := range f.Kinds {
		q.Add(ParamKind, k)
	}
	if f.From != nil {
		q.Set(ParamFrom, f.From.UTC().Format(time.RFC3339Nano))
	}
	if f.To != nil {
		q.Set(ParamTo, f.To.UTC().Format(time.RFC3339Nano))
	}
	if f.SourceID != "" {
		q.Set(ParamSourceID, f.SourceID)
	}
	if f.Limit > 0 {
		q.Set(ParamLimit, strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set(ParamOffset, strconv.Itoa(f.Offset))
	}
	return q
}

// FilterFromQuery is the inverse of FilterToQuery, used by servers.
func FilterFromQuery(q url.Values) (models.RecordFilter, error) {
	f := models.RecordFilter{Kinds: q[ParamKind], SourceID: q.Get(ParamSourceID)}

	for param, dst := range map[string]**time.Time{ParamFrom: &f.From, ParamTo: &f.To} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return f, models.NewValidationError("", param, param+" must be an RFC3339 timestamp")
		}
		*dst = &t
	}

	for param, dst := range map[string]*int{ParamLimit: &f.Limit, ParamOffset: &f.Offset} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, models.NewValidationError("", param, param+" must be a non-negative integer")
		}
		*dst = n
	}
	return f, nil
}
