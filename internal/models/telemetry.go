// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package models

import (
	"bytes"
	"fmt"
	"maps"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Well-known telemetry kinds. Kind is an open tag; these are the values
// produced by the capture pipeline today.
const (
	KindLight        = "light"
	KindTemperature  = "temperature"
	KindHumidity     = "humidity"
	KindSoilMoisture = "soil_moisture"
	KindGrowthPhoto  = "growth_photo"
)

// TelemetryRecord is a single timestamped sensor or observation datum captured
// on the device.
//
// Key Fields:
//   - ID: client-generated, globally unique and immutable
//   - ServerID: assigned by the remote service on the first successful sync
//   - SourceID: device or capture session that produced the reading
//   - Kind: sensor/observation type tag (see Kind* constants)
//   - Timestamp: event time, used for FIFO sync ordering
//
// A record whose sync status is Synced is immutable apart from its sync
// bookkeeping. Updating the payload of a synced record moves it back to
// Pending so the change is pushed with UpdateBatch.
type TelemetryRecord struct {
	ID         string            `json:"id" validate:"required,max=128"`
	ServerID   *string           `json:"server_id,omitempty" validate:"omitempty,max=128"`
	SourceID   string            `json:"source_id" validate:"required,max=128"`
	Kind       string            `json:"kind" validate:"required,telemetry_kind"`
	Value      Value             `json:"value"`
	Unit       string            `json:"unit" validate:"max=32"`
	Timestamp  time.Time         `json:"timestamp" validate:"required"`
	Location   *Location         `json:"location,omitempty" validate:"omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" validate:"max=32,dive,keys,attr_key,endkeys,max=256"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewRecord builds a record with a fresh client id and creation timestamps.
// Timestamps are truncated to milliseconds, the resolution of the local store.
func NewRecord(sourceID, kind string, value Value, unit string, ts time.Time) *TelemetryRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &TelemetryRecord{
		ID:         uuid.New().String(),
		SourceID:   sourceID,
		Kind:       kind,
		Value:      value,
		Unit:       unit,
		Timestamp:  ts.UTC().Truncate(time.Millisecond),
		Attributes: map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// HasServerID reports whether the remote service has acknowledged the record.
func (r *TelemetryRecord) HasServerID() bool {
	return r.ServerID != nil && *r.ServerID != ""
}

// ServerIDValue returns the server id or "" when unset.
func (r *TelemetryRecord) ServerIDValue() string {
	if r.ServerID == nil {
		return ""
	}
	return *r.ServerID
}

// Clone returns a deep copy. Cache entries and event payloads are clones so
// callers can never mutate shared state.
func (r *TelemetryRecord) Clone() *TelemetryRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ServerID != nil {
		sid := *r.ServerID
		c.ServerID = &sid
	}
	if r.Location != nil {
		loc := *r.Location
		c.Location = &loc
	}
	c.Value = r.Value.clone()
	if r.Attributes != nil {
		c.Attributes = maps.Clone(r.Attributes)
	}
	return &c
}

// EqualContent compares the user-supplied fields of two records, ignoring
// server-assigned fields and bookkeeping timestamps.
func (r *TelemetryRecord) EqualContent(o *TelemetryRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.ID != o.ID || r.SourceID != o.SourceID || r.Kind != o.Kind || r.Unit != o.Unit {
		return false
	}
	if !r.Timestamp.Equal(o.Timestamp) || !r.Value.Equal(o.Value) {
		return false
	}
	if (r.Location == nil) != (o.Location == nil) {
		return false
	}
	if r.Location != nil && !r.Location.Equal(*o.Location) {
		return false
	}
	if len(r.Attributes) != len(o.Attributes) {
		return false
	}
	return maps.Equal(r.Attributes, o.Attributes)
}

// Location is an optional geographic fix attached to a reading.
type Location struct {
	Latitude  float64  `json:"latitude" validate:"latitude"`
	Longitude float64  `json:"longitude" validate:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

// Equal compares two locations field by field.
func (l Location) Equal(o Location) bool {
	return l.Latitude == o.Latitude &&
		l.Longitude == o.Longitude &&
		floatPtrEqual(l.Altitude, o.Altitude) &&
		floatPtrEqual(l.Accuracy, o.Accuracy)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Value is the payload of a telemetry record: either a single number
// (a light reading in lux) or a set of named numeric fields (growth photo
// metrics). Exactly one form is set.
//
// JSON encoding follows the form: a scalar encodes as a bare number, a
// structured value as an object.
type Value struct {
	Scalar *float64
	Fields map[string]float64
}

// ScalarValue wraps a single numeric reading.
func ScalarValue(v float64) Value {
	return Value{Scalar: &v}
}

// StructuredValue wraps a set of named numeric fields.
func StructuredValue(fields map[string]float64) Value {
	return Value{Fields: maps.Clone(fields)}
}

// IsScalar reports whether the value holds a single number.
func (v Value) IsScalar() bool {
	return v.Scalar != nil
}

// Validate checks that exactly one form is populated.
func (v Value) Validate() error {
	switch {
	case v.Scalar != nil && v.Fields != nil:
		return fmt.Errorf("value must be either scalar or structured, not both")
	case v.Scalar == nil && len(v.Fields) == 0:
		return fmt.Errorf("value is required")
	}
	for k := range v.Fields {
		if k == "" || len(k) > 64 {
			return fmt.Errorf("value field name %q must be 1-64 characters", k)
		}
	}
	return nil
}

// Equal compares two values.
func (v Value) Equal(o Value) bool {
	if !floatPtrEqual(v.Scalar, o.Scalar) {
		return false
	}
	return maps.Equal(v.Fields, o.Fields)
}

func (v Value) clone() Value {
	c := Value{}
	if v.Scalar != nil {
		s := *v.Scalar
		c.Scalar = &s
	}
	if v.Fields != nil {
		c.Fields = maps.Clone(v.Fields)
	}
	return c
}

// MarshalJSON encodes the scalar form as a number and the structured form as an object.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Scalar != nil {
		return json.Marshal(*v.Scalar)
	}
	if v.Fields != nil {
		return json.Marshal(v.Fields)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a bare number or an object of numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*v = Value{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '{' {
		fields := make(map[string]float64)
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return fmt.Errorf("decode structured value: %w", err)
		}
		v.Fields = fields
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return fmt.Errorf("decode scalar value: %w", err)
	}
	v.Scalar = &f
	return nil
}
