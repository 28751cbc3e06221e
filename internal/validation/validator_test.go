// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/telemetrysync/internal/models"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

func validRecord() *models.TelemetryRecord {
	r := models.NewRecord("sensor-1", models.KindLight, models.ScalarValue(420), "lux", time.Now())
	r.Attributes["room"] = "greenhouse"
	return r
}

func TestValidateRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(r *models.TelemetryRecord)
		wantField string
	}{
		{name: "valid", mutate: func(r *models.TelemetryRecord) {}},
		{name: "missing id", mutate: func(r *models.TelemetryRecord) { r.ID = "" }, wantField: "id"},
		{name: "missing source", mutate: func(r *models.TelemetryRecord) { r.SourceID = "" }, wantField: "source_id"},
		{name: "uppercase kind", mutate: func(r *models.TelemetryRecord) { r.Kind = "Light" }, wantField: "kind"},
		{name: "zero timestamp", mutate: func(r *models.TelemetryRecord) { r.Timestamp = time.Time{} }, wantField: "timestamp"},
		{name: "empty value", mutate: func(r *models.TelemetryRecord) { r.Value = models.Value{} }, wantField: "value"},
		{name: "bad latitude", mutate: func(r *models.TelemetryRecord) {
			r.Location = &models.Location{Latitude: 91, Longitude: 0}
		}, wantField: "latitude"},
		{name: "bad attribute key", mutate: func(r *models.TelemetryRecord) { r.Attributes["bad key!"] = "x" }, wantField: "attributes"},
		{name: "long attribute value", mutate: func(r *models.TelemetryRecord) {
			r.Attributes["note"] = strings.Repeat("x", 257)
		}, wantField: "attributes"},
		{name: "updated before created", mutate: func(r *models.TelemetryRecord) {
			r.UpdatedAt = r.CreatedAt.Add(-time.Minute)
		}, wantField: "updated_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := validRecord()
			tt.mutate(r)

			err := ValidateRecord(r)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateRecord() unexpected error: %v", err)
				}
				return
			}

			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateRecord() error = %v, want *models.ValidationError", err)
			}
			found := false
			for _, f := range ve.Fields {
				if strings.HasPrefix(f.Field, tt.wantField) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got %+v", tt.wantField, ve.Fields)
			}
		})
	}
}

func TestValidateRecord_Nil(t *testing.T) {
	if err := ValidateRecord(nil); err == nil {
		t.Error("nil record should fail validation")
	}
}

func TestValidateFilter(t *testing.T) {
	t.Parallel()

	from := time.Now()
	to := from.Add(-time.Hour)

	tests := []struct {
		name    string
		filter  models.RecordFilter
		wantErr bool
	}{
		{"empty", models.RecordFilter{}, false},
		{"kinds", models.RecordFilter{Kinds: []string{"light", "soil_moisture"}}, false},
		{"bad kind", models.RecordFilter{Kinds: []string{"Light!"}}, true},
		{"inverted range", models.RecordFilter{From: &from, To: &to}, true},
		{"bad sort", models.RecordFilter{Sort: "random"}, true},
		{"limit too large", models.RecordFilter{Limit: models.MaxQueryLimit + 1}, true},
		{"negative offset", models.RecordFilter{Offset: -1}, true},
		{"unknown state", models.RecordFilter{SyncStates: []models.SyncState{"lost"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateFilter(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	type request struct {
		Limit int    `json:"limit" validate:"min=1,max=1000"`
		Kind  string `json:"kind" validate:"required,telemetry_kind"`
	}

	t.Run("single error", func(t *testing.T) {
		verr := ValidateStruct(&request{Limit: 10})
		if verr == nil {
			t.Fatal("expected validation error")
		}
		apiErr := verr.ToAPIError()
		if apiErr.Code != "VALIDATION_ERROR" {
			t.Errorf("Code = %s, want VALIDATION_ERROR", apiErr.Code)
		}
		if apiErr.Details["field"] != "kind" {
			t.Errorf("field = %v, want kind", apiErr.Details["field"])
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		verr := ValidateStruct(&request{Limit: 0, Kind: "BAD"})
		if verr == nil {
			t.Fatal("expected validation error")
		}
		if len(verr.Errors()) != 2 {
			t.Fatalf("expected 2 errors, got %d", len(verr.Errors()))
		}
		apiErr := verr.ToAPIError()
		if _, ok := apiErr.Details["fields"]; !ok {
			t.Error("multiple errors should list fields")
		}
		if !strings.Contains(apiErr.Message, "limit must be at least 1") {
			t.Errorf("unexpected message: %s", apiErr.Message)
		}
	})
}
