// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package api

import (
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/telemetrysync/internal/models"
)

func TestCleanupRequest_Validation(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		req     CleanupRequest
		wantErr bool
	}{
		{"older_than", CleanupRequest{OlderThan: &cutoff}, false},
		{"older_than_days", CleanupRequest{OlderThanDays: 30}, false},
		{"neither", CleanupRequest{}, true},
		{"both", CleanupRequest{OlderThan: &cutoff, OlderThanDays: 30}, true},
		{"days too large", CleanupRequest{OlderThanDays: 5000}, true},
		{"negative days", CleanupRequest{OlderThanDays: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			apiErr := validateRequest(&tt.req)
			if (apiErr != nil) != tt.wantErr {
				t.Errorf("validateRequest() = %+v, wantErr %v", apiErr, tt.wantErr)
			}
			if apiErr != nil && apiErr.Code != CodeValidation {
				t.Errorf("code = %s", apiErr.Code)
			}
		})
	}
}

func TestCleanupRequest_Cutoff(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	abs := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := (CleanupRequest{OlderThan: &abs}).Cutoff(now); !got.Equal(abs) {
		t.Errorf("absolute cutoff = %v, want %v", got, abs)
	}

	want := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	if got := (CleanupRequest{OlderThanDays: 7}).Cutoff(now); !got.Equal(want) {
		t.Errorf("relative cutoff = %v, want %v", got, want)
	}
}

func TestBatchRequest_Validation(t *testing.T) {
	t.Parallel()

	if apiErr := validateRequest(&BatchRequest{}); apiErr == nil {
		t.Error("empty batch accepted")
	}

	full := BatchRequest{Records: make([]*models.TelemetryRecord, 501)}
	if apiErr := validateRequest(&full); apiErr == nil {
		t.Error("batch over 500 accepted")
	}

	// Item content is validated by the repository, per record.
	ok := BatchRequest{Records: []*models.TelemetryRecord{{ID: ""}}}
	if apiErr := validateRequest(&ok); apiErr != nil {
		t.Errorf("batch of one rejected: %+v", apiErr)
	}
}

func TestRecordsQueryRequest_Filter(t *testing.T) {
	t.Parallel()

	q := RecordsQueryRequest{
		Kinds:      []string{models.KindLight},
		SourceID:   "s1",
		From:       "2026-01-01T00:00:00.5Z",
		SyncStates: []string{"synced"},
		Sort:       "created_desc",
		Limit:      5,
		Offset:     10,
	}
	f, err := q.Filter()
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if f.From == nil || f.From.Nanosecond() != 500_000_000 {
		t.Errorf("from = %v", f.From)
	}
	if f.To != nil {
		t.Errorf("to = %v, want nil", f.To)
	}
	if len(f.SyncStates) != 1 || f.SyncStates[0] != models.SyncStateSynced {
		t.Errorf("states = %v", f.SyncStates)
	}
	if f.Sort != models.SortCreatedDesc || f.Limit != 5 || f.Offset != 10 {
		t.Errorf("sort/limit/offset = %s/%d/%d", f.Sort, f.Limit, f.Offset)
	}

	_, err = RecordsQueryRequest{To: "not a time"}.Filter()
	if err == nil || !strings.Contains(err.Error(), "to must be") {
		t.Errorf("bad to err = %v", err)
	}
}
