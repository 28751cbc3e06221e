// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package ingest

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/telemetrysync/internal/models"
)

// Backend is the in-memory record store behind the reference server.
// Records are keyed by server id; the client id index makes create
// idempotent.
type Backend struct {
	mu       sync.RWMutex
	byServer map[string]*models.TelemetryRecord
	byClient map[string]string
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{
		byServer: make(map[string]*models.TelemetryRecord),
		byClient: make(map[string]string),
	}
}

// Create stores a record under a new server id. A record whose client id is
// already known is returned unchanged with created=false.
func (b *Backend) Create(r *models.TelemetryRecord) (rec *models.TelemetryRecord, created bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sid, ok := b.byClient[r.ID]; ok {
		return b.byServer[sid].Clone(), false
	}

	stored := r.Clone()
	sid := uuid.New().String()
	stored.ServerID = &sid
	b.byServer[sid] = stored
	b.byClient[stored.ID] = sid
	return stored.Clone(), true
}

// Update replaces the record stored under serverID. Without force, an
// incoming copy older than the stored one is rejected with a
// *models.ConflictError.
func (b *Backend) Update(serverID string, r *models.TelemetryRecord, force bool) (*models.TelemetryRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.byServer[serverID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if current.ID != r.ID {
		return nil, models.NewValidationError(r.ID, "id", "client id does not match the stored record")
	}
	if !force && r.UpdatedAt.Before(current.UpdatedAt) {
		return nil, &models.ConflictError{
			RecordID:        r.ID,
			ServerID:        serverID,
			LocalUpdatedAt:  r.UpdatedAt,
			RemoteUpdatedAt: current.UpdatedAt,
			Message:         "stored copy is newer",
		}
	}

	stored := r.Clone()
	sid := serverID
	stored.ServerID = &sid
	b.byServer[serverID] = stored
	return stored.Clone(), nil
}

// Put stores a record as-is, replacing any copy. Used by tests to seed or
// to simulate edits made by another device.
func (b *Backend) Put(r *models.TelemetryRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := r.Clone()
	if !stored.HasServerID() {
		sid := uuid.New().String()
		stored.ServerID = &sid
	}
	b.byServer[*stored.ServerID] = stored
	b.byClient[stored.ID] = *stored.ServerID
}

// Delete removes a record. It reports whether it existed.
func (b *Backend) Delete(serverID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.byServer[serverID]
	if !ok {
		return false
	}
	delete(b.byServer, serverID)
	delete(b.byClient, r.ID)
	return true
}

// Get returns a record by server id.
func (b *Backend) Get(serverID string) (*models.TelemetryRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.byServer[serverID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// GetByClientID returns a record by its client id.
func (b *Backend) GetByClientID(id string) (*models.TelemetryRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sid, ok := b.byClient[id]
	if !ok {
		return nil, false
	}
	return b.byServer[sid].Clone(), true
}

// Query returns one page of matching records, oldest event first, and the
// total number of matches.
func (b *Backend) Query(f models.RecordFilter) ([]*models.TelemetryRecord, int) {
	b.mu.RLock()
	matches := make([]*models.TelemetryRecord, 0, len(b.byServer))
	for _, r := range b.byServer {
		if matchesRemote(f, r) {
			matches = append(matches, r.Clone())
		}
	}
	b.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Timestamp.Equal(matches[j].Timestamp) {
			return matches[i].Timestamp.Before(matches[j].Timestamp)
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	if f.Offset >= total {
		return []*models.TelemetryRecord{}, total
	}
	matches = matches[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matches) {
		matches = matches[:f.Limit]
	}
	return matches, total
}

// Count returns the number of matching records.
func (b *Backend) Count(f models.RecordFilter) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, r := range b.byServer {
		if matchesRemote(f, r) {
			n++
		}
	}
	return n
}

// Len returns the number of stored records.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byServer)
}

// matchesRemote applies the filter fields the remote understands. The
// remote has no notion of sync state.
func matchesRemote(f models.RecordFilter, r *models.TelemetryRecord) bool {
	f.SyncStates = nil
	return f.Matches(r, models.SyncStateSynced)
}
