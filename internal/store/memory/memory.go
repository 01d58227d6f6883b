// Package memory is an in-process record store. It backs dry runs, tests
// and servers started without a database.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/store"
)

// StoredRecord is a persisted record with its bookkeeping.
type StoredRecord struct {
	ID             string
	OrganizationID string
	EntityType     string
	RunID          uuid.UUID
	Data           core.Record
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type recordKey struct {
	org, entityType, externalID string
}

// Store keeps records and reports in maps.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*StoredRecord // internal ID -> record
	external map[recordKey]string     // -> internal ID
	reports  map[uuid.UUID]*core.Report
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		records:  make(map[string]*StoredRecord),
		external: make(map[recordKey]string),
		reports:  make(map[uuid.UUID]*core.Report),
	}
}

// Persist inserts rec or replaces the record with the same organization,
// entity type and external ID or link key, keeping its internal ID.
func (s *Store) Persist(ctx context.Context, runID uuid.UUID, entityType string, rec core.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	org := core.OrganizationFromContext(ctx)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var ext string
	if k := store.ExternalID(rec); k != nil {
		ext = *k
	}
	key := recordKey{org, entityType, ext}
	if id, ok := s.external[key]; ok && ext != "" {
		stored := s.records[id]
		stored.Data = maps.Clone(rec)
		stored.RunID = runID
		stored.UpdatedAt = now
		return id, nil
	}

	id := uuid.NewString()
	s.records[id] = &StoredRecord{
		ID:             id,
		OrganizationID: org,
		EntityType:     entityType,
		RunID:          runID,
		Data:           maps.Clone(rec),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ext != "" {
		s.external[key] = id
	}
	return id, nil
}

// Patch merges fields into a stored record.
func (s *Store) Patch(ctx context.Context, _ uuid.UUID, entityType, internalID string, fields core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[internalID]
	if !ok || stored.EntityType != entityType {
		return fmt.Errorf("patch %s/%s: record not found", entityType, internalID)
	}
	maps.Copy(stored.Data, fields)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

// LookupReference implements core.ReferenceLookup.
func (s *Store) LookupReference(_ context.Context, orgID, entityType, externalID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.external[recordKey{orgID, entityType, externalID}]
	return id, ok, nil
}

// Get returns a copy of a stored record.
func (s *Store) Get(internalID string) (StoredRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.records[internalID]
	if !ok {
		return StoredRecord{}, false
	}
	out := *stored
	out.Data = maps.Clone(stored.Data)
	return out, true
}

// Records returns copies of the stored records of one entity type in
// creation order.
func (s *Store) Records(orgID, entityType string) []StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StoredRecord
	for _, stored := range s.records {
		if stored.OrganizationID == orgID && stored.EntityType == entityType {
			cp := *stored
			cp.Data = maps.Clone(stored.Data)
			out = append(out, cp)
		}
	}
	slices.SortFunc(out, func(a, b StoredRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Count returns how many records an organization has of an entity type.
func (s *Store) Count(orgID, entityType string) int {
	return len(s.Records(orgID, entityType))
}

// SaveReport implements core.ReportSink.
func (s *Store) SaveReport(_ context.Context, report *core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.RunID] = report
	return nil
}

// LoadReport implements core.ReportStore.
func (s *Store) LoadReport(_ context.Context, runID uuid.UUID) (*core.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	return report, nil
}

// ListReports implements core.ReportStore, newest first.
func (s *Store) ListReports(_ context.Context, limit int) ([]core.RunSummary, error) {
	s.mu.RLock()
	out := make([]core.RunSummary, 0, len(s.reports))
	for _, report := range s.reports {
		out = append(out, report.Summary())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b core.RunSummary) int { return b.StartedAt.Compare(a.StartedAt) })
	return out[:min(len(out), store.ListLimit(limit))], nil
}

// Close implements io.Closer.
func (s *Store) Close() error { return nil }
