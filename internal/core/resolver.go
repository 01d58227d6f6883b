package core

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// ReferenceLookup finds records persisted by earlier runs. It lets a re-run
// that targets only some entity types resolve references to the rest.
type ReferenceLookup interface {
	LookupReference(ctx context.Context, organizationID, entityType, externalID string) (internalID string, found bool, err error)
}

// UnresolvedReferenceError is returned when an external ID was never
// registered for the referenced entity type.
type UnresolvedReferenceError struct {
	EntityType string
	ExternalID string
	Field      string // Referencing column, if known
}

func (e *UnresolvedReferenceError) Error() string {
	return "unresolved reference: " + e.EntityType + "/" + e.ExternalID
}

// DuplicateIDError is returned when an external ID appears twice within one
// entity type in a run.
type DuplicateIDError struct {
	EntityType string
	ExternalID string
	FirstRow   int // Row that claimed the ID first, or -1 if it was registered
}

func (e *DuplicateIDError) Error() string {
	if e.FirstRow >= 0 {
		return fmt.Sprintf("duplicate external ID %s/%s (first seen in row %d)", e.EntityType, e.ExternalID, e.FirstRow)
	}
	return fmt.Sprintf("duplicate external ID %s/%s", e.EntityType, e.ExternalID)
}

// Resolver maps external record IDs to internal IDs for one import run.
// The map only grows during a run and is safe for concurrent use.
type Resolver struct {
	mu     sync.RWMutex
	ids    map[string]map[string]string // entityType -> externalID -> internalID
	claims map[string]map[string]int    // entityType -> externalID -> row index

	lookup ReferenceLookup
	orgID  string
}

// NewResolver creates an empty resolver. lookup may be nil.
func NewResolver(lookup ReferenceLookup, organizationID string) *Resolver {
	return &Resolver{
		ids:    make(map[string]map[string]string),
		claims: make(map[string]map[string]int),
		lookup: lookup,
		orgID:  organizationID,
	}
}

// Register records the internal ID of a persisted record.
// It fails if the external ID is already registered for the entity type.
func (r *Resolver) Register(entityType, externalID, internalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.ids[entityType]
	if m == nil {
		m = make(map[string]string)
		r.ids[entityType] = m
	}
	if _, exists := m[externalID]; exists {
		return &DuplicateIDError{EntityType: entityType, ExternalID: externalID, FirstRow: -1}
	}
	m[externalID] = internalID
	return nil
}

// Resolve returns the internal ID registered for an external ID. On a miss it
// asks the ReferenceLookup, if any, and caches what it finds.
func (r *Resolver) Resolve(ctx context.Context, entityType, externalID string) (string, error) {
	r.mu.RLock()
	id, ok := r.ids[entityType][externalID]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	if r.lookup != nil {
		id, found, err := r.lookup.LookupReference(ctx, r.orgID, entityType, externalID)
		if err != nil {
			return "", fmt.Errorf("lookup %s/%s: %w", entityType, externalID, err)
		}
		if found {
			r.mu.Lock()
			if r.ids[entityType] == nil {
				r.ids[entityType] = make(map[string]string)
			}
			if existing, ok := r.ids[entityType][externalID]; ok {
				id = existing
			} else {
				r.ids[entityType][externalID] = id
			}
			r.mu.Unlock()
			return id, nil
		}
	}

	return "", &UnresolvedReferenceError{EntityType: entityType, ExternalID: externalID}
}

// Claim reserves an external ID for a row before it is persisted. The first
// row to claim an ID keeps it; later rows get a *DuplicateIDError.
func (r *Resolver) Claim(entityType, externalID string, row int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[entityType][externalID]; exists {
		return &DuplicateIDError{EntityType: entityType, ExternalID: externalID, FirstRow: -1}
	}

	m := r.claims[entityType]
	if m == nil {
		m = make(map[string]int)
		r.claims[entityType] = m
	}
	if first, exists := m[externalID]; exists {
		return &DuplicateIDError{EntityType: entityType, ExternalID: externalID, FirstRow: first}
	}
	m[externalID] = row
	return nil
}

// Release drops the claims of an entity type once its rows are processed.
func (r *Resolver) Release(entityType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, entityType)
}

// Len returns the number of IDs registered for an entity type.
func (r *Resolver) Len(entityType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids[entityType])
}

// Snapshot returns a copy of the registered IDs.
func (r *Resolver) Snapshot() map[string]map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]string, len(r.ids))
	for entityType, m := range r.ids {
		out[entityType] = maps.Clone(m)
	}
	return out
}
