package core

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test fixtures
// ============================================================================

// memPersister is an in-memory Persister that can inject failures.
type memPersister struct {
	mu       sync.Mutex
	seq      int
	records  map[string]map[string]Record // entityType -> internalID -> record
	patches  []patchCall
	attempts map[string]int // externalID -> Persist calls

	// fail, when set, is consulted before every Persist.
	fail func(entityType string, rec Record, attempt int) error
	// previous holds IDs persisted by an earlier run, for ReferenceLookup.
	previous map[string]map[string]string
}

type patchCall struct {
	EntityType string
	InternalID string
	Fields     Record
}

func newMemPersister() *memPersister {
	return &memPersister{
		records:  make(map[string]map[string]Record),
		attempts: make(map[string]int),
	}
}

func (p *memPersister) Persist(_ context.Context, _ uuid.UUID, entityType string, rec Record) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ext := rec.ExternalID()
	p.attempts[entityType+"/"+ext]++
	if p.fail != nil {
		if err := p.fail(entityType, rec, p.attempts[entityType+"/"+ext]); err != nil {
			return "", err
		}
	}

	p.seq++
	id := fmt.Sprintf("%s-%03d", entityType, p.seq)
	if p.records[entityType] == nil {
		p.records[entityType] = make(map[string]Record)
	}
	p.records[entityType][id] = maps.Clone(rec)
	return id, nil
}

func (p *memPersister) Patch(_ context.Context, _ uuid.UUID, entityType, internalID string, fields Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[entityType][internalID]
	if !ok {
		return fmt.Errorf("patch %s/%s: not found", entityType, internalID)
	}
	maps.Copy(rec, fields)
	p.patches = append(p.patches, patchCall{EntityType: entityType, InternalID: internalID, Fields: maps.Clone(fields)})
	return nil
}

// byExternalID returns the stored record with the given external ID.
func (p *memPersister) byExternalID(entityType, ext string) (string, Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, rec := range p.records[entityType] {
		if rec.ExternalID() == ext {
			return id, rec, true
		}
	}
	return "", nil, false
}

func (p *memPersister) count(entityType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records[entityType])
}

// lookupPersister adds ReferenceLookup over IDs from an earlier run.
type lookupPersister struct {
	*memPersister
}

func (p lookupPersister) LookupReference(_ context.Context, _ string, entityType, externalID string) (string, bool, error) {
	id, ok := p.previous[entityType][externalID]
	return id, ok, nil
}

// mapSource serves fixed batches.
type mapSource map[string][]RawRecord

func (s mapSource) Records(_ context.Context, entityType string) ([]RawRecord, error) {
	return s[entityType], nil
}

// funcSource adapts a function to Source.
type funcSource func(ctx context.Context, entityType string) ([]RawRecord, error)

func (f funcSource) Records(ctx context.Context, entityType string) ([]RawRecord, error) {
	return f(ctx, entityType)
}

func accountsDef() EntityDefinition {
	return EntityDefinition{
		EntityType:  "accounts",
		DisplayName: "Clients",
		ImportOrder: 1,
		Columns: []ColumnSpec{
			{Name: "External Record ID", Key: ExternalIDKey, Type: ColumnText, Required: true},
			{Name: "Name", Key: "name", Type: ColumnText, Required: true},
			{Name: "Parent Account External ID", Key: "parent_account_external_id", Type: ColumnReference, References: "accounts"},
			{Name: "State", Key: "state", Type: ColumnText},
			{Name: "Billing Rate", Key: "billing_rate", Type: ColumnNumber},
		},
	}
}

func contactsDef() EntityDefinition {
	return EntityDefinition{
		EntityType:  "contacts",
		DisplayName: "Contacts",
		ImportOrder: 2,
		DependsOn:   []string{"accounts"},
		Columns: []ColumnSpec{
			{Name: "External Record ID", Key: ExternalIDKey, Type: ColumnText, Required: true},
			{Name: "Account External ID", Key: "account_external_id", Type: ColumnReference, References: "accounts"},
			{Name: "First Name", Key: "first_name", Type: ColumnText, Required: true},
			{Name: "Email", Key: "email", Type: ColumnText},
			{Name: "Phone", Key: "phone", Type: ColumnText},
			{Name: "Started At", Key: "started_at", Type: ColumnDate},
		},
	}
}

func accountContactsDef() EntityDefinition {
	return EntityDefinition{
		EntityType:  "account_contacts",
		DisplayName: "Account Contacts",
		ImportOrder: 3,
		DependsOn:   []string{"accounts", "contacts"},
		Link:        true,
		Columns: []ColumnSpec{
			{Name: "Account External ID", Key: "account_external_id", Type: ColumnReference, References: "accounts", Required: true},
			{Name: "Contact External ID", Key: "contact_external_id", Type: ColumnReference, References: "contacts", Required: true},
			{Name: "Role", Key: "role", Type: ColumnText},
		},
	}
}

func testRegistry(t testing.TB) *Registry {
	t.Helper()
	reg, err := NewRegistry(accountsDef(), contactsDef())
	require.NoError(t, err)
	return reg
}
