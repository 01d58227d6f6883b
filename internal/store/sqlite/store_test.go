package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/caseimport/internal/core"
	_ "github.com/JonMunkholm/caseimport/internal/core/entities"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func orgCtx(org string) context.Context {
	return core.ContextWithOrganization(context.Background(), org)
}

func TestOpen_MigratesOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err, "reopening skips applied migrations")
	defer s.Close()
	v, err = s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

// ============================================================================
// Record Tests
// ============================================================================

func TestPersist_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := orgCtx("org-1")

	id, err := s.Persist(ctx, uuid.New(), "accounts", core.Record{
		core.ExternalIDKey: "A-1",
		"name":             "Acme",
		"budget":           decimal.RequireFromString("1234.50"),
	})
	require.NoError(t, err)

	again, err := s.Persist(ctx, uuid.New(), "accounts", core.Record{core.ExternalIDKey: "A-1", "name": "Acme Ltd"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	data, err := s.Record(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", data["name"])

	n, err := s.Count(context.Background(), "org-1", "accounts")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	other, err := s.Persist(orgCtx("org-2"), uuid.New(), "accounts", core.Record{core.ExternalIDKey: "A-1"})
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestPersist_DecimalsKeepPrecision(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Persist(orgCtx(""), uuid.New(), "budgets", core.Record{"amount": decimal.RequireFromString("0.10")})
	require.NoError(t, err)

	data, err := s.Record(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "0.1", data["amount"])
}

func TestPersist_LinkRows(t *testing.T) {
	s := newTestStore(t)
	for range 3 {
		_, err := s.Persist(orgCtx(""), uuid.New(), "case_subjects", core.Record{"case_id": "c", "subject_id": "s"})
		require.NoError(t, err)
	}
	n, err := s.Count(context.Background(), "", "case_subjects")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPersist_LinkKeyUpserts(t *testing.T) {
	s := newTestStore(t)
	var ids []string
	for _, role := range []string{"claimant", "witness"} {
		id, err := s.Persist(orgCtx(""), uuid.New(), "case_subjects", core.Record{
			"case_id": "c", "subject_id": "s", "role": role, core.LinkKeyField: "cases:c|subjects:s",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, ids[0], ids[1])

	n, err := s.Count(context.Background(), "", "case_subjects")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := s.Record(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "witness", data["role"])
}

func TestPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := orgCtx("org-1")
	id, err := s.Persist(ctx, uuid.New(), "accounts", core.Record{core.ExternalIDKey: "A-1", "name": "Acme"})
	require.NoError(t, err)

	require.NoError(t, s.Patch(ctx, uuid.New(), "accounts", id, core.Record{"parent_account_id": "p-1"}))
	data, err := s.Record(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "p-1", data["parent_account_id"])
	assert.Equal(t, "Acme", data["name"])

	err = s.Patch(orgCtx("org-2"), uuid.New(), "accounts", id, core.Record{"name": "x"})
	assert.ErrorContains(t, err, "record not found")
}

func TestLookupReference(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Persist(orgCtx("org-1"), uuid.New(), "accounts", core.Record{core.ExternalIDKey: "A-1"})
	require.NoError(t, err)

	got, found, err := s.LookupReference(context.Background(), "org-1", "accounts", "A-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	_, found, err = s.LookupReference(context.Background(), "org-1", "contacts", "A-1")
	require.NoError(t, err)
	assert.False(t, found)
}

// ============================================================================
// Report Tests
// ============================================================================

func TestReports(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := range 3 {
		r := &core.Report{
			RunID:      uuid.New(),
			State:      core.RunCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Second),
			FinishedAt: base.Add(time.Duration(i)*time.Second + 500*time.Millisecond),
			Order:      []string{"accounts"},
			Entities:   []core.EntityReport{{EntityType: "accounts", State: core.RunCompleted, Succeeded: i + 1, Failed: 1}},
		}
		require.NoError(t, s.SaveReport(ctx, r))
		ids = append(ids, r.RunID)
	}

	loaded, err := s.LoadReport(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts"}, loaded.Order)
	assert.Equal(t, 1, loaded.Entities[0].Succeeded)

	_, err = s.LoadReport(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrRunNotFound)

	list, err := s.ListReports(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].RunID)
	assert.Equal(t, 3, list[0].Succeeded)
	assert.Equal(t, 1, list[0].Failed)
	assert.True(t, list[0].StartedAt.Equal(base.Add(2*time.Second)))
}

func TestSaveReport_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := &core.Report{RunID: uuid.New(), State: core.RunRunning, StartedAt: time.Now()}
	require.NoError(t, s.SaveReport(ctx, r))

	r.State = core.RunFailed
	r.Diagnostic = "boom"
	require.NoError(t, s.SaveReport(ctx, r))

	loaded, err := s.LoadReport(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, loaded.State)
	assert.Equal(t, "boom", loaded.Diagnostic)
}

// ============================================================================
// Import Tests
// ============================================================================

func TestImport_ResolvesAcrossRuns(t *testing.T) {
	s := newTestStore(t)
	imp := core.NewImporter(core.MustLoadRegistry(), s)
	ctx := context.Background()

	first, err := imp.Run(ctx, mapSource{
		"accounts": {{core.ExternalIDKey: "CLIENT-001", "name": "Acme"}},
	}, core.RunOptions{OrganizationID: "org-1"})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, first.State)

	second, err := imp.Run(ctx, mapSource{
		"contacts": {{core.ExternalIDKey: "CON-1", "first_name": "Jo", "account_external_id": "CLIENT-001"}},
	}, core.RunOptions{OrganizationID: "org-1", Only: []string{"contacts"}})
	require.NoError(t, err)
	contacts, ok := second.Entity("contacts")
	require.True(t, ok)
	assert.Equal(t, 1, contacts.Succeeded, "account from the first run resolves through the store")

	accountID, found, err := s.LookupReference(ctx, "org-1", "accounts", "CLIENT-001")
	require.NoError(t, err)
	require.True(t, found)
	contactID, found, err := s.LookupReference(ctx, "org-1", "contacts", "CON-1")
	require.NoError(t, err)
	require.True(t, found)

	data, err := s.Record(ctx, contactID)
	require.NoError(t, err)
	assert.Equal(t, accountID, data["account_id"])
}

func TestClassify(t *testing.T) {
	plain := errors.New("no such table")
	assert.False(t, core.IsTransient(classify(plain)))
	assert.False(t, core.IsTransient(classify(fmt.Errorf("wrapped: %w", plain))))
}

type mapSource map[string][]core.RawRecord

func (m mapSource) Records(_ context.Context, entityType string) ([]core.RawRecord, error) {
	return m[entityType], nil
}
