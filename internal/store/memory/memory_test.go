package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/caseimport/internal/core"
	_ "github.com/JonMunkholm/caseimport/internal/core/entities"
)

func orgCtx(org string) context.Context {
	return core.ContextWithOrganization(context.Background(), org)
}

func TestPersist_UpsertsByExternalID(t *testing.T) {
	s := New()
	ctx := orgCtx("org-1")
	run := uuid.New()

	id, err := s.Persist(ctx, run, "accounts", core.Record{core.ExternalIDKey: "A-1", "name": "Acme"})
	require.NoError(t, err)

	again, err := s.Persist(ctx, run, "accounts", core.Record{core.ExternalIDKey: "A-1", "name": "Acme Ltd"})
	require.NoError(t, err)
	assert.Equal(t, id, again, "same external ID keeps the internal ID")

	stored, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Acme Ltd", stored.Data["name"])
	assert.Equal(t, "org-1", stored.OrganizationID)
	assert.Equal(t, 1, s.Count("org-1", "accounts"))

	other, err := s.Persist(orgCtx("org-2"), run, "accounts", core.Record{core.ExternalIDKey: "A-1", "name": "Other"})
	require.NoError(t, err)
	assert.NotEqual(t, id, other, "organizations are isolated")
}

func TestPersist_LinkRowsNeverCollide(t *testing.T) {
	s := New()
	ctx := orgCtx("")
	for range 2 {
		_, err := s.Persist(ctx, uuid.New(), "case_subjects", core.Record{"case_id": "x", "subject_id": "y"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Count("", "case_subjects"))
}

func TestPersist_LinkKeyUpserts(t *testing.T) {
	s := New()
	ctx := orgCtx("")
	link := core.Record{"case_id": "x", "subject_id": "y", core.LinkKeyField: "cases:x|subjects:y"}

	first, err := s.Persist(ctx, uuid.New(), "case_subjects", link)
	require.NoError(t, err)
	link["role"] = "witness"
	second, err := s.Persist(ctx, uuid.New(), "case_subjects", link)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.Count("", "case_subjects"))
	stored, ok := s.Get(first)
	require.True(t, ok)
	assert.Equal(t, "witness", stored.Data["role"])
}

func TestPersist_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(orgCtx(""))
	cancel()
	_, err := New().Persist(ctx, uuid.New(), "accounts", core.Record{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPatch(t *testing.T) {
	s := New()
	ctx := orgCtx("")
	id, err := s.Persist(ctx, uuid.New(), "accounts", core.Record{core.ExternalIDKey: "A-1", "name": "Acme"})
	require.NoError(t, err)

	require.NoError(t, s.Patch(ctx, uuid.New(), "accounts", id, core.Record{"parent_account_id": "p"}))
	stored, _ := s.Get(id)
	assert.Equal(t, "p", stored.Data["parent_account_id"])
	assert.Equal(t, "Acme", stored.Data["name"])

	assert.Error(t, s.Patch(ctx, uuid.New(), "contacts", id, core.Record{}))
	assert.Error(t, s.Patch(ctx, uuid.New(), "accounts", "missing", core.Record{}))
}

func TestLookupReference(t *testing.T) {
	s := New()
	id, err := s.Persist(orgCtx("org-1"), uuid.New(), "accounts", core.Record{core.ExternalIDKey: "A-1"})
	require.NoError(t, err)

	got, found, err := s.LookupReference(context.Background(), "org-1", "accounts", "A-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)

	_, found, err = s.LookupReference(context.Background(), "org-2", "accounts", "A-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReports(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := range 3 {
		r := &core.Report{RunID: uuid.New(), State: core.RunCompleted, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.SaveReport(ctx, r))
		ids = append(ids, r.RunID)
	}

	got, err := s.LoadReport(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, ids[1], got.RunID)

	_, err = s.LoadReport(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrRunNotFound)

	list, err := s.ListReports(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].RunID, "newest first")
	assert.Equal(t, ids[1], list[1].RunID)
}

// A full catalog import against the store, second run re-uses every ID.
func TestImportIsIdempotent(t *testing.T) {
	reg := core.MustLoadRegistry()
	s := New()
	imp := core.NewImporter(reg, s)

	src := mapSource{
		"accounts": {{core.ExternalIDKey: "CLIENT-001", "name": "Acme"}},
		"contacts": {{core.ExternalIDKey: "CON-1", "first_name": "Jo", "last_name": "Bloggs", "account_external_id": "CLIENT-001"}},
	}
	ctx := context.Background()

	first, err := imp.Run(ctx, src, core.RunOptions{OrganizationID: "org-1"})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, first.State)
	accounts := s.Records("org-1", "accounts")
	require.Len(t, accounts, 1)

	second, err := imp.Run(ctx, src, core.RunOptions{OrganizationID: "org-1"})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, second.State)
	assert.Equal(t, 1, s.Count("org-1", "accounts"))
	assert.Equal(t, 1, s.Count("org-1", "contacts"))

	contacts := s.Records("org-1", "contacts")
	assert.Equal(t, accounts[0].ID, contacts[0].Data["account_id"])
}

type mapSource map[string][]core.RawRecord

func (m mapSource) Records(_ context.Context, entityType string) ([]core.RawRecord, error) {
	return m[entityType], nil
}
