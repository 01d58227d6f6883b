// Package sqlite stores imported records in a local SQLite database. It
// serves single-node installs and the command-line importer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/store"
	"github.com/JonMunkholm/caseimport/internal/store/sqlite/migrations"
)

// DefaultFile is the database file name inside the data directory.
const DefaultFile = "caseimport.db"

// Fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed record and report store.
type Store struct {
	db   *sql.DB
	path string
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database in dataDir and applies pending
// migrations.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DefaultFile)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; WAL lets readers continue.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	slices.Sort(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// ==================== Records ====================

// Persist upserts rec keyed by organization, entity type and external ID
// or link key.
func (s *Store) Persist(ctx context.Context, runID uuid.UUID, entityType string, rec core.Record) (string, error) {
	data, err := store.EncodeRecord(rec)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC().Format(timeLayout)

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO import_records (id, organization_id, entity_type, external_id, run_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, entity_type, external_id) DO UPDATE SET
			run_id = excluded.run_id,
			data = excluded.data,
			updated_at = excluded.updated_at
		RETURNING id
	`, uuid.NewString(), core.OrganizationFromContext(ctx), entityType, store.ExternalID(rec),
		runID.String(), string(data), now, now).Scan(&id)
	if err != nil {
		return "", classify(fmt.Errorf("persist %s: %w", entityType, err))
	}
	return id, nil
}

// Patch merges fields into a stored record with json_patch.
func (s *Store) Patch(ctx context.Context, runID uuid.UUID, entityType, internalID string, fields core.Record) error {
	data, err := store.EncodeRecord(fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_records
		SET data = json_patch(data, ?), run_id = ?, updated_at = ?
		WHERE id = ? AND entity_type = ? AND organization_id = ?
	`, string(data), runID.String(), time.Now().UTC().Format(timeLayout),
		internalID, entityType, core.OrganizationFromContext(ctx))
	if err != nil {
		return classify(fmt.Errorf("patch %s/%s: %w", entityType, internalID, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("patch %s/%s: record not found", entityType, internalID)
	}
	return nil
}

// LookupReference implements core.ReferenceLookup.
func (s *Store) LookupReference(ctx context.Context, orgID, entityType, externalID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM import_records
		WHERE organization_id = ? AND entity_type = ? AND external_id = ?
	`, orgID, entityType, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(fmt.Errorf("lookup %s %q: %w", entityType, externalID, err))
	}
	return id, true, nil
}

// Record returns the stored data of one record.
func (s *Store) Record(ctx context.Context, internalID string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM import_records WHERE id = ?", internalID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", internalID, err)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", internalID, err)
	}
	return data, nil
}

// Count returns how many records an organization has of an entity type.
func (s *Store) Count(ctx context.Context, orgID, entityType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM import_records WHERE organization_id = ? AND entity_type = ?",
		orgID, entityType).Scan(&n)
	return n, err
}

// ==================== Reports ====================

// SaveReport implements core.ReportSink.
func (s *Store) SaveReport(ctx context.Context, report *core.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	sum := report.Summary()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_runs (run_id, organization_id, state, started_at, finished_at, succeeded, failed, skipped, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			finished_at = excluded.finished_at,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			skipped = excluded.skipped,
			report = excluded.report
	`, sum.RunID.String(), sum.OrganizationID, string(sum.State), formatTime(sum.StartedAt),
		nullTime(sum.FinishedAt), sum.Succeeded, sum.Failed, sum.Skipped, string(body))
	if err != nil {
		return classify(fmt.Errorf("save report %s: %w", report.RunID, err))
	}
	return nil
}

// LoadReport implements core.ReportStore.
func (s *Store) LoadReport(ctx context.Context, runID uuid.UUID) (*core.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT report FROM import_runs WHERE run_id = ?", runID.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("load report %s: %w", runID, err))
	}
	var report core.Report
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", runID, err)
	}
	return &report, nil
}

// ListReports implements core.ReportStore, newest first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]core.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, organization_id, state, started_at, finished_at, succeeded, failed, skipped
		FROM import_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, store.ListLimit(limit))
	if err != nil {
		return nil, classify(fmt.Errorf("list reports: %w", err))
	}
	defer rows.Close()

	var out []core.RunSummary
	for rows.Next() {
		var (
			sum                 core.RunSummary
			runID, state, start string
			finish              sql.NullString
		)
		if err := rows.Scan(&runID, &sum.OrganizationID, &state, &start, &finish,
			&sum.Succeeded, &sum.Failed, &sum.Skipped); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if sum.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		sum.State = core.RunState(state)
		sum.StartedAt, _ = time.Parse(timeLayout, start)
		if finish.Valid {
			sum.FinishedAt, _ = time.Parse(timeLayout, finish.String)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ==================== Helpers ====================

// classify marks busy and locked database errors as transient.
func classify(err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", core.ErrTransient, err)
		}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
