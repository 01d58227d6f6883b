// Package postgres stores imported records in PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/store"
)

//go:embed schema.sql
var schema string

// PoolOptions tunes the connection pool. Zero values keep pgx defaults.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a PostgreSQL-backed record and report store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool for url, checks connectivity and applies the schema.
func Connect(ctx context.Context, url string, opts PoolOptions) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. Call Migrate before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Persist upserts rec keyed by organization, entity type and external ID
// or link key.
func (s *Store) Persist(ctx context.Context, runID uuid.UUID, entityType string, rec core.Record) (string, error) {
	data, err := store.EncodeRecord(rec)
	if err != nil {
		return "", err
	}

	var id pgtype.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO import_records (organization_id, entity_type, external_id, run_id, data)
		VALUES ($1, $2, $3, $4::uuid, $5::jsonb)
		ON CONFLICT (organization_id, entity_type, external_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			data = EXCLUDED.data,
			updated_at = now()
		RETURNING id
	`, core.OrganizationFromContext(ctx), entityType, store.ExternalID(rec), runID.String(), string(data)).Scan(&id)
	if err != nil {
		return "", classify(fmt.Errorf("persist %s: %w", entityType, err))
	}
	return uuidString(id), nil
}

// Patch merges fields into the stored JSON document.
func (s *Store) Patch(ctx context.Context, runID uuid.UUID, entityType, internalID string, fields core.Record) error {
	data, err := store.EncodeRecord(fields)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_records
		SET data = data || $1::jsonb, run_id = $2::uuid, updated_at = now()
		WHERE id = $3::uuid AND entity_type = $4 AND organization_id = $5
	`, string(data), runID.String(), internalID, entityType, core.OrganizationFromContext(ctx))
	if err != nil {
		return classify(fmt.Errorf("patch %s/%s: %w", entityType, internalID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patch %s/%s: record not found", entityType, internalID)
	}
	return nil
}

// LookupReference implements core.ReferenceLookup.
func (s *Store) LookupReference(ctx context.Context, orgID, entityType, externalID string) (string, bool, error) {
	var id pgtype.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM import_records
		WHERE organization_id = $1 AND entity_type = $2 AND external_id = $3
	`, orgID, entityType, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(fmt.Errorf("lookup %s %q: %w", entityType, externalID, err))
	}
	return uuidString(id), true, nil
}

// Record returns the stored data of one record.
func (s *Store) Record(ctx context.Context, internalID string) (map[string]any, error) {
	var data map[string]any
	err := s.pool.QueryRow(ctx, "SELECT data FROM import_records WHERE id = $1::uuid", internalID).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", internalID, err)
	}
	return data, nil
}

// SaveReport implements core.ReportSink.
func (s *Store) SaveReport(ctx context.Context, report *core.Report) error {
	sum := report.Summary()
	var finished pgtype.Timestamptz
	if !sum.FinishedAt.IsZero() {
		finished = pgtype.Timestamptz{Time: sum.FinishedAt, Valid: true}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_runs (run_id, organization_id, state, started_at, finished_at, succeeded, failed, skipped, report)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped,
			report = EXCLUDED.report
	`, sum.RunID.String(), sum.OrganizationID, string(sum.State), sum.StartedAt, finished,
		sum.Succeeded, sum.Failed, sum.Skipped, report)
	if err != nil {
		return classify(fmt.Errorf("save report %s: %w", report.RunID, err))
	}
	return nil
}

// LoadReport implements core.ReportStore.
func (s *Store) LoadReport(ctx context.Context, runID uuid.UUID) (*core.Report, error) {
	var report core.Report
	err := s.pool.QueryRow(ctx, "SELECT report FROM import_runs WHERE run_id = $1::uuid", runID.String()).Scan(&report)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("load report %s: %w", runID, err))
	}
	return &report, nil
}

// ListReports implements core.ReportStore, newest first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]core.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, organization_id, state, started_at, finished_at, succeeded, failed, skipped
		FROM import_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, store.ListLimit(limit))
	if err != nil {
		return nil, classify(fmt.Errorf("list reports: %w", err))
	}
	defer rows.Close()

	var out []core.RunSummary
	for rows.Next() {
		var (
			sum      core.RunSummary
			runID    pgtype.UUID
			state    string
			started  pgtype.Timestamptz
			finished pgtype.Timestamptz
		)
		if err := rows.Scan(&runID, &sum.OrganizationID, &state, &started, &finished,
			&sum.Succeeded, &sum.Failed, &sum.Skipped); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		sum.RunID = uuid.UUID(runID.Bytes)
		sum.State = core.RunState(state)
		sum.StartedAt = started.Time
		if finished.Valid {
			sum.FinishedAt = finished.Time
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// classify marks errors worth retrying as core.ErrTransient: anything pgx
// reports as safe to retry or a timeout, plus serialization failures,
// deadlocks and connection exceptions.
func classify(err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %w", core.ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "40", "08", "53", "57":
			return pgErr.Code != "57014" // query_canceled follows the caller's context
		}
	}
	return false
}

func uuidString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
