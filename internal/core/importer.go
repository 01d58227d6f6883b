package core

// importer.go drives an import run across all entity types.
//
// Entity types are processed one at a time in dependency order so every
// reference can be resolved against rows imported earlier in the run. Within
// an entity type the flow is:
//
//  1. Sequential pre-pass: blank rows are skipped and duplicate external IDs
//     are rejected, keeping the first row that used the ID.
//  2. Parallel row pass on a bounded worker pool: normalize, resolve
//     references, validate required columns, persist with retry, register.
//  3. Sequential self-reference pass: parent-of-same-type references are
//     resolved against the now complete map and patched onto the rows.
//
// A row failure never stops its batch. Cancellation is checked between
// entity types only, so the reference map is never left half built.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/caseimport/internal/core/normalize"
	"github.com/JonMunkholm/caseimport/internal/logging"
)

// DefaultWorkers is the default per-entity row concurrency.
const DefaultWorkers = 4

// Persister writes normalized records. It is the storage collaborator of the
// importer and must be safe for concurrent use.
type Persister interface {
	// Persist stores a record and returns its internal ID.
	Persist(ctx context.Context, runID uuid.UUID, entityType string, rec Record) (string, error)
	// Patch updates fields of an already persisted record.
	Patch(ctx context.Context, runID uuid.UUID, entityType, internalID string, fields Record) error
}

// Source yields the raw records of one entity type. An entity type with no
// input returns no records and no error.
type Source interface {
	Records(ctx context.Context, entityType string) ([]RawRecord, error)
}

// RunOptions tunes a single import run.
type RunOptions struct {
	RunID          uuid.UUID // Generated when zero
	OrganizationID string
	Only           []string // Entity types to import; empty means all

	Workers        int           // Row concurrency per entity; default DefaultWorkers
	MaxRetries     int           // Persist retries per row; 0 means default, negative disables
	RetryBaseDelay time.Duration // First backoff delay
	RetryMaxDelay  time.Duration // Backoff cap
	Limiter        *rate.Limiter // Optional write throttle shared by all rows

	OnProgress ProgressCallback
}

func (o RunOptions) withDefaults() RunOptions {
	if o.RunID == uuid.Nil {
		o.RunID = uuid.New()
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = DefaultRetryMaxDelay
	}
	return o
}

func (o RunOptions) includes(entityType string) bool {
	return len(o.Only) == 0 || slices.Contains(o.Only, entityType)
}

// Importer runs imports against a validated registry.
type Importer struct {
	registry  *Registry
	persister Persister
	lookup    ReferenceLookup
}

// NewImporter creates an importer. If persister also implements
// ReferenceLookup, references to records of earlier runs resolve through it.
func NewImporter(registry *Registry, persister Persister) *Importer {
	imp := &Importer{registry: registry, persister: persister}
	if l, ok := persister.(ReferenceLookup); ok {
		imp.lookup = l
	}
	return imp
}

// Registry returns the registry the importer runs against.
func (imp *Importer) Registry() *Registry {
	return imp.registry
}

// run is the state of one Run call.
type run struct {
	opts     RunOptions
	source   Source
	resolver *Resolver
	logger   *slog.Logger
	report   *Report

	progressMu sync.Mutex
}

func (r *run) progress(p Progress) {
	if r.opts.OnProgress == nil {
		return
	}
	p.RunID = r.opts.RunID
	p.UpdatedAt = time.Now()
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.opts.OnProgress(p)
}

// Run imports every included entity type from src and returns the report.
//
// The returned error is non-nil only when the run cannot start. Row, entity
// and dependency problems are all recorded in the report, whose State is
// RunCompleted even when individual rows failed.
func (imp *Importer) Run(ctx context.Context, src Source, opts RunOptions) (*Report, error) {
	if src == nil {
		return nil, errors.New("import: nil source")
	}
	if imp.registry == nil || imp.persister == nil {
		return nil, errors.New("import: importer has no registry or persister")
	}
	for _, et := range opts.Only {
		if _, ok := imp.registry.Get(et); !ok {
			return nil, fmt.Errorf("import: unknown entity type %q", et)
		}
	}

	opts = opts.withDefaults()
	ctx = ContextWithOrganization(ctx, opts.OrganizationID)
	r := &run{
		opts:     opts,
		source:   src,
		resolver: NewResolver(imp.lookup, opts.OrganizationID),
		logger:   logging.FromContext(logging.WithRunID(ctx, opts.RunID.String())),
		report: &Report{
			RunID:          opts.RunID,
			OrganizationID: opts.OrganizationID,
			State:          RunPending,
			StartedAt:      time.Now().UTC(),
		},
	}

	var defs []EntityDefinition
	for _, def := range imp.registry.SortedEntities() {
		if opts.includes(def.EntityType) {
			defs = append(defs, def)
			r.report.Order = append(r.report.Order, def.EntityType)
		}
	}

	r.report.State = RunRunning
	r.logger.Info("import run started", "entities", strings.Join(r.report.Order, ","), "workers", opts.Workers)
	r.progress(Progress{State: RunRunning})

	completed := make(map[string]bool, len(defs))
	var diagnostics []string
	cancelled := false

	for _, def := range defs {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			r.logger.Warn("import run cancelled", "next_entity", def.EntityType, "error", ctx.Err())
		}
		if cancelled {
			r.report.Entities = append(r.report.Entities, EntityReport{
				EntityType: def.EntityType,
				State:      RunCancelled,
				Diagnostic: "run cancelled before entity started",
			})
			continue
		}

		er := imp.runEntity(ctx, r, def, completed)
		er.finish()
		if er.State == RunCompleted {
			completed[def.EntityType] = true
		} else if er.Diagnostic != "" {
			diagnostics = append(diagnostics, def.EntityType+": "+er.Diagnostic)
		}
		r.report.Entities = append(r.report.Entities, er)
	}

	switch {
	case cancelled:
		r.report.State = RunCancelled
		r.report.Diagnostic = "run cancelled"
	case len(diagnostics) > 0:
		r.report.State = RunFailed
		r.report.Diagnostic = strings.Join(diagnostics, "; ")
	default:
		r.report.State = RunCompleted
	}
	r.report.FinishedAt = time.Now().UTC()

	succeeded, failed, skipped := r.report.Totals()
	r.logger.Info("import run finished",
		"state", r.report.State,
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped,
		"duration_ms", r.report.Duration().Milliseconds(),
	)
	r.progress(Progress{State: r.report.State, Succeeded: succeeded, Failed: failed, Error: r.report.Diagnostic})

	return r.report, nil
}

// dependencyProblem returns why an entity cannot run, or "".
func (imp *Importer) dependencyProblem(r *run, def EntityDefinition, completed map[string]bool) string {
	for _, dep := range def.DependsOn {
		switch {
		case completed[dep]:
		case !r.opts.includes(dep) && imp.lookup != nil:
			// Excluded from this run; references resolve through the lookup.
		case !r.opts.includes(dep):
			return fmt.Sprintf("dependency %q was excluded and no reference lookup is configured", dep)
		default:
			return fmt.Sprintf("dependency %q did not complete", dep)
		}
	}
	return ""
}

// rowJob is a row that survived the pre-pass.
type rowJob struct {
	index int
	raw   RawRecord
}

// rowResult is the outcome of one row of the parallel pass.
type rowResult struct {
	index      int
	externalID string
	internalID string
	failure    *RowFailure
	audit      AuditLog
	selfRefs   map[string]string // column key -> parent external ID
}

func (imp *Importer) runEntity(ctx context.Context, r *run, def EntityDefinition, completed map[string]bool) EntityReport {
	er := EntityReport{EntityType: def.EntityType, State: RunRunning}
	logger := r.logger.With("entity", def.EntityType)
	start := time.Now()

	// A started entity runs to completion, including its read.
	records, err := r.source.Records(context.WithoutCancel(ctx), def.EntityType)
	if err != nil {
		logger.Error("reading records failed", "error", err)
		er.State = RunFailed
		er.Code = CodeSourceFailed
		er.Diagnostic = err.Error()
		return er
	}

	if problem := imp.dependencyProblem(r, def, completed); problem != "" {
		logger.Warn("entity skipped", "reason", problem, "rows", len(records))
		er.State = RunFailed
		er.Code = CodeDependencyUnavailable
		er.Diagnostic = problem
		er.Skipped = len(records)
		return er
	}

	logger.Info("entity started", "rows", len(records))
	r.progress(Progress{State: RunRunning, EntityType: def.EntityType, Total: len(records)})

	// Pre-pass.
	jobs := make([]rowJob, 0, len(records))
	for i, raw := range records {
		if IsBlank(raw) {
			er.Skipped++
			er.Audit.addEvent(i, AuditSkippedBlank, "", "")
			continue
		}
		if def.HasExternalID() {
			if ext := externalIDOf(raw); ext != "" {
				if err := r.resolver.Claim(def.EntityType, ext, i); err != nil {
					er.Failed++
					er.Failures = append(er.Failures, RowFailure{RowIndex: i, ExternalID: ext, Code: CodeDuplicateExternalID, Reason: err.Error()})
					er.Audit.addEvent(i, AuditDuplicateID, ExternalIDKey, err.Error())
					continue
				}
			}
		}
		jobs = append(jobs, rowJob{index: i, raw: raw})
	}
	defer r.resolver.Release(def.EntityType)

	// Row pass. Rows run to completion even if ctx is cancelled.
	rowCtx := context.WithoutCancel(ctx)
	results := make([]rowResult, len(jobs))
	var (
		processed int
		countMu   sync.Mutex
	)
	total := len(records)
	done := er.Skipped + er.Failed

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for n, job := range jobs {
		g.Go(func() error {
			results[n] = imp.processRow(rowCtx, r, def, job)

			countMu.Lock()
			processed++
			p := Progress{State: RunRunning, EntityType: def.EntityType, Processed: done + processed, Total: total}
			countMu.Unlock()
			r.progress(p)
			return nil
		})
	}
	_ = g.Wait()

	var withParents []int
	for n := range results {
		res := &results[n]
		er.Audit.merge(res.audit)
		if res.failure != nil {
			er.Failed++
			er.Failures = append(er.Failures, *res.failure)
			continue
		}
		er.Succeeded++
		if len(res.selfRefs) > 0 {
			withParents = append(withParents, n)
		}
	}

	// Self-reference pass, in row order.
	for _, n := range withParents {
		res := &results[n]
		if failure := imp.patchSelfRefs(rowCtx, r, def, res, &er.Audit); failure != nil {
			er.Succeeded--
			er.Failed++
			er.Failures = append(er.Failures, *failure)
		}
	}

	er.State = RunCompleted
	logger.Info("entity finished",
		"succeeded", er.Succeeded,
		"failed", er.Failed,
		"skipped", er.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return er
}

func (imp *Importer) processRow(ctx context.Context, r *run, def EntityDefinition, job rowJob) rowResult {
	res := rowResult{index: job.index}
	rec, changes := NormalizeRecord(def, job.raw)
	res.externalID = rec.ExternalID()
	res.audit.addChanges(job.index, res.externalID, changes)

	for _, key := range UnknownColumns(def, job.raw) {
		res.audit.addEvent(job.index, AuditUnknownColumn, key, "column is not declared and was dropped")
	}

	fail := func(code FailureCode, reason string) rowResult {
		res.failure = &RowFailure{RowIndex: job.index, ExternalID: res.externalID, Code: code, Reason: reason}
		return res
	}

	// References to other entity types.
	var unresolved []string
	for _, col := range def.References() {
		ext, _ := rec[col.Key].(string)
		if ext == "" {
			continue
		}
		id, err := r.resolver.Resolve(ctx, col.References, ext)
		if err != nil {
			var ure *UnresolvedReferenceError
			if errors.As(err, &ure) {
				ure.Field = col.Key
			}
			res.audit.addEvent(job.index, AuditUnresolved, col.Key, err.Error())
			unresolved = append(unresolved, err.Error())
			continue
		}
		rec[ResolvedKey(col)] = id
		res.audit.addEvent(job.index, AuditResolved, col.Key, col.References+"/"+ext+" -> "+id)
	}
	if len(unresolved) > 0 {
		return fail(CodeUnresolvedReference, strings.Join(unresolved, "; "))
	}

	// Parent-of-same-type references wait for the self-reference pass.
	for _, col := range def.SelfReferences() {
		if ext, _ := rec[col.Key].(string); ext != "" {
			if res.selfRefs == nil {
				res.selfRefs = make(map[string]string)
			}
			res.selfRefs[col.Key] = ext
		}
		rec[ResolvedKey(col)] = nil
	}

	if v := ValidateRequired(def, rec, job.raw); !v.Valid {
		for _, e := range v.Errors {
			res.audit.addEvent(job.index, AuditMissingRequired, e.Field, e.Message)
		}
		return fail(CodeMissingRequired, v.Reason())
	}

	if key := def.LinkKey(rec); key != "" {
		rec[LinkKeyField] = key
	}

	var id string
	err := r.persist(ctx, func() error {
		var err error
		id, err = imp.persister.Persist(ctx, r.opts.RunID, def.EntityType, rec)
		return err
	}, func(attempt int, err error) {
		res.audit.addEvent(job.index, AuditPersistRetried, "", fmt.Sprintf("attempt %d: %v", attempt, err))
		r.logger.Warn("persist retry", "entity", def.EntityType, "row", job.index, "attempt", attempt, "error", err)
	})
	if err != nil {
		res.audit.addEvent(job.index, AuditPersistFailed, "", err.Error())
		return fail(CodePersistFailed, "persist failed: "+err.Error())
	}
	res.internalID = id
	res.audit.addEvent(job.index, AuditPersisted, "", id)

	if res.externalID != "" && def.HasExternalID() {
		if err := r.resolver.Register(def.EntityType, res.externalID, id); err != nil {
			res.audit.addEvent(job.index, AuditDuplicateID, ExternalIDKey, err.Error())
			return fail(CodeDuplicateExternalID, err.Error())
		}
	}
	return res
}

// patchSelfRefs resolves the parent references of a persisted row and
// patches them. It returns a failure if any parent cannot be resolved or
// the patch fails; the row itself stays persisted and registered.
func (imp *Importer) patchSelfRefs(ctx context.Context, r *run, def EntityDefinition, res *rowResult, audit *AuditLog) *RowFailure {
	fields := make(Record, len(res.selfRefs))
	var unresolved []string

	for _, col := range def.SelfReferences() {
		ext, ok := res.selfRefs[col.Key]
		if !ok {
			continue
		}
		id, err := r.resolver.Resolve(ctx, def.EntityType, ext)
		if err != nil {
			audit.addEvent(res.index, AuditUnresolved, col.Key, err.Error())
			unresolved = append(unresolved, err.Error())
			continue
		}
		fields[ResolvedKey(col)] = id
		audit.addEvent(res.index, AuditResolved, col.Key, def.EntityType+"/"+ext+" -> "+id)
	}

	if len(unresolved) > 0 {
		return &RowFailure{RowIndex: res.index, ExternalID: res.externalID, Code: CodeUnresolvedReference, Reason: strings.Join(unresolved, "; ")}
	}

	err := r.persist(ctx, func() error {
		return imp.persister.Patch(ctx, r.opts.RunID, def.EntityType, res.internalID, fields)
	}, func(attempt int, err error) {
		audit.addEvent(res.index, AuditPersistRetried, "", fmt.Sprintf("patch attempt %d: %v", attempt, err))
	})
	if err != nil {
		audit.addEvent(res.index, AuditPersistFailed, "", err.Error())
		return &RowFailure{RowIndex: res.index, ExternalID: res.externalID, Code: CodePersistFailed, Reason: "patch failed: " + err.Error()}
	}
	audit.addEvent(res.index, AuditPatched, "", res.internalID)
	return nil
}

// persist applies the write throttle and retry policy to one write.
func (r *run) persist(ctx context.Context, fn func() error, onRetry func(int, error)) error {
	return retry(ctx, r.opts.MaxRetries, r.opts.RetryBaseDelay, r.opts.RetryMaxDelay, onRetry, func() error {
		if r.opts.Limiter != nil {
			if err := r.opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return fn()
	})
}

// ResolvedKey is the record key that receives the internal ID of a
// reference column: "account_external_id" becomes "account_id".
func ResolvedKey(col ColumnSpec) string {
	if base, ok := strings.CutSuffix(col.Key, "_external_id"); ok {
		return base + "_id"
	}
	return col.Key + "_id"
}

// externalIDOf reads the trimmed external ID of a raw record.
func externalIDOf(raw RawRecord) string {
	out := normalize.Text(ExternalIDKey, foldKeys(raw)[ExternalIDKey])
	if out.Value == nil {
		return ""
	}
	return *out.Value
}
