package core

// service.go runs imports asynchronously.
//
// StartRun returns a run ID at once and executes the import in the
// background under a RunLimiter slot. Callers follow the run through
// SubscribeProgress, stop it with Cancel and collect the report with Wait.
// Finished runs stay queryable for the retention period and, when a
// ReportSink is configured, their reports are saved for good.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/caseimport/internal/logging"
)

// ErrRunNotFound is returned for an unknown or expired run ID.
var ErrRunNotFound = errors.New("import run not found")

// DefaultRetention is how long finished runs stay in memory.
const DefaultRetention = 15 * time.Minute

// reportSaveTimeout bounds saving a finished report.
const reportSaveTimeout = 30 * time.Second

// ReportSink stores finished run reports.
type ReportSink interface {
	SaveReport(ctx context.Context, report *Report) error
}

// ReportStore is a ReportSink that can read reports back.
type ReportStore interface {
	ReportSink
	LoadReport(ctx context.Context, runID uuid.UUID) (*Report, error)
	ListReports(ctx context.Context, limit int) ([]RunSummary, error)
}

// ServiceOptions configures a Service. Zero values select defaults.
type ServiceOptions struct {
	Workers        int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	WriteRate      float64 // Row writes per second across all runs; 0 is unlimited
	WriteBurst     int

	MaxConcurrentRuns int
	MaxWait           time.Duration // How long StartRun waits for a free slot
	RunTimeout        time.Duration // Hard limit per run; 0 means none
	Retention         time.Duration

	Sink ReportSink
}

// RunRequest describes a run to start.
type RunRequest struct {
	OrganizationID string
	Only           []string
}

// RunSummary is the list view of a run.
type RunSummary struct {
	RunID          uuid.UUID `json:"runId"`
	OrganizationID string    `json:"organizationId,omitempty"`
	State          RunState  `json:"state"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt,omitzero"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	RequestedFrom  string    `json:"requestedFrom,omitempty"`
}

// Summary condenses a report.
func (r *Report) Summary() RunSummary {
	succeeded, failed, skipped := r.Totals()
	return RunSummary{
		RunID:          r.RunID,
		OrganizationID: r.OrganizationID,
		State:          r.State,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Succeeded:      succeeded,
		Failed:         failed,
		Skipped:        skipped,
	}
}

// Service manages asynchronous import runs.
type Service struct {
	importer *Importer
	opts     ServiceOptions
	limiter  *RunLimiter
	writes   *rate.Limiter

	mu   sync.RWMutex
	runs map[uuid.UUID]*activeRun
}

type activeRun struct {
	summary RunSummary
	cancel  context.CancelFunc
	done    chan struct{}
	report  *Report

	mu        sync.Mutex
	progress  Progress
	listeners []chan Progress
}

// NewService creates a Service around an importer.
func NewService(importer *Importer, opts ServiceOptions) *Service {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	s := &Service{
		importer: importer,
		opts:     opts,
		limiter:  NewRunLimiter(opts.MaxConcurrentRuns, opts.MaxWait),
		runs:     make(map[uuid.UUID]*activeRun),
	}
	if opts.WriteRate > 0 {
		burst := max(opts.WriteBurst, 1)
		s.writes = rate.NewLimiter(rate.Limit(opts.WriteRate), burst)
	}
	return s
}

// Registry returns the registry runs are validated against.
func (s *Service) Registry() *Registry {
	return s.importer.Registry()
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// StartRun validates the request, waits for a run slot and starts the import
// in the background.
func (s *Service) StartRun(ctx context.Context, src Source, req RunRequest) (uuid.UUID, error) {
	if src == nil {
		return uuid.Nil, errors.New("start run: nil source")
	}
	for _, et := range req.Only {
		if _, ok := s.Registry().Get(et); !ok {
			return uuid.Nil, fmt.Errorf("start run: unknown entity type %q", et)
		}
	}

	runID := uuid.New()
	if err := s.limiter.Acquire(ctx, runID); err != nil {
		return uuid.Nil, fmt.Errorf("start run: %w", err)
	}

	// Runs outlive the request that started them.
	base := logging.WithRunID(context.Background(), runID.String())
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.opts.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(base, s.opts.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}

	run := &activeRun{
		summary: RunSummary{
			RunID:          runID,
			OrganizationID: req.OrganizationID,
			State:          RunPending,
			StartedAt:      time.Now().UTC(),
			RequestedFrom:  RequesterFromContext(ctx).String(),
		},
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: Progress{RunID: runID, State: RunPending},
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	logging.FromContext(ctx).Info("import run queued",
		"run_id", runID,
		"organization_id", req.OrganizationID,
		"only", req.Only,
		"requested_from", run.summary.RequestedFrom,
	)

	go s.execute(runCtx, run, src, req)
	return runID, nil
}

func (s *Service) execute(ctx context.Context, run *activeRun, src Source, req RunRequest) {
	runID := run.summary.RunID
	logger := logging.FromContext(ctx)

	defer func() {
		run.cancel()
		s.limiter.Release(runID)
		close(run.done)
		run.closeListeners()
		s.expire(runID, s.opts.Retention)
	}()

	report, err := s.importer.Run(ctx, src, RunOptions{
		RunID:          runID,
		OrganizationID: req.OrganizationID,
		Only:           req.Only,
		Workers:        s.opts.Workers,
		MaxRetries:     s.opts.MaxRetries,
		RetryBaseDelay: s.opts.RetryBaseDelay,
		RetryMaxDelay:  s.opts.RetryMaxDelay,
		Limiter:        s.writes,
		OnProgress:     run.update,
	})
	if err != nil {
		logger.Error("import run could not start", "error", err)
		now := time.Now().UTC()
		report = &Report{
			RunID:          runID,
			OrganizationID: req.OrganizationID,
			State:          RunFailed,
			Diagnostic:     err.Error(),
			StartedAt:      run.summary.StartedAt,
			FinishedAt:     now,
		}
		run.update(Progress{RunID: runID, State: RunFailed, Error: err.Error(), UpdatedAt: now})
	}

	if s.opts.Sink != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportSaveTimeout)
		if err := s.opts.Sink.SaveReport(saveCtx, report); err != nil {
			logger.Error("saving report failed", "error", err)
		}
		cancel()
	}

	s.mu.Lock()
	run.report = report
	summary := report.Summary()
	summary.RequestedFrom = run.summary.RequestedFrom
	run.summary = summary
	s.mu.Unlock()
}

// update records progress and fans it out to subscribers. Slow subscribers
// miss intermediate updates rather than stall the run.
func (run *activeRun) update(p Progress) {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.progress = p
	for _, ch := range run.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

func (run *activeRun) closeListeners() {
	run.mu.Lock()
	defer run.mu.Unlock()

	for _, ch := range run.listeners {
		close(ch)
	}
	run.listeners = nil
}

func (s *Service) expire(runID uuid.UUID, after time.Duration) {
	time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

func (s *Service) lookup(runID uuid.UUID) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// SubscribeProgress returns a channel of progress updates for a run. It
// receives the current progress at once and is closed when the run ends.
func (s *Service) SubscribeProgress(runID uuid.UUID) (<-chan Progress, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 16)
	run.mu.Lock()
	defer run.mu.Unlock()

	ch <- run.progress
	select {
	case <-run.done:
		close(ch)
	default:
		run.listeners = append(run.listeners, ch)
	}
	return ch, nil
}

// Progress returns the latest progress of a run.
func (s *Service) Progress(runID uuid.UUID) (Progress, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return Progress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// Cancel asks a run to stop at the next entity boundary.
func (s *Service) Cancel(runID uuid.UUID) error {
	run, err := s.lookup(runID)
	if err != nil {
		return err
	}
	run.cancel()
	slog.Info("import run cancel requested", "run_id", runID)
	return nil
}

// Wait blocks until the run finishes or ctx is done and returns its report.
func (s *Service) Wait(ctx context.Context, runID uuid.UUID) (*Report, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return run.report, nil
}

// Report returns the report of a finished run. Runs that are still going
// report ok=false; runs no longer in memory are read from the sink when it
// supports it.
func (s *Service) Report(ctx context.Context, runID uuid.UUID) (report *Report, ok bool, err error) {
	if run, lerr := s.lookup(runID); lerr == nil {
		select {
		case <-run.done:
			s.mu.RLock()
			defer s.mu.RUnlock()
			return run.report, true, nil
		default:
			return nil, false, nil
		}
	}
	if store, isStore := s.opts.Sink.(ReportStore); isStore {
		report, err := store.LoadReport(ctx, runID)
		if err != nil {
			return nil, false, err
		}
		return report, true, nil
	}
	return nil, false, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// Runs lists runs in memory, newest first, followed by stored runs up to
// limit entries in total.
func (s *Service) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	out := make([]RunSummary, 0, len(s.runs))
	seen := make(map[uuid.UUID]bool, len(s.runs))
	for id, run := range s.runs {
		summary := run.summary
		if summary.State == RunPending {
			run.mu.Lock()
			if run.progress.State != RunPending {
				summary.State = run.progress.State
			}
			run.mu.Unlock()
		}
		out = append(out, summary)
		seen[id] = true
	}
	s.mu.RUnlock()

	if store, ok := s.opts.Sink.(ReportStore); ok {
		stored, err := store.ListReports(ctx, limit)
		if err != nil {
			return nil, err
		}
		for _, summary := range stored {
			if !seen[summary.RunID] {
				out = append(out, summary)
			}
		}
	}

	slices.SortFunc(out, func(a, b RunSummary) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Shutdown cancels every run and waits for them to stop.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, run := range s.runs {
		run.cancel()
	}
	s.mu.RUnlock()
	return s.Drain(ctx)
}

// Drain waits for running imports to finish without cancelling them.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
