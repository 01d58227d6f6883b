package core

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/caseimport/internal/core/normalize"
)

// FailureCode classifies a row failure.
type FailureCode string

const (
	CodeUnresolvedReference   FailureCode = "UNRESOLVED_REFERENCE"
	CodeDuplicateExternalID   FailureCode = "DUPLICATE_EXTERNAL_ID"
	CodeMissingRequired       FailureCode = "MISSING_REQUIRED"
	CodePersistFailed         FailureCode = "PERSIST_FAILED"
	CodeDependencyUnavailable FailureCode = "DEPENDENCY_UNAVAILABLE"
	CodeSourceFailed          FailureCode = "SOURCE_FAILED"
)

// RowFailure describes one rejected row.
type RowFailure struct {
	RowIndex   int         `json:"rowIndex"`
	ExternalID string      `json:"externalId,omitempty"`
	Code       FailureCode `json:"code"`
	Reason     string      `json:"reason"`
}

// EntityReport holds the outcome of one entity type.
type EntityReport struct {
	EntityType string       `json:"entityType"`
	State      RunState     `json:"state"`
	Code       FailureCode  `json:"code,omitempty"`       // Set when the entity could not run
	Diagnostic string       `json:"diagnostic,omitempty"` // Why the entity could not run
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Failures   []RowFailure `json:"failures"`
	Audit      AuditLog     `json:"audit"`
}

// Total returns the number of rows seen for the entity.
func (e EntityReport) Total() int {
	return e.Succeeded + e.Failed + e.Skipped
}

func (e *EntityReport) finish() {
	slices.SortStableFunc(e.Failures, func(a, b RowFailure) int { return a.RowIndex - b.RowIndex })
	e.Audit.sort()
}

// Report is the result of one import run. It is JSON-serializable.
type Report struct {
	RunID          uuid.UUID      `json:"runId"`
	OrganizationID string         `json:"organizationId,omitempty"`
	State          RunState       `json:"state"`
	Diagnostic     string         `json:"diagnostic,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     time.Time      `json:"finishedAt"`
	Order          []string       `json:"order"`
	Entities       []EntityReport `json:"entities"`
}

// Entity returns the report of one entity type.
func (r *Report) Entity(entityType string) (*EntityReport, bool) {
	for i := range r.Entities {
		if r.Entities[i].EntityType == entityType {
			return &r.Entities[i], true
		}
	}
	return nil, false
}

// Totals sums row counts over all entities.
func (r *Report) Totals() (succeeded, failed, skipped int) {
	for _, e := range r.Entities {
		succeeded += e.Succeeded
		failed += e.Failed
		skipped += e.Skipped
	}
	return succeeded, failed, skipped
}

// RuleCounts counts normalization changes per rule over the whole run.
func (r *Report) RuleCounts() map[normalize.Rule]int {
	counts := make(map[normalize.Rule]int)
	for _, e := range r.Entities {
		for rule, n := range e.Audit.RuleCounts() {
			counts[rule] += n
		}
	}
	return counts
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
