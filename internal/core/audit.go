package core

import (
	"slices"

	"github.com/JonMunkholm/caseimport/internal/core/normalize"
)

// AuditKind represents the type of row-level outcome being audited.
type AuditKind string

const (
	AuditResolved        AuditKind = "resolved"
	AuditUnresolved      AuditKind = "unresolved"
	AuditDuplicateID     AuditKind = "duplicate_id"
	AuditMissingRequired AuditKind = "missing_required"
	AuditPersisted       AuditKind = "persisted"
	AuditPersistFailed   AuditKind = "persist_failed"
	AuditPersistRetried  AuditKind = "persist_retried"
	AuditPatched         AuditKind = "patched"
	AuditUnknownColumn   AuditKind = "unknown_column"
	AuditSkippedBlank    AuditKind = "skipped_blank"
)

// AuditChange is one field normalization, tagged with the row it came from.
type AuditChange struct {
	RowIndex   int    `json:"rowIndex"`
	ExternalID string `json:"externalId,omitempty"`
	normalize.Change
}

// AuditEvent is one resolution, validation or persistence outcome.
type AuditEvent struct {
	RowIndex int       `json:"rowIndex"`
	Kind     AuditKind `json:"kind"`
	Field    string    `json:"field,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// AuditLog collects every change and outcome for one entity type in a run.
// It is not safe for concurrent use; the importer merges per-row logs.
type AuditLog struct {
	Changes []AuditChange `json:"changes"`
	Events  []AuditEvent  `json:"events"`
}

func (l *AuditLog) addChanges(row int, externalID string, changes []normalize.Change) {
	for _, c := range changes {
		l.Changes = append(l.Changes, AuditChange{RowIndex: row, ExternalID: externalID, Change: c})
	}
}

func (l *AuditLog) addEvent(row int, kind AuditKind, field, detail string) {
	l.Events = append(l.Events, AuditEvent{RowIndex: row, Kind: kind, Field: field, Detail: detail})
}

func (l *AuditLog) merge(other AuditLog) {
	l.Changes = append(l.Changes, other.Changes...)
	l.Events = append(l.Events, other.Events...)
}

// sort orders entries by row. Entries of one row keep their relative order.
func (l *AuditLog) sort() {
	slices.SortStableFunc(l.Changes, func(a, b AuditChange) int { return a.RowIndex - b.RowIndex })
	slices.SortStableFunc(l.Events, func(a, b AuditEvent) int { return a.RowIndex - b.RowIndex })
}

// ByRule returns the changes tagged with rule.
func (l AuditLog) ByRule(rule normalize.Rule) []AuditChange {
	var out []AuditChange
	for _, c := range l.Changes {
		if c.Rule == rule {
			out = append(out, c)
		}
	}
	return out
}

// ByKind returns the events of the given kind.
func (l AuditLog) ByKind(kind AuditKind) []AuditEvent {
	var out []AuditEvent
	for _, e := range l.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// RuleCounts counts changes per rule.
func (l AuditLog) RuleCounts() map[normalize.Rule]int {
	counts := make(map[normalize.Rule]int)
	for _, c := range l.Changes {
		counts[c.Rule]++
	}
	return counts
}
