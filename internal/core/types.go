package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExternalIDKey is the column every non-link entity uses for the
// caller-supplied record identifier.
const ExternalIDKey = "external_record_id"

// LinkKeyField holds the natural key of a link record, built from the
// internal IDs its references resolved to. Stores key link rows on it.
const LinkKeyField = "link_key"

// ColumnType is the declared data type of a column.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnNumber
	ColumnDate
	ColumnBoolean
	ColumnReference
	ColumnJSON
)

func (t ColumnType) String() string {
	switch t {
	case ColumnText:
		return "text"
	case ColumnNumber:
		return "number"
	case ColumnDate:
		return "date"
	case ColumnBoolean:
		return "boolean"
	case ColumnReference:
		return "reference"
	case ColumnJSON:
		return "json"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// MarshalText renders the type by name in JSON output.
func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a type name written by MarshalText.
func (t *ColumnType) UnmarshalText(b []byte) error {
	for c := ColumnText; c <= ColumnJSON; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown column type %q", b)
}

// Format refines how a text or date column is normalized.
// FormatAuto is replaced by a concrete format when the registry is built.
type Format int

const (
	FormatAuto Format = iota
	FormatPlain
	FormatEmail
	FormatPhone
	FormatState
	FormatDateTime
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatPlain:
		return "plain"
	case FormatEmail:
		return "email"
	case FormatPhone:
		return "phone"
	case FormatState:
		return "state"
	case FormatDateTime:
		return "datetime"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// MarshalText renders the format by name in JSON output.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText parses a format name written by MarshalText.
func (f *Format) UnmarshalText(b []byte) error {
	for c := FormatAuto; c <= FormatDateTime; c++ {
		if c.String() == string(b) {
			*f = c
			return nil
		}
	}
	return fmt.Errorf("unknown format %q", b)
}

// ColumnSpec declares one column of an entity.
type ColumnSpec struct {
	Name        string     `json:"name"`  // Header name shown in templates
	Label       string     `json:"label"` // Display label
	Key         string     `json:"key"`   // Record key (snake_case)
	Required    bool       `json:"required"`
	Type        ColumnType `json:"type"`
	Format      Format     `json:"format"`
	References  string     `json:"references,omitempty"` // Target entity type for ColumnReference
	Description string     `json:"description,omitempty"`
	Example     string     `json:"example,omitempty"`
	Tips        string     `json:"tips,omitempty"`
}

// EntityDefinition declares an importable entity type.
type EntityDefinition struct {
	EntityType  string       `json:"entityType"`
	DisplayName string       `json:"displayName"`
	ImportOrder int          `json:"importOrder"` // Tie-break and display hint only
	DependsOn   []string     `json:"dependsOn"`
	Columns     []ColumnSpec `json:"columns"`
	Link        bool         `json:"link"` // Link tables carry no external ID of their own
}

// Column returns the column with the given key.
func (d EntityDefinition) Column(key string) (ColumnSpec, bool) {
	for _, c := range d.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// HasExternalID reports whether records of this entity can be referenced.
func (d EntityDefinition) HasExternalID() bool {
	if d.Link {
		return false
	}
	_, ok := d.Column(ExternalIDKey)
	return ok
}

// References returns the reference columns pointing at other entity types.
func (d EntityDefinition) References() []ColumnSpec {
	var refs []ColumnSpec
	for _, c := range d.Columns {
		if c.Type == ColumnReference && c.References != d.EntityType {
			refs = append(refs, c)
		}
	}
	return refs
}

// LinkKey returns the natural key of a resolved link record, or "" when d
// is not a link entity or a reference is unresolved.
func (d EntityDefinition) LinkKey(rec Record) string {
	if !d.Link {
		return ""
	}
	var parts []string
	for _, col := range d.References() {
		id, _ := rec[ResolvedKey(col)].(string)
		if id == "" {
			return ""
		}
		parts = append(parts, col.References+":"+id)
	}
	return strings.Join(parts, "|")
}

// SelfReferences returns the reference columns pointing at the entity itself
// (parent-of-same-type relationships).
func (d EntityDefinition) SelfReferences() []ColumnSpec {
	var refs []ColumnSpec
	for _, c := range d.Columns {
		if c.Type == ColumnReference && c.References == d.EntityType {
			refs = append(refs, c)
		}
	}
	return refs
}

// RawRecord is one parsed input row keyed by column key or header name.
type RawRecord map[string]any

// Record is a normalized row keyed by column key.
type Record map[string]any

// ExternalID returns the record's trimmed external identifier, if any.
func (r Record) ExternalID() string {
	if s, ok := r[ExternalIDKey].(string); ok {
		return s
	}
	return ""
}

// RunState is the state of an import run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Progress reports the current state of an import run.
type Progress struct {
	RunID      uuid.UUID `json:"runId"`
	State      RunState  `json:"state"`
	EntityType string    `json:"entityType,omitempty"`
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"` // Non-empty if State is RunFailed
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Percent returns the progress within the current entity as a percentage (0-100).
func (p Progress) Percent() int {
	if p.Total > 0 {
		return (p.Processed * 100) / p.Total
	}
	if p.State.Terminal() {
		return 100
	}
	return 0
}

// ProgressCallback is called as an import run advances.
type ProgressCallback func(Progress)
