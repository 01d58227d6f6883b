// Package store defines the storage contract shared by the record stores
// and helpers they have in common. Backends live in the memory, sqlite and
// postgres subpackages.
package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/JonMunkholm/caseimport/internal/core"
)

// Store persists imported records and run reports.
type Store interface {
	core.Persister
	core.ReferenceLookup
	core.ReportStore
	io.Closer
}

// EncodeRecord renders a normalized record as a JSON object. Decimals
// encode as strings so amounts keep their precision.
func EncodeRecord(rec core.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// ExternalID returns the unique key of rec: its external ID, or the link
// key of a link row. Records with neither get nil and never collide.
func ExternalID(rec core.Record) *string {
	if ext := rec.ExternalID(); ext != "" {
		return &ext
	}
	if key, _ := rec[core.LinkKeyField].(string); key != "" {
		return &key
	}
	return nil
}

// DefaultListLimit caps ListReports when the caller passes no limit.
const DefaultListLimit = 100

// ListLimit applies DefaultListLimit.
func ListLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
