package core

import (
	"slices"
	"strings"

	"github.com/JonMunkholm/caseimport/internal/core/normalize"
)

// NormalizeRecord normalizes every declared column of raw with the
// normalizer fixed for that column when the registry was built.
//
// Raw keys are matched against column keys, and against header names after
// [HeaderKey] folding. Declared columns absent from raw are nil. Keys that
// match no column are dropped; see [UnknownColumns].
func NormalizeRecord(def EntityDefinition, raw RawRecord) (Record, []normalize.Change) {
	folded := foldKeys(raw)
	rec := make(Record, len(def.Columns))
	var changes []normalize.Change

	for _, col := range def.Columns {
		v, ok := folded[col.Key]
		if !ok {
			v = folded[HeaderKey(col.Name)]
		}
		value, fieldChanges := normalizeField(col, v)
		rec[col.Key] = value
		changes = append(changes, fieldChanges...)
	}
	return rec, changes
}

// UnknownColumns returns the raw keys that match no declared column, sorted.
func UnknownColumns(def EntityDefinition, raw RawRecord) []string {
	known := make(map[string]bool, len(def.Columns)*2)
	for _, col := range def.Columns {
		known[col.Key] = true
		known[HeaderKey(col.Name)] = true
	}

	var unknown []string
	for k := range raw {
		if !known[HeaderKey(k)] {
			unknown = append(unknown, k)
		}
	}
	slices.Sort(unknown)
	return unknown
}

// IsBlank reports whether every value of raw is empty.
func IsBlank(raw RawRecord) bool {
	for _, v := range raw {
		switch s := v.(type) {
		case nil:
		case string:
			if strings.TrimSpace(s) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func normalizeField(col ColumnSpec, raw any) (any, []normalize.Change) {
	switch col.Type {
	case ColumnNumber:
		out := normalize.Currency(col.Key, raw)
		return out.Any(), out.Changes
	case ColumnDate:
		if col.Format == FormatDateTime {
			out := normalize.DateTime(col.Key, raw)
			return out.Any(), out.Changes
		}
		out := normalize.Date(col.Key, raw)
		return out.Any(), out.Changes
	case ColumnBoolean:
		out := normalize.Bool(col.Key, raw)
		return out.Any(), out.Changes
	case ColumnJSON:
		out := normalize.JSON(col.Key, raw)
		return out.Any(), out.Changes
	}

	var out normalize.Outcome[string]
	switch col.Format {
	case FormatEmail:
		out = normalize.Email(col.Key, raw)
	case FormatPhone:
		out = normalize.Phone(col.Key, raw)
	case FormatState:
		out = normalize.State(col.Key, raw)
	default:
		out = normalize.Text(col.Key, raw)
	}
	return out.Any(), out.Changes
}

// foldKeys indexes raw by folded header key. An exact key wins over a
// folded duplicate.
func foldKeys(raw RawRecord) map[string]any {
	folded := make(map[string]any, len(raw))
	for k, v := range raw {
		folded[HeaderKey(k)] = v
	}
	for k, v := range raw {
		if HeaderKey(k) == k {
			folded[k] = v
		}
	}
	return folded
}
