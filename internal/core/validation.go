package core

// validation.go checks normalized records before they are persisted.
//
// Validation runs after normalization, so a required field whose value could
// not be parsed is reported the same way as one that was left empty. The
// field-level parse change stays in the audit log and explains why.

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Column key
	Value   any    // The original raw value, if any
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationResult contains the result of validating a record.
type ValidationResult struct {
	Valid  bool              // True if all validations passed
	Errors []ValidationError // List of validation errors (empty if Valid)
}

// Err returns the first error, or nil if the record is valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return r.Errors[0]
}

// Reason joins all error messages for a row failure.
func (r ValidationResult) Reason() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateRequired reports every required column that is nil after
// normalization. raw supplies the original values for the report.
func ValidateRequired(def EntityDefinition, rec Record, raw RawRecord) ValidationResult {
	result := ValidationResult{Valid: true}
	folded := foldKeys(raw)

	for _, col := range def.Columns {
		if !col.Required || rec[col.Key] != nil {
			continue
		}

		original, present := folded[col.Key]
		msg := "required field is empty"
		if present && !isEmptyRaw(original) {
			msg = fmt.Sprintf("required %s value could not be parsed", col.Type)
		}

		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:   col.Key,
			Value:   original,
			Message: msg,
		})
	}

	return result
}

func isEmptyRaw(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	}
	return false
}
