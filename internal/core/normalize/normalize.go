// Package normalize converts loosely formatted spreadsheet values into
// canonical typed values.
//
// Every normalizer takes the raw cell value (string, number, bool or nil) and
// the field name used for audit labeling, and returns an [Outcome]. A
// normalizer never panics and never returns an error: a value that cannot be
// understood becomes nil and the outcome carries a "*_parse_failed" style
// [Change] describing what happened.
//
// The functions are pure and hold no state, so they are safe to call from
// any number of goroutines.
//
// # Change invariant
//
// Outcome.Changes is empty exactly when the normalized value is the original
// value after trivial coercion (trimming outer whitespace, "42" to 42,
// "TRUE" to true). Otherwise it holds one entry per transformation applied,
// tagged with a fixed [Rule] so reports can be filtered and tests can assert
// the exact normalization path.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Rule tags a single transformation applied by a normalizer.
type Rule string

const (
	RuleExcelSerialDate     Rule = "excel_serial_date"
	RuleISODateTimeToDate   Rule = "iso_datetime_to_date"
	RuleUSDateFormat        Rule = "us_date_format"
	RuleEUDateFormat        Rule = "eu_date_format"
	RuleNativeDateParse     Rule = "native_date_parse"
	RuleDateParseFailed     Rule = "date_parse_failed"
	RuleDateToMidnightUTC   Rule = "date_to_midnight_utc"
	RuleDateTimeToUTC       Rule = "datetime_to_utc"
	RuleDateTimeParseFailed Rule = "datetime_parse_failed"

	RuleCurrencyCleaned     Rule = "currency_cleaned"
	RuleAccountingNegative  Rule = "accounting_negative"
	RuleCurrencyParseFailed Rule = "currency_parse_failed"

	RuleTextCleaned          Rule = "text_cleaned"
	RuleWhitespaceOnlyToNull Rule = "whitespace_only_to_null"

	RuleEmailNormalized    Rule = "email_normalized"
	RuleInvalidEmailFormat Rule = "invalid_email_format"

	RulePhoneFormattedUS       Rule = "phone_formatted_us"
	RulePhoneFormattedUSIntl   Rule = "phone_formatted_us_intl"
	RulePhoneWhitespaceCleaned Rule = "phone_whitespace_cleaned"

	RuleStateUppercased Rule = "state_uppercased"
	RuleStateNameToCode Rule = "state_name_to_code"

	RuleBooleanCoerced     Rule = "boolean_coerced"
	RuleBooleanParseFailed Rule = "boolean_parse_failed"
	RuleJSONKeptAsText     Rule = "json_kept_as_text"
)

// Failed reports whether the rule marks a value that could not be parsed.
func (r Rule) Failed() bool {
	switch r {
	case RuleDateParseFailed, RuleDateTimeParseFailed, RuleCurrencyParseFailed,
		RuleInvalidEmailFormat, RuleBooleanParseFailed:
		return true
	}
	return false
}

// Change records one transformation of one field.
type Change struct {
	Field    string `json:"field"`
	Original any    `json:"originalValue"`
	Value    any    `json:"normalizedValue"`
	Rule     Rule   `json:"rule"`
}

// Outcome is the result of normalizing a single raw value.
// Value is nil when the normalized value is null.
type Outcome[T any] struct {
	Value    *T
	Original any
	Changes  []Change
}

// Any returns the normalized value as an untyped value, or nil.
func (o Outcome[T]) Any() any {
	if o.Value == nil {
		return nil
	}
	return *o.Value
}

// Changed reports whether any transformation was applied.
func (o Outcome[T]) Changed() bool {
	return len(o.Changes) > 0
}

func (o *Outcome[T]) record(field string, rule Rule, value any) {
	o.Changes = append(o.Changes, Change{
		Field:    field,
		Original: o.Original,
		Value:    value,
		Rule:     rule,
	})
}

func valueOf[T any](raw any, v T) Outcome[T] {
	return Outcome[T]{Value: &v, Original: raw}
}

func nullOf[T any](raw any) Outcome[T] {
	return Outcome[T]{Original: raw}
}

// rawString renders a raw cell value as text.
// The bool result is false only for nil.
func rawString(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case bool:
		return strconv.FormatBool(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// blank handles the empty and whitespace-only cases shared by the textual
// normalizers. When done is false the caller continues normalizing s.
func blank[T any](field string, raw any) (out Outcome[T], s string, done bool) {
	s, present := rawString(raw)
	if !present || s == "" {
		return nullOf[T](raw), "", true
	}
	if strings.TrimSpace(s) == "" {
		out = nullOf[T](raw)
		out.record(field, RuleWhitespaceOnlyToNull, nil)
		return out, "", true
	}
	return out, s, false
}
