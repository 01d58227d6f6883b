package normalize

import (
	"encoding/json"
	"strings"
)

// Bool accepts true/false, yes/no and 1/0 in any case.
// Anything else fails closed to nil.
func Bool(field string, raw any) Outcome[bool] {
	switch v := raw.(type) {
	case nil:
		return nullOf[bool](raw)
	case bool:
		return valueOf(raw, v)
	}

	s, _ := rawString(raw)
	s = strings.ToLower(strings.TrimSpace(s))

	var (
		b       bool
		coerced bool
	)
	switch s {
	case "":
		return nullOf[bool](raw)
	case "true":
		b = true
	case "false":
		b = false
	case "yes", "1":
		b, coerced = true, true
	case "no", "0":
		b, coerced = false, true
	default:
		out := nullOf[bool](raw)
		out.record(field, RuleBooleanParseFailed, nil)
		return out
	}

	out := valueOf(raw, b)
	if coerced {
		out.record(field, RuleBooleanCoerced, b)
	}
	return out
}

// JSON parses structured data. Text that is not valid JSON is kept as-is.
func JSON(field string, raw any) Outcome[any] {
	switch raw.(type) {
	case map[string]any, []any:
		return valueOf(raw, raw)
	}

	out, s, done := blank[any](field, raw)
	if done {
		return out
	}
	trimmed := strings.TrimSpace(s)

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return valueOf(raw, v)
	}

	out = valueOf[any](raw, trimmed)
	out.record(field, RuleJSONKeptAsText, trimmed)
	return out
}
