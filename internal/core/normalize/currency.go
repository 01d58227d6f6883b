package normalize

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyNoise strips currency symbols, thousands separators and spacing.
var currencyNoise = strings.NewReplacer(
	"$", "",
	"\u20ac", "", // Euro
	"\u00a3", "", // Pound
	"\u00a5", "", // Yen
	"\u20b9", "", // Rupee
	",", "",
	" ", "",
	"\u00a0", "", // non-breaking space
)

// Currency normalizes an amount to a decimal.
//
// Numeric input passes through unchanged. Strings may carry currency symbols,
// thousands separators, a leading minus or accounting-style parentheses for
// negatives: "($1,234.56)" becomes -1234.56.
func Currency(field string, raw any) Outcome[decimal.Decimal] {
	switch v := raw.(type) {
	case nil:
		return nullOf[decimal.Decimal](raw)
	case decimal.Decimal:
		return valueOf(raw, v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return currencyFailed(field, raw)
		}
		return valueOf(raw, decimal.NewFromFloat(v))
	case float32:
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return currencyFailed(field, raw)
		}
		return valueOf(raw, decimal.NewFromFloat32(v))
	case int:
		return valueOf(raw, decimal.NewFromInt(int64(v)))
	case int64:
		return valueOf(raw, decimal.NewFromInt(v))
	case int32:
		return valueOf(raw, decimal.NewFromInt32(v))
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return valueOf(raw, d)
		}
	}

	s, _ := rawString(raw)
	s = strings.TrimSpace(s)
	if s == "" {
		return nullOf[decimal.Decimal](raw)
	}

	// A plain decimal string is only a type coercion.
	if d, err := decimal.NewFromString(s); err == nil {
		return valueOf(raw, d)
	}

	body := s
	negative, parens := false, false
	if strings.HasPrefix(body, "(") && strings.HasSuffix(body, ")") {
		negative, parens = true, true
		body = strings.TrimSpace(body[1 : len(body)-1])
	}
	if strings.HasPrefix(body, "-") {
		negative = true
		body = strings.TrimSpace(body[1:])
	}

	cleaned := currencyNoise.Replace(body)
	if strings.HasPrefix(cleaned, "-") {
		negative = true
		cleaned = cleaned[1:]
	}

	d, err := decimal.NewFromString(cleaned)
	if cleaned == "" || err != nil {
		return currencyFailed(field, raw)
	}
	if negative && d.IsPositive() {
		d = d.Neg()
	}

	out := valueOf(raw, d)
	if cleaned != body {
		out.record(field, RuleCurrencyCleaned, d)
	}
	if parens {
		out.record(field, RuleAccountingNegative, d)
	}
	return out
}

func currencyFailed(field string, raw any) Outcome[decimal.Decimal] {
	out := nullOf[decimal.Decimal](raw)
	out.record(field, RuleCurrencyParseFailed, nil)
	return out
}
