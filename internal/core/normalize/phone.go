package normalize

import (
	"strings"
	"unicode"
)

// Phone formats North American numbers and leaves everything else in the
// shape it arrived in.
//
// Ten digits become "(XXX) XXX-XXXX"; eleven digits with a leading 1 become
// "+1 (XXX) XXX-XXXX". Any other number only has its internal whitespace
// collapsed. International numbers are never rejected.
func Phone(field string, raw any) Outcome[string] {
	out, s, done := blank[string](field, raw)
	if done {
		return out
	}
	trimmed := strings.TrimSpace(s)

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, trimmed)

	switch {
	case len(digits) == 10:
		v := "(" + digits[0:3] + ") " + digits[3:6] + "-" + digits[6:]
		out = valueOf(raw, v)
		if v != trimmed {
			out.record(field, RulePhoneFormattedUS, v)
		}
		return out

	case len(digits) == 11 && digits[0] == '1':
		v := "+1 (" + digits[1:4] + ") " + digits[4:7] + "-" + digits[7:]
		out = valueOf(raw, v)
		if v != trimmed {
			out.record(field, RulePhoneFormattedUSIntl, v)
		}
		return out
	}

	v := strings.Join(strings.FieldsFunc(trimmed, unicode.IsSpace), " ")
	out = valueOf(raw, v)
	if v != trimmed {
		out.record(field, RulePhoneWhitespaceCleaned, v)
	}
	return out
}
