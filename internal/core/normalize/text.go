package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	// Runs of whitespace other than newlines.
	inlineSpaceRe = regexp.MustCompile(`[^\S\n]+`)
	emailRe       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	lineEndings   = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// Text cleans free text: outer whitespace is trimmed, runs of non-newline
// whitespace collapse to one space, control characters other than tab and
// newline are removed, line endings become \n and the result is NFC
// normalized. An empty result is nil.
func Text(field string, raw any) Outcome[string] {
	out, s, done := blank[string](field, raw)
	if done {
		return out
	}

	cleaned := cleanText(s)
	if cleaned == "" {
		out = nullOf[string](raw)
		out.record(field, RuleWhitespaceOnlyToNull, nil)
		return out
	}

	out = valueOf(raw, cleaned)
	if cleaned != strings.TrimSpace(s) {
		out.record(field, RuleTextCleaned, cleaned)
	}
	return out
}

func cleanText(s string) string {
	s = lineEndings.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = norm.NFC.String(s)
	s = inlineSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Email trims and lowercases an address and checks it against a permissive
// local@domain.tld pattern. Invalid addresses become nil.
func Email(field string, raw any) Outcome[string] {
	out, s, done := blank[string](field, raw)
	if done {
		return out
	}

	v := strings.ToLower(strings.TrimSpace(s))
	if !emailRe.MatchString(v) {
		out = nullOf[string](raw)
		out.record(field, RuleInvalidEmailFormat, nil)
		return out
	}

	out = valueOf(raw, v)
	if v != strings.TrimSpace(s) {
		out.record(field, RuleEmailNormalized, v)
	}
	return out
}
