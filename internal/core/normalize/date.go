package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const isoDate = "2006-01-02"

// Spreadsheet serial dates are only recognised in this range; smaller or
// larger pure numbers are more likely amounts or compact yyyymmdd dates.
const (
	minSerialDate = 1000
	maxSerialDate = 100000
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are moved
// back a century.
var TwoDigitYearPivot = 20

var (
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	numberRe  = regexp.MustCompile(`^\d+(\.\d+)?$`)
	usDateRe  = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)
	euDateRe  = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
)

var (
	isoDateTimeLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
	}
	fourDigitYearLayouts = []string{
		"2006/01/02", "2006/1/2", "2006.01.02", "2006-1-2",
		"Jan 2, 2006", "January 2, 2006", "Jan 2 2006", "January 2 2006",
		"2 Jan 2006", "2 January 2006", "02-Jan-2006", "Mon, 02 Jan 2006",
		"20060102",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	instantLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006 3:04 PM",
		"1/2/2006 3:04:05 PM",
		"2.1.2006 15:04:05",
		"2.1.2006 15:04",
	}
	twoDigitYearInstantLayouts = []string{
		"1/2/06 15:04:05",
		"1/2/06 15:04",
		"1/2/06 3:04 PM",
		"1/2/06 3:04:05 PM",
	}
)

// Date normalizes a date cell to YYYY-MM-DD.
//
// Already canonical dates pass through unchanged. Otherwise the following are
// tried in order: spreadsheet serial number, ISO datetime, MM/DD/YYYY or
// MM-DD-YYYY, DD.MM.YYYY, and finally a list of common written layouts.
func Date(field string, raw any) Outcome[string] {
	s, ok := rawString(raw)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return nullOf[string](raw)
	}

	d, rule, ok := parseDate(s)
	if !ok {
		out := nullOf[string](raw)
		out.record(field, RuleDateParseFailed, nil)
		return out
	}

	out := valueOf(raw, d)
	if rule != "" {
		out.record(field, rule, d)
	}
	return out
}

// DateTime normalizes a timestamp cell to an RFC 3339 instant in UTC.
// Values carrying a time of day keep it; plain dates are placed at midnight UTC.
func DateTime(field string, raw any) Outcome[string] {
	s, ok := rawString(raw)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return nullOf[string](raw)
	}

	if t, ok := serialInstant(s); ok {
		v := t.Format(time.RFC3339)
		out := valueOf(raw, v)
		out.record(field, RuleExcelSerialDate, v)
		out.record(field, RuleDateTimeToUTC, v)
		return out
	}

	if t, ok := parseInstant(s); ok {
		v := t.UTC().Format(time.RFC3339)
		out := valueOf(raw, v)
		if v != s {
			out.record(field, RuleDateTimeToUTC, v)
		}
		return out
	}

	d, rule, ok := parseDate(s)
	if !ok {
		out := nullOf[string](raw)
		out.record(field, RuleDateTimeParseFailed, nil)
		return out
	}

	v := d + "T00:00:00Z"
	out := valueOf(raw, v)
	if rule != "" {
		out.record(field, rule, d)
	}
	out.record(field, RuleDateToMidnightUTC, v)
	return out
}

// parseDate returns the canonical date and the rule that produced it.
// The rule is empty when s was already canonical.
func parseDate(s string) (string, Rule, bool) {
	if isoDateRe.MatchString(s) {
		if _, err := time.Parse(isoDate, s); err == nil {
			return s, "", true
		}
	}

	if numberRe.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f >= minSerialDate && f <= maxSerialDate {
			if t, err := excelize.ExcelDateToTime(f, false); err == nil {
				return t.Format(isoDate), RuleExcelSerialDate, true
			}
		}
	}

	if strings.Contains(s, "T") {
		for _, layout := range isoDateTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(isoDate), RuleISODateTimeToDate, true
			}
		}
	}

	if m := usDateRe.FindStringSubmatch(s); m != nil {
		if d, ok := calendarDate(m[3], m[1], m[2]); ok {
			return d, RuleUSDateFormat, true
		}
	}

	if m := euDateRe.FindStringSubmatch(s); m != nil {
		if d, ok := calendarDate(m[3], m[2], m[1]); ok {
			return d, RuleEUDateFormat, true
		}
	}

	if t, ok := parseWritten(s); ok {
		return t.Format(isoDate), RuleNativeDateParse, true
	}

	return "", "", false
}

// calendarDate builds a date from its parts and rejects impossible ones
// such as 02/30/2024.
func calendarDate(year, month, day string) (string, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return "", false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(m) || t.Day() != d {
		return "", false
	}
	return t.Format(isoDate), true
}

// parseWritten is the last-resort parser for written and compact layouts.
func parseWritten(s string) (time.Time, bool) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pivotCentury(t), true
		}
	}

	return time.Time{}, false
}

// pivotCentury moves a parsed two-digit year back a century when it lands
// more than TwoDigitYearPivot years in the future.
func pivotCentury(t time.Time) time.Time {
	if t.Year() > time.Now().Year()+TwoDigitYearPivot {
		return t.AddDate(-100, 0, 0)
	}
	return t
}

// serialInstant reads a spreadsheet serial that carries a time of day.
// Whole serials are dates and are left to parseDate.
func serialInstant(s string) (time.Time, bool) {
	if !numberRe.MatchString(s) {
		return time.Time{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < minSerialDate || f > maxSerialDate || f == math.Trunc(f) {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC().Round(time.Second), true
}

// parseInstant accepts inputs that carry a time of day.
func parseInstant(s string) (time.Time, bool) {
	if strings.Contains(s, "T") {
		for _, layout := range isoDateTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range twoDigitYearInstantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pivotCentury(t), true
		}
	}
	return time.Time{}, false
}
