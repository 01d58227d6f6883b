package normalize

import (
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rules(changes []Change) []Rule {
	var out []Rule
	for _, c := range changes {
		out = append(out, c.Rule)
	}
	return out
}

// ----------------------------------------------------------------------------
// Date Tests
// ----------------------------------------------------------------------------

func TestDate(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
		rules []Rule
		null  bool
	}{
		{"iso passthrough", "2024-03-15", "2024-03-15", nil, false},
		{"iso with spaces", "  2024-03-15 ", "2024-03-15", nil, false},
		{"excel serial", "45000", "2023-03-15", []Rule{RuleExcelSerialDate}, false},
		{"excel serial float", 45000.0, "2023-03-15", []Rule{RuleExcelSerialDate}, false},
		{"excel serial with time fraction", "45000.5", "2023-03-15", []Rule{RuleExcelSerialDate}, false},
		{"iso datetime utc", "2024-03-15T10:30:00Z", "2024-03-15", []Rule{RuleISODateTimeToDate}, false},
		{"iso datetime keeps written date", "2024-03-15T23:30:00-05:00", "2024-03-15", []Rule{RuleISODateTimeToDate}, false},
		{"iso datetime no zone", "2024-03-15T08:00", "2024-03-15", []Rule{RuleISODateTimeToDate}, false},
		{"us slash", "03/15/2024", "2024-03-15", []Rule{RuleUSDateFormat}, false},
		{"us dash short", "3-5-2024", "2024-03-05", []Rule{RuleUSDateFormat}, false},
		{"eu dots", "15.03.2024", "2024-03-15", []Rule{RuleEUDateFormat}, false},
		{"written month", "Jan 2, 2024", "2024-01-02", []Rule{RuleNativeDateParse}, false},
		{"written long month", "March 15, 2024", "2024-03-15", []Rule{RuleNativeDateParse}, false},
		{"compact", "20240315", "2024-03-15", []Rule{RuleNativeDateParse}, false},
		{"slash iso", "2024/03/15", "2024-03-15", []Rule{RuleNativeDateParse}, false},
		{"impossible day", "02/30/2024", "", []Rule{RuleDateParseFailed}, true},
		{"garbage", "not a date", "", []Rule{RuleDateParseFailed}, true},
		{"small number", "42", "", []Rule{RuleDateParseFailed}, true},
		{"empty", "", "", nil, true},
		{"whitespace", "   ", "", nil, true},
		{"nil", nil, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Date("opened_date", tt.input)
			assert.Equal(t, tt.rules, rules(out.Changes))
			if tt.null {
				assert.Nil(t, out.Value)
				return
			}
			require.NotNil(t, out.Value)
			assert.Equal(t, tt.want, *out.Value)
			assert.Equal(t, tt.input, out.Original)
		})
	}
}

func TestDate_Idempotent(t *testing.T) {
	inputs := []string{"45000", "03/15/2024", "15.03.2024", "2024-03-15T10:30:00Z", "Jan 2, 2024"}
	for _, in := range inputs {
		first := Date("d", in)
		require.NotNil(t, first.Value, in)

		second := Date("d", *first.Value)
		require.NotNil(t, second.Value, in)
		assert.Equal(t, *first.Value, *second.Value, in)
		assert.Empty(t, second.Changes, in)
	}
}

func TestDate_ChangeCarriesFieldAndValues(t *testing.T) {
	out := Date("opened_date", "03/15/2024")
	require.Len(t, out.Changes, 1)

	c := out.Changes[0]
	assert.Equal(t, "opened_date", c.Field)
	assert.Equal(t, "03/15/2024", c.Original)
	assert.Equal(t, "2024-03-15", c.Value)
}

func TestDateTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		rules []Rule
	}{
		{"utc instant passthrough", "2024-03-15T10:30:00Z", "2024-03-15T10:30:00Z", nil},
		{"offset converted", "2024-03-15T10:30:00-05:00", "2024-03-15T15:30:00Z", []Rule{RuleDateTimeToUTC}},
		{"space separated", "2024-03-15 10:30", "2024-03-15T10:30:00Z", []Rule{RuleDateTimeToUTC}},
		{"us with time", "3/15/2024 14:05", "2024-03-15T14:05:00Z", []Rule{RuleDateTimeToUTC}},
		{"date only", "2024-03-15", "2024-03-15T00:00:00Z", []Rule{RuleDateToMidnightUTC}},
		{"us date only", "03/15/2024", "2024-03-15T00:00:00Z", []Rule{RuleUSDateFormat, RuleDateToMidnightUTC}},
		{"eu with time", "16.03.2024 07:00", "2024-03-16T07:00:00Z", []Rule{RuleDateTimeToUTC}},
		{"eu with seconds", "16.03.2024 07:00:30", "2024-03-16T07:00:30Z", []Rule{RuleDateTimeToUTC}},
		{"two digit year with time", "3/16/24 7:00", "2024-03-16T07:00:00Z", []Rule{RuleDateTimeToUTC}},
		{"two digit year with meridiem", "3/16/24 7:00 PM", "2024-03-16T19:00:00Z", []Rule{RuleDateTimeToUTC}},
		{"serial with time", "45367.291666666664", "2024-03-16T07:00:00Z", []Rule{RuleExcelSerialDate, RuleDateTimeToUTC}},
		{"whole serial", "45367", "2024-03-16T00:00:00Z", []Rule{RuleExcelSerialDate, RuleDateToMidnightUTC}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := DateTime("occurred_at", tt.input)
			require.NotNil(t, out.Value)
			assert.Equal(t, tt.want, *out.Value)
			assert.Equal(t, tt.rules, rules(out.Changes))

			again := DateTime("occurred_at", *out.Value)
			assert.Empty(t, again.Changes)
		})
	}

	t.Run("numeric serial keeps time of day", func(t *testing.T) {
		out := DateTime("starts_at", 45367.75)
		require.NotNil(t, out.Value)
		assert.Equal(t, "2024-03-16T18:00:00Z", *out.Value)
	})

	t.Run("unparsable", func(t *testing.T) {
		out := DateTime("occurred_at", "soon")
		assert.Nil(t, out.Value)
		assert.Equal(t, []Rule{RuleDateTimeParseFailed}, rules(out.Changes))
	})
}

// ----------------------------------------------------------------------------
// Currency Tests
// ----------------------------------------------------------------------------

func TestCurrency(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
		rules []Rule
	}{
		{"symbol and separator", "$1,234.56", "1234.56", []Rule{RuleCurrencyCleaned}},
		{"accounting negative", "(500.00)", "-500", []Rule{RuleAccountingNegative}},
		{"accounting negative with symbol", "($1,234.56)", "-1234.56", []Rule{RuleCurrencyCleaned, RuleAccountingNegative}},
		{"leading minus with symbol", "-$1,000", "-1000", []Rule{RuleCurrencyCleaned}},
		{"euro", "\u20ac 99.90", "99.9", []Rule{RuleCurrencyCleaned}},
		{"plain decimal string", "1234.56", "1234.56", nil},
		{"plain negative string", "-12.5", "-12.5", nil},
		{"float", 12.5, "12.5", nil},
		{"int", 42, "42", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Currency("amount", tt.input)
			require.NotNil(t, out.Value)
			want := decimal.RequireFromString(tt.want)
			assert.True(t, want.Equal(*out.Value), "got %s, want %s", out.Value.String(), tt.want)
			assert.Equal(t, tt.rules, rules(out.Changes))
		})
	}
}

func TestCurrency_Failures(t *testing.T) {
	out := Currency("amount", "abc")
	assert.Nil(t, out.Value)
	assert.Equal(t, []Rule{RuleCurrencyParseFailed}, rules(out.Changes))

	out = Currency("amount", "$")
	assert.Nil(t, out.Value)
	assert.Equal(t, []Rule{RuleCurrencyParseFailed}, rules(out.Changes))

	out = Currency("amount", "")
	assert.Nil(t, out.Value)
	assert.Empty(t, out.Changes)

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.NotPanics(t, func() { out = Currency("amount", f) })
		assert.Nil(t, out.Value)
		assert.Equal(t, []Rule{RuleCurrencyParseFailed}, rules(out.Changes))
	}

	out = Currency("amount", float32(math.Inf(1)))
	assert.Nil(t, out.Value)
	assert.Equal(t, []Rule{RuleCurrencyParseFailed}, rules(out.Changes))
}

// ----------------------------------------------------------------------------
// Text and Email Tests
// ----------------------------------------------------------------------------

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
		rules []Rule
	}{
		{"trim only", "  hello  ", "hello", nil},
		{"collapse spaces", "  hello   world ", "hello world", []Rule{RuleTextCleaned}},
		{"crlf", "line one\r\nline two", "line one\nline two", []Rule{RuleTextCleaned}},
		{"keeps newlines", "a\n\nb", "a\n\nb", nil},
		{"control chars", "a\x00b\x07c", "abc", []Rule{RuleTextCleaned}},
		{"nfc", "e\u0301cole", "\u00e9cole", []Rule{RuleTextCleaned}},
		{"number", 42, "42", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Text("notes", tt.input)
			require.NotNil(t, out.Value)
			assert.Equal(t, tt.want, *out.Value)
			assert.Equal(t, tt.rules, rules(out.Changes))
		})
	}

	t.Run("whitespace only", func(t *testing.T) {
		out := Text("notes", " \t ")
		assert.Nil(t, out.Value)
		assert.Equal(t, []Rule{RuleWhitespaceOnlyToNull}, rules(out.Changes))
	})

	t.Run("empty", func(t *testing.T) {
		out := Text("notes", "")
		assert.Nil(t, out.Value)
		assert.Empty(t, out.Changes)
	})
}

func TestEmail(t *testing.T) {
	out := Email("email", "John@Example.com")
	require.NotNil(t, out.Value)
	assert.Equal(t, "john@example.com", *out.Value)
	assert.Equal(t, []Rule{RuleEmailNormalized}, rules(out.Changes))

	out = Email("email", " jo@example.com ")
	require.NotNil(t, out.Value)
	assert.Equal(t, "jo@example.com", *out.Value)
	assert.Empty(t, out.Changes)

	for _, bad := range []string{"not-an-email", "a@b", "a b@example.com", "@example.com"} {
		out = Email("email", bad)
		assert.Nil(t, out.Value, bad)
		assert.Equal(t, []Rule{RuleInvalidEmailFormat}, rules(out.Changes), bad)
	}
}

// ----------------------------------------------------------------------------
// Phone and State Tests
// ----------------------------------------------------------------------------

func TestPhone(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
		rules []Rule
	}{
		{"ten digits", "5551234567", "(555) 123-4567", []Rule{RulePhoneFormattedUS}},
		{"ten digits numeric", 5551234567, "(555) 123-4567", []Rule{RulePhoneFormattedUS}},
		{"dotted", "555.123.4567", "(555) 123-4567", []Rule{RulePhoneFormattedUS}},
		{"already formatted", "(555) 123-4567", "(555) 123-4567", nil},
		{"eleven digits", "15551234567", "+1 (555) 123-4567", []Rule{RulePhoneFormattedUSIntl}},
		{"eleven digits formatted", "+1 (555) 123-4567", "+1 (555) 123-4567", nil},
		{"international spacing", "+44 20  7946   0958", "+44 20 7946 0958", []Rule{RulePhoneWhitespaceCleaned}},
		{"international clean", "+44 20 7946 0958", "+44 20 7946 0958", nil},
		{"extension kept", "555-1234 x12", "555-1234 x12", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Phone("phone", tt.input)
			require.NotNil(t, out.Value)
			assert.Equal(t, tt.want, *out.Value)
			assert.Equal(t, tt.rules, rules(out.Changes))
		})
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		input string
		want  string
		rules []Rule
	}{
		{"california", "CA", []Rule{RuleStateNameToCode}},
		{"CA", "CA", nil},
		{"ca", "CA", []Rule{RuleStateUppercased}},
		{" Ny ", "NY", []Rule{RuleStateUppercased}},
		{"New  York", "NY", []Rule{RuleStateNameToCode}},
		{"District of Columbia", "DC", []Rule{RuleStateNameToCode}},
		{"puerto rico", "PR", []Rule{RuleStateNameToCode}},
		{"gu", "GU", []Rule{RuleStateUppercased}},
		{"Ontario", "Ontario", nil},
		{"ZZ", "ZZ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out := State("state", tt.input)
			require.NotNil(t, out.Value)
			assert.Equal(t, tt.want, *out.Value)
			assert.Equal(t, tt.rules, rules(out.Changes))
		})
	}
}

func TestState_TableCoversStatesAndTerritories(t *testing.T) {
	// 50 states, DC and five territories.
	assert.Len(t, stateCodes, 56)
}

// ----------------------------------------------------------------------------
// Bool and JSON Tests
// ----------------------------------------------------------------------------

func TestBool(t *testing.T) {
	tests := []struct {
		input any
		want  bool
		rules []Rule
	}{
		{"TRUE", true, nil},
		{"false", false, nil},
		{true, true, nil},
		{"Yes", true, []Rule{RuleBooleanCoerced}},
		{"no", false, []Rule{RuleBooleanCoerced}},
		{"1", true, []Rule{RuleBooleanCoerced}},
		{0, false, []Rule{RuleBooleanCoerced}},
	}

	for _, tt := range tests {
		out := Bool("billable", tt.input)
		require.NotNil(t, out.Value, "%v", tt.input)
		assert.Equal(t, tt.want, *out.Value, "%v", tt.input)
		assert.Equal(t, tt.rules, rules(out.Changes), "%v", tt.input)
	}

	out := Bool("billable", "maybe")
	assert.Nil(t, out.Value)
	assert.Equal(t, []Rule{RuleBooleanParseFailed}, rules(out.Changes))

	out = Bool("billable", "")
	assert.Nil(t, out.Value)
	assert.Empty(t, out.Changes)
}

func TestJSON(t *testing.T) {
	out := JSON("metadata", `{"a": 1}`)
	require.NotNil(t, out.Value)
	assert.Equal(t, map[string]any{"a": float64(1)}, *out.Value)
	assert.Empty(t, out.Changes)

	out = JSON("metadata", "[1, 2]")
	require.NotNil(t, out.Value)
	assert.Equal(t, []any{float64(1), float64(2)}, *out.Value)

	out = JSON("metadata", "{not json")
	require.NotNil(t, out.Value)
	assert.Equal(t, "{not json", *out.Value)
	assert.Equal(t, []Rule{RuleJSONKeptAsText}, rules(out.Changes))
}

// ----------------------------------------------------------------------------
// Rule and Concurrency Tests
// ----------------------------------------------------------------------------

func TestRule_Failed(t *testing.T) {
	assert.True(t, RuleDateParseFailed.Failed())
	assert.True(t, RuleInvalidEmailFormat.Failed())
	assert.True(t, RuleBooleanParseFailed.Failed())
	assert.False(t, RuleUSDateFormat.Failed())
	assert.False(t, RuleJSONKeptAsText.Failed())
}

func TestOutcome_Any(t *testing.T) {
	assert.Nil(t, Date("d", "").Any())
	assert.Equal(t, "2024-03-15", Date("d", "2024-03-15").Any())
	assert.False(t, Date("d", "2024-03-15").Changed())
	assert.True(t, Date("d", "03/15/2024").Changed())
}

func TestNormalizers_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "2024-03-15", Date("d", "03/15/2024").Any())
			assert.Equal(t, "CA", State("s", "california").Any())
			assert.Equal(t, "(555) 123-4567", Phone("p", "5551234567").Any())
		}()
	}
	wg.Wait()
}
