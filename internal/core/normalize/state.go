package normalize

import "strings"

// USStates maps lower-case US state, district and territory names to their
// postal codes.
var USStates = map[string]string{
	"alabama":                  "AL",
	"alaska":                   "AK",
	"arizona":                  "AZ",
	"arkansas":                 "AR",
	"california":               "CA",
	"colorado":                 "CO",
	"connecticut":              "CT",
	"delaware":                 "DE",
	"florida":                  "FL",
	"georgia":                  "GA",
	"hawaii":                   "HI",
	"idaho":                    "ID",
	"illinois":                 "IL",
	"indiana":                  "IN",
	"iowa":                     "IA",
	"kansas":                   "KS",
	"kentucky":                 "KY",
	"louisiana":                "LA",
	"maine":                    "ME",
	"maryland":                 "MD",
	"massachusetts":            "MA",
	"michigan":                 "MI",
	"minnesota":                "MN",
	"mississippi":              "MS",
	"missouri":                 "MO",
	"montana":                  "MT",
	"nebraska":                 "NE",
	"nevada":                   "NV",
	"new hampshire":            "NH",
	"new jersey":               "NJ",
	"new mexico":               "NM",
	"new york":                 "NY",
	"north carolina":           "NC",
	"north dakota":             "ND",
	"ohio":                     "OH",
	"oklahoma":                 "OK",
	"oregon":                   "OR",
	"pennsylvania":             "PA",
	"rhode island":             "RI",
	"south carolina":           "SC",
	"south dakota":             "SD",
	"tennessee":                "TN",
	"texas":                    "TX",
	"utah":                     "UT",
	"vermont":                  "VT",
	"virginia":                 "VA",
	"washington":               "WA",
	"west virginia":            "WV",
	"wisconsin":                "WI",
	"wyoming":                  "WY",
	"district of columbia":     "DC",
	"washington dc":            "DC",
	"washington d.c.":          "DC",
	"puerto rico":              "PR",
	"guam":                     "GU",
	"us virgin islands":        "VI",
	"u.s. virgin islands":      "VI",
	"virgin islands":           "VI",
	"american samoa":           "AS",
	"northern mariana islands": "MP",
}

// stateCodes is the set of valid postal codes.
var stateCodes = func() map[string]bool {
	codes := make(map[string]bool, len(USStates))
	for _, code := range USStates {
		codes[code] = true
	}
	return codes
}()

// State maps a US state name or code to its two-letter code.
// Values that match nothing are returned unmodified: they are treated as a
// region outside the US, not as an error.
func State(field string, raw any) Outcome[string] {
	out, s, done := blank[string](field, raw)
	if done {
		return out
	}
	trimmed := strings.TrimSpace(s)

	if upper := strings.ToUpper(trimmed); len(trimmed) == 2 && stateCodes[upper] {
		out = valueOf(raw, upper)
		if upper != trimmed {
			out.record(field, RuleStateUppercased, upper)
		}
		return out
	}

	name := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
	if code, ok := USStates[name]; ok {
		out = valueOf(raw, code)
		out.record(field, RuleStateNameToCode, code)
		return out
	}

	return valueOf(raw, trimmed)
}
