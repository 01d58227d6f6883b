// Package templates renders the HTML pages of the import server as templ
// components.
package templates

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/core/normalize"
)

const style = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}
table{border-collapse:collapse;margin:1rem 0}td,th{border:1px solid #d1d5db;padding:.3rem .6rem;text-align:left}
th{background:#f3f4f6}.completed{color:#047857}.failed{color:#b91c1c}.cancelled{color:#92400e}
.alert{border:1px solid #fca5a5;background:#fef2f2;padding:1rem;border-radius:.3rem}small{color:#6b7280}`

// writer accumulates the first write error so markup reads top to bottom.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) raw(format string, args ...any) {
	if w.err == nil {
		_, w.err = fmt.Fprintf(w.w, format, args...)
	}
}

// text writes s HTML-escaped.
func (w *writer) text(s string) {
	w.raw("%s", templ.EscapeString(s))
}

func page(title string, body func(w *writer)) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\"><title>")
		w.text(title)
		w.raw("</title><style>%s</style></head><body>", style)
		body(w)
		w.raw("</body></html>")
		return w.err
	})
}

// ErrorAlert renders an error box with the user message and code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, out io.Writer) error {
		w := &writer{w: out}
		errorAlert(w, message, action, code)
		return w.err
	})
}

func errorAlert(w *writer, message, action, code string) {
	w.raw(`<div class="alert" role="alert"><strong>`)
	w.text(message)
	w.raw("</strong>")
	if action != "" {
		w.raw("<p>")
		w.text(action)
		w.raw("</p>")
	}
	w.raw("<small>Code: ")
	w.text(code)
	w.raw("</small></div>")
}

// ErrorPage renders a full page around ErrorAlert.
func ErrorPage(msg core.UserMessage) templ.Component {
	return page("Import error", func(w *writer) {
		w.raw("<h1>Import error</h1>")
		errorAlert(w, msg.Message, msg.Action, msg.Code)
	})
}

// RunPending renders a run that has not finished yet. The page refreshes
// itself every two seconds.
func RunPending(p core.Progress) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\"><meta http-equiv=\"refresh\" content=\"2\"><title>Import ")
		w.text(p.RunID.String())
		w.raw("</title><style>%s</style></head><body><h1>Import ", style)
		w.text(p.RunID.String())
		w.raw("</h1><p>State: <strong>")
		w.text(string(p.State))
		w.raw("</strong></p>")
		if p.EntityType != "" {
			w.raw("<p>Importing ")
			w.text(p.EntityType)
			w.raw(": %d of %d rows (%d%%), %d succeeded, %d failed</p>", p.Processed, p.Total, p.Percent(), p.Succeeded, p.Failed)
		}
		w.raw("</body></html>")
		return w.err
	})
}

// RunReport renders a finished run: totals, one row per entity and the
// row failures.
func RunReport(r *core.Report) templ.Component {
	return page("Import "+r.RunID.String(), func(w *writer) {
		w.raw("<h1>Import ")
		w.text(r.RunID.String())
		w.raw("</h1><p>State: <strong class=\"%s\">", templ.EscapeString(string(r.State)))
		w.text(string(r.State))
		w.raw("</strong>")
		if r.OrganizationID != "" {
			w.raw(" &middot; Organization ")
			w.text(r.OrganizationID)
		}
		w.raw(" &middot; Started ")
		w.text(r.StartedAt.Format(time.RFC3339))
		w.raw(" &middot; Took ")
		w.text(r.Duration().Round(time.Millisecond).String())
		w.raw("</p>")
		if r.Diagnostic != "" {
			errorAlert(w, r.Diagnostic, "", string(r.State))
		}

		succeeded, failed, skipped := r.Totals()
		w.raw("<p>%d succeeded, %d failed, %d skipped</p>", succeeded, failed, skipped)

		w.raw("<table><thead><tr><th>Entity</th><th>State</th><th>Succeeded</th><th>Failed</th><th>Skipped</th><th>Changes</th><th>Note</th></tr></thead><tbody>")
		for _, e := range r.Entities {
			w.raw("<tr><td>")
			w.text(e.EntityType)
			w.raw("</td><td class=\"%s\">", templ.EscapeString(string(e.State)))
			w.text(string(e.State))
			w.raw("</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>", e.Succeeded, e.Failed, e.Skipped, len(e.Audit.Changes))
			w.text(e.Diagnostic)
			w.raw("</td></tr>")
		}
		w.raw("</tbody></table>")

		ruleCounts(w, r.RuleCounts())

		for _, e := range r.Entities {
			if len(e.Failures) == 0 {
				continue
			}
			w.raw("<h2>")
			w.text(e.EntityType)
			w.raw(" failures</h2><table><thead><tr><th>Row</th><th>External ID</th><th>Code</th><th>Reason</th></tr></thead><tbody>")
			for _, f := range e.Failures {
				w.raw("<tr><td>%d</td><td>", f.RowIndex)
				w.text(f.ExternalID)
				w.raw("</td><td>")
				w.text(string(f.Code))
				w.raw("</td><td>")
				w.text(f.Reason)
				w.raw("</td></tr>")
			}
			w.raw("</tbody></table>")
		}
	})
}

func ruleCounts(w *writer, counts map[normalize.Rule]int) {
	if len(counts) == 0 {
		return
	}
	rules := make([]normalize.Rule, 0, len(counts))
	for rule := range counts {
		rules = append(rules, rule)
	}
	slices.Sort(rules)

	w.raw("<h2>Normalization changes</h2><table><thead><tr><th>Rule</th><th>Count</th></tr></thead><tbody>")
	for _, rule := range rules {
		w.raw("<tr><td>")
		w.text(string(rule))
		w.raw("</td><td>%d</td></tr>", counts[rule])
	}
	w.raw("</tbody></table>")
}
