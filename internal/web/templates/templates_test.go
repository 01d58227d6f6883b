package templates

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/core/normalize"
)

func render(t *testing.T, c interface {
	Render(context.Context, io.Writer) error
}) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	return buf.String()
}

func TestRunReport(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r := &core.Report{
		RunID:      uuid.New(),
		State:      core.RunCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Entities: []core.EntityReport{{
			EntityType: "contacts",
			State:      core.RunCompleted,
			Succeeded:  1,
			Failed:     1,
			Failures: []core.RowFailure{{
				RowIndex: 1, ExternalID: "<b>CON-2</b>", Code: core.CodeUnresolvedReference, Reason: "no account",
			}},
			Audit: core.AuditLog{Changes: []core.AuditChange{{RowIndex: 0, Change: normalize.Change{Rule: "state_name_to_code"}}}},
		}},
	}

	html := render(t, RunReport(r))
	assert.Contains(t, html, r.RunID.String())
	assert.Contains(t, html, "1 succeeded, 1 failed, 0 skipped")
	assert.Contains(t, html, "contacts failures")
	assert.Contains(t, html, "UNRESOLVED_REFERENCE")
	assert.Contains(t, html, "&lt;b&gt;CON-2&lt;/b&gt;", "values are escaped")
	assert.NotContains(t, html, "<b>CON-2</b>")
	assert.Contains(t, html, "state_name_to_code")
	assert.Contains(t, html, "1.5s")
}

func TestRunPending(t *testing.T) {
	p := core.Progress{RunID: uuid.New(), State: core.RunRunning, EntityType: "accounts", Processed: 5, Total: 10}
	html := render(t, RunPending(p))
	assert.Contains(t, html, `http-equiv="refresh"`)
	assert.Contains(t, html, "5 of 10 rows (50%)")
}

func TestErrorAlert(t *testing.T) {
	html := render(t, ErrorAlert("Import run not found", "Check the run list", "RUN002"))
	assert.Contains(t, html, `role="alert"`)
	assert.Contains(t, html, "RUN002")

	page := render(t, ErrorPage(core.UserMessage{Message: "x & y", Code: "ERR000"}))
	assert.Contains(t, page, "x &amp; y")
}
