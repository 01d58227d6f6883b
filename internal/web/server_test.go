package web

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/caseimport/internal/config"
	"github.com/JonMunkholm/caseimport/internal/core"
	_ "github.com/JonMunkholm/caseimport/internal/core/entities"
	"github.com/JonMunkholm/caseimport/internal/store/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{RequestTimeout: 5 * time.Second},
		Upload:   config.UploadConfig{MaxFileSize: 1 << 20},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := core.NewService(core.NewImporter(core.MustLoadRegistry(), store), core.ServiceOptions{
		RetryBaseDelay: time.Millisecond,
		Sink:           store,
	})
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func postJSON(srv *Server, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return do(srv, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func sampleRequest() StartRunRequest {
	return StartRunRequest{
		OrganizationID: "org-1",
		Batches: map[string][]core.RawRecord{
			"accounts": {{"external_record_id": "CLIENT-001", "name": "Acme", "state": "California"}},
			"contacts": {
				{"external_record_id": "CON-1", "first_name": "Jo", "account_external_id": "CLIENT-001"},
				{"external_record_id": "CON-2", "first_name": "Sam", "account_external_id": "CLIENT-999"},
			},
		},
	}
}

// ============================================================================
// Catalogue Tests
// ============================================================================

func TestListEntities(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Entities []EntityResponse `json:"entities"`
	}](t, rec)
	require.Len(t, body.Entities, 10)
	assert.Equal(t, "accounts", body.Entities[0].EntityType)
	assert.Equal(t, "/api/entities/accounts/template", body.Entities[0].TemplateURL)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestDownloadTemplate(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/entities/contacts/template", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "contacts_template.csv")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "external_record_id", rows[0][0])
	assert.Equal(t, "CLIENT-001", rows[1][1])

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/entities/invoices/template", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "REG002", decode[ErrorResponse](t, rec).Code)
}

// ============================================================================
// Run Tests
// ============================================================================

func TestStartRunAndWait(t *testing.T) {
	srv, store := newTestServer(t, testConfig())

	rec := postJSON(srv, "/api/imports", sampleRequest())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[StartRunResponse](t, rec)
	assert.Equal(t, 3, started.Records)
	assert.Equal(t, started.ReportURL, rec.Header().Get("Location"))

	rec = do(srv, httptest.NewRequest(http.MethodGet, started.ReportURL+"?wait=1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[core.Report](t, rec)
	assert.Equal(t, started.RunID, report.RunID)
	assert.Equal(t, core.RunCompleted, report.State)
	assert.Equal(t, "org-1", report.OrganizationID)

	contacts, ok := report.Entity("contacts")
	require.True(t, ok)
	assert.Equal(t, 1, contacts.Succeeded)
	require.Len(t, contacts.Failures, 1)
	assert.Equal(t, core.CodeUnresolvedReference, contacts.Failures[0].Code)
	assert.Equal(t, 1, store.Count("org-1", "accounts"))

	rec = do(srv, httptest.NewRequest(http.MethodGet, started.ReportURL, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[struct {
		Runs []core.RunSummary `json:"runs"`
	}](t, rec)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, 2, runs.Runs[0].Succeeded)
	assert.Equal(t, "192.0.2.1", runs.Runs[0].RequestedFrom, "httptest remote address")

	rec = do(srv, httptest.NewRequest(http.MethodGet, started.PageURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), started.RunID.String())
	assert.Contains(t, rec.Body.String(), "CON-2")
}

func TestStartRun_Upload(t *testing.T) {
	srv, store := newTestServer(t, testConfig())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("organizationId", "org-9"))
	part, err := mw.CreateFormFile("file", "Accounts.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("\ufeffExternal Record ID,Name\r\nA-1,Acme\r\nA-2,Beta\r\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(srv, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[StartRunResponse](t, rec)

	rec = do(srv, httptest.NewRequest(http.MethodGet, started.ReportURL+"?wait=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, store.Count("org-9", "accounts"))
}

func TestStartRun_RejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	tests := []struct {
		name     string
		body     string
		wantCode string
		status   int
	}{
		{"malformed json", `{"batches":`, "VAL002", http.StatusBadRequest},
		{"unknown field", `{"batchez":{}}`, "VAL002", http.StatusBadRequest},
		{"unknown entity", `{"batches":{"invoices":[{"id":"1"}]}}`, "VAL002", http.StatusBadRequest},
		{"empty", `{"batches":{}}`, "UPL002", http.StatusBadRequest},
		{"bad only", `{"only":["invoices"],"batches":{"accounts":[{"name":"x"}]}}`, "REG002", http.StatusBadRequest},
		{"too large", `{"batches":{"accounts":[{"name":"` + strings.Repeat("x", 2<<20) + `"}]}}`, "UPL001", http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := do(srv, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestUnknownRun(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	for _, path := range []string{
		"/api/imports/" + uuid.NewString(),
		"/api/imports/not-a-uuid",
		"/api/imports/" + uuid.NewString() + "/progress",
	} {
		rec := do(srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "RUN002", decode[ErrorResponse](t, rec).Code, path)
	}

	rec := do(srv, httptest.NewRequest(http.MethodPost, "/api/imports/"+uuid.NewString()+"/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/imports/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "RUN002")
}

func TestRunProgressStream(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	started := decode[StartRunResponse](t, postJSON(srv, "/api/imports", sampleRequest()))
	do(srv, httptest.NewRequest(http.MethodGet, started.ReportURL+"?wait=1", nil))

	rec := do(srv, httptest.NewRequest(http.MethodGet, started.ProgressURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, "id: 1\nevent: progress\n")
	assert.Contains(t, out, `"state":"completed"`)
	assert.Contains(t, out, "event: complete\n")
	assert.Contains(t, out, `"succeeded":2`)
}

func TestCancelFinishedRun(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	started := decode[StartRunResponse](t, postJSON(srv, "/api/imports", sampleRequest()))
	do(srv, httptest.NewRequest(http.MethodGet, started.ReportURL+"?wait=1", nil))

	rec := do(srv, httptest.NewRequest(http.MethodPost, started.ReportURL+"/cancel", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

// ============================================================================
// Middleware Wiring Tests
// ============================================================================

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"ops:secret"}
	srv, _ := newTestServer(t, cfg)

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, do(srv, req).Code)

	assert.Equal(t, http.StatusOK, do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code, "health stays open")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	srv, _ := newTestServer(t, cfg)

	first := postJSON(srv, "/api/imports", sampleRequest())
	require.Equal(t, http.StatusAccepted, first.Code)

	second := postJSON(srv, "/api/imports", sampleRequest())
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, second).Code)

	started := decode[StartRunResponse](t, first)
	assert.Equal(t, http.StatusOK, do(srv, httptest.NewRequest(http.MethodGet, started.ReportURL+"?wait=1", nil)).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(core.ErrTooManyRuns))
	assert.Equal(t, http.StatusNotFound, statusFor(core.ErrRunNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
