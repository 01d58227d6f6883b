package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/source"
	"github.com/JonMunkholm/caseimport/internal/web/templates"
)

// multipartMemory is how much of an upload is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// StartRunRequest is the JSON body of POST /api/imports.
type StartRunRequest struct {
	OrganizationID string                      `json:"organizationId"`
	Only           []string                    `json:"only"`
	Batches        map[string][]core.RawRecord `json:"batches"`
}

// StartRunResponse is returned when a run is accepted.
type StartRunResponse struct {
	RunID       uuid.UUID     `json:"runId"`
	State       core.RunState `json:"state"`
	Records     int           `json:"records"`
	ReportURL   string        `json:"reportUrl"`
	ProgressURL string        `json:"progressUrl"`
	PageURL     string        `json:"pageUrl"`
}

// handleStartRun accepts a JSON body of batches or a multipart upload of a
// CSV file or workbook and starts a run.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	var (
		req core.RunRequest
		src source.Batches
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, src, err = s.readUpload(r)
	} else {
		req, src, err = s.readBatches(r)
	}
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if src.Len() == 0 {
		s.respondError(w, r, core.ErrEmptyInput, http.StatusBadRequest)
		return
	}

	runID, err := s.service.StartRun(r.Context(), src, req)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	base := "/api/imports/" + runID.String()
	w.Header().Set("Location", base)
	writeJSON(w, http.StatusAccepted, StartRunResponse{
		RunID:       runID,
		State:       core.RunPending,
		Records:     src.Len(),
		ReportURL:   base,
		ProgressURL: base + "/progress",
		PageURL:     "/imports/" + runID.String(),
	})
}

// readBatches decodes a StartRunRequest. Numbers stay json.Number so
// identifiers and amounts keep their text.
func (s *Server) readBatches(r *http.Request) (core.RunRequest, source.Batches, error) {
	var body StartRunRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return core.RunRequest{}, nil, err
		}
		return core.RunRequest{}, nil, fmt.Errorf("%w: %w", core.ErrBadInput, err)
	}
	for entityType := range body.Batches {
		if _, ok := s.service.Registry().Get(entityType); !ok {
			return core.RunRequest{}, nil, fmt.Errorf("%w: unknown entity type %q", core.ErrBadInput, entityType)
		}
	}
	return core.RunRequest{OrganizationID: body.OrganizationID, Only: body.Only}, body.Batches, nil
}

// readUpload reads a multipart form with a "file" part. Workbooks supply
// one sheet per entity type; a CSV file needs "entityType" or a file name
// matching one.
func (s *Server) readUpload(r *http.Request) (core.RunRequest, source.Batches, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return core.RunRequest{}, nil, err
		}
		return core.RunRequest{}, nil, fmt.Errorf("%w: %w", core.ErrBadInput, err)
	}
	req := core.RunRequest{
		OrganizationID: r.FormValue("organizationId"),
		Only:           splitList(r.FormValue("only")),
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return req, nil, fmt.Errorf("%w: missing file: %w", core.ErrBadInput, err)
	}
	defer file.Close()

	reg := s.service.Registry()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".xlsx", ".xlsm":
		wb, err := source.ReadWorkbook(file)
		if err != nil {
			return req, nil, fmt.Errorf("%w: %w", core.ErrBadInput, err)
		}
		defer wb.Close()
		batches, err := source.Collect(r.Context(), wb, reg.EntityTypes())
		if err != nil {
			return req, nil, fmt.Errorf("%w: %w", core.ErrBadInput, err)
		}
		return req, batches, nil

	case ".csv":
		entityType := r.FormValue("entityType")
		if entityType == "" {
			entityType = core.HeaderKey(strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename)))
		}
		if _, ok := reg.Get(entityType); !ok {
			return req, nil, fmt.Errorf("%w: unknown entity type %q", core.ErrBadInput, entityType)
		}
		records, err := source.ReadCSV(file)
		if err != nil {
			return req, nil, fmt.Errorf("%w: %w", core.ErrBadInput, err)
		}
		return req, source.Batches{entityType: records}, nil
	}
	return req, nil, fmt.Errorf("%w: unsupported file type %q", core.ErrBadInput, ext)
}

// handleListRuns lists recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.service.Runs(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleRunReport returns the report of a finished run, or its progress
// with 202 while it runs. With ?wait=1 it blocks until the run finishes or
// the request times out.
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		report, err := s.service.Wait(r.Context(), runID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, report)
			return
		case !errors.Is(err, core.ErrRunNotFound):
			s.respondError(w, r, err, 0)
			return
		}
	}

	report, done, err := s.service.Report(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if !done {
		p, err := s.service.Progress(runID)
		if err != nil {
			s.respondError(w, r, err, 0)
			return
		}
		writeJSON(w, http.StatusAccepted, p)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCancelRun asks a run to stop at the next entity boundary.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	if err := s.service.Cancel(runID); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": runID, "cancelRequested": true})
}

// handleRunProgress streams progress as server-sent events. Each event
// carries an increasing id. A final "complete" event carries the run
// summary once the run ends.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	eventID := 0
	for {
		select {
		case p, open := <-progressCh:
			if !open {
				data := []byte("{}")
				if report, done, err := s.service.Report(r.Context(), runID); err == nil && done {
					data, _ = json.Marshal(report.Summary())
				}
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				_ = rc.Flush()
				return
			}
			eventID++
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleRunPage renders the HTML report of a run.
func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	report, done, err := s.service.Report(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !done {
		p, err := s.service.Progress(runID)
		if err != nil {
			s.respondError(w, r, err, 0)
			return
		}
		_ = templates.RunPending(p).Render(r.Context(), w)
		return
	}
	_ = templates.RunReport(report).Render(r.Context(), w)
}

// runID parses the {runID} URL parameter, answering 404 when malformed.
func (s *Server) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "runID")
	id, err := uuid.Parse(raw)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %q", core.ErrRunNotFound, raw), http.StatusNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
