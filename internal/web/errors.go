package web

// errors.go provides unified error response handling for the web layer.
//
// Handlers call respondError with the technical error. It is logged with the
// request ID, mapped through core.MapError and rendered as JSON for API
// routes or as an HTML page otherwise. The HTTP status is derived from the
// error unless the caller passes one.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/logging"
	"github.com/JonMunkholm/caseimport/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the mapped user message. A zero status
// is derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{"path", r.URL.Path, "method", r.Method, "status", status, "error", err.Error(), "code", msg.Code}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if wantsJSON(r) {
		writeJSON(w, status, ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = templates.ErrorPage(msg).Render(r.Context(), w)
}

// statusFor picks the HTTP status for an error.
func statusFor(err error) int {
	var (
		ure *core.UnresolvedReferenceError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.Is(err, core.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.As(err, &mbe), errors.Is(err, core.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrBadInput), errors.Is(err, core.ErrEmptyInput), errors.As(err, &ure):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case strings.Contains(err.Error(), "unknown entity type"):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
