package core

// error_messages.go maps technical errors to messages users can act on.
//
// Codes are grouped by category and are stable so users can quote them:
//
//	REG001 - Entity definitions are invalid (cycle, unknown dependency, bad column)
//	REG002 - Unknown entity type
//	REF001 - A referenced record does not exist
//	REF002 - An external ID appears twice
//	VAL001 - A required field is empty or unparsable
//	VAL002 - The request body or input file is malformed
//	DB001  - Unable to reach the database
//	DB002  - The database rejected a write
//	DB003  - A database operation timed out
//	RUN001 - Too many import runs in progress
//	RUN002 - Import run not found
//	RUN003 - Import run was cancelled
//	UPL001 - Uploaded input is too large
//	UPL002 - Uploaded input is empty
//	ERR000 - Anything else; check the logs for the technical error
//
// Typed errors are matched first. Remaining errors are matched by
// case-insensitive substring, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinels for input problems raised outside the engine.
var (
	ErrInputTooLarge = errors.New("input too large")
	ErrEmptyInput    = errors.New("empty input")
	ErrBadInput      = errors.New("malformed input")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgInvalidRegistry = UserMessage{"Entity definitions are invalid", "Fix the entity definitions reported in the details and restart", "REG001"}
	msgUnknownEntity   = UserMessage{"Unknown entity type", "List the available entity types and check the spelling", "REG002"}
	msgUnresolved      = UserMessage{"A referenced record does not exist", "Import the parent record first or correct the external ID", "REF001"}
	msgDuplicateID     = UserMessage{"An external record ID appears more than once", "Give every row a unique external_record_id", "REF002"}
	msgRequired        = UserMessage{"A required field is empty or could not be read", "Fill in all required columns using a supported format", "VAL001"}
	msgBadInput        = UserMessage{"The input could not be read", "Check the request body or file format against the template", "VAL002"}
	msgDBUnavailable   = UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}
	msgDBRejected      = UserMessage{"The database rejected a record", "Review the failed rows in the run report", "DB002"}
	msgDBTimeout       = UserMessage{"Database operation timed out", "Try a smaller import or try again later", "DB003"}
	msgTooManyRuns     = UserMessage{"System is busy with other imports", "Please wait a moment and try again", "RUN001"}
	msgRunNotFound     = UserMessage{"Import run not found", "The run may have expired. Check the run list", "RUN002"}
	msgCancelled       = UserMessage{"Import run was cancelled", "Start a new run when ready", "RUN003"}
	msgTooLarge        = UserMessage{"Uploaded input is too large", "Split the input into smaller imports", "UPL001"}
	msgEmpty           = UserMessage{"Uploaded input is empty", "Provide at least one record", "UPL002"}
)

// errorPattern maps a substring of a technical error to a user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is ordered specific before general.
var errorPatterns = []errorPattern{
	{"dependency cycle", msgInvalidRegistry},
	{"unknown entity type", msgUnknownEntity},
	{"unresolved reference", msgUnresolved},
	{"duplicate external id", msgDuplicateID},
	{"duplicate key", msgDuplicateID},
	{"required field", msgRequired},
	{"could not be parsed", msgRequired},
	{"connection refused", msgDBUnavailable},
	{"connection reset", msgDBUnavailable},
	{"no such host", msgDBUnavailable},
	{"database is locked", msgDBUnavailable},
	{"violates", msgDBRejected},
	{"constraint failed", msgDBRejected},
	{"timeout", msgDBTimeout},
	{"too many concurrent", msgTooManyRuns},
	{"run not found", msgRunNotFound},
	{"context canceled", msgCancelled},
	{"request body too large", msgTooLarge},
	{"invalid character", msgBadInput},
	{"unexpected eof", msgBadInput},
}

// defaultMessage is returned when nothing matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(fmt.Errorf("start run: %w", ErrTooManyRuns))
//	// msg.Code == "RUN001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		cycle *CycleError
		ure   *UnresolvedReferenceError
		dup   *DuplicateIDError
	)
	switch {
	case errors.Is(err, ErrInvalidRegistry), errors.As(err, &cycle):
		return msgInvalidRegistry
	case errors.As(err, &ure):
		return msgUnresolved
	case errors.As(err, &dup):
		return msgDuplicateID
	case errors.Is(err, ErrTooManyRuns):
		return msgTooManyRuns
	case errors.Is(err, ErrRunNotFound):
		return msgRunNotFound
	case errors.Is(err, ErrInputTooLarge):
		return msgTooLarge
	case errors.Is(err, ErrEmptyInput):
		return msgEmpty
	case errors.Is(err, ErrBadInput):
		return msgBadInput
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgDBTimeout
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message. Error returns
// the user message; Unwrap returns the technical error for logging.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. It returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
