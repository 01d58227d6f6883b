package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error", nil, ""},
		{"invalid registry", fmt.Errorf("%w: %w", ErrInvalidRegistry, errors.New("A depends on unknown entity")), "REG001"},
		{"cycle", &CycleError{Path: []string{"a", "b", "a"}}, "REG001"},
		{"unknown entity", errors.New(`import: unknown entity type "x"`), "REG002"},
		{"unresolved reference", &UnresolvedReferenceError{EntityType: "accounts", ExternalID: "X"}, "REF001"},
		{"duplicate id", fmt.Errorf("claim: %w", &DuplicateIDError{EntityType: "accounts", ExternalID: "X", FirstRow: 2}), "REF002"},
		{"postgres unique violation", errors.New("ERROR: duplicate key value violates unique constraint"), "REF002"},
		{"required field", errors.New("name: required field is empty"), "VAL001"},
		{"malformed json", errors.New("invalid character '}' looking for beginning of value"), "VAL002"},
		{"bad input sentinel", fmt.Errorf("decode: %w", ErrBadInput), "VAL002"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), "DB001"},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), "DB001"},
		{"check constraint", errors.New("new row violates check constraint"), "DB002"},
		{"deadline", fmt.Errorf("persist: %w", context.DeadlineExceeded), "DB003"},
		{"too many runs", fmt.Errorf("start run: %w", ErrTooManyRuns), "RUN001"},
		{"run not found", fmt.Errorf("%w: abc", ErrRunNotFound), "RUN002"},
		{"cancelled", context.Canceled, "RUN003"},
		{"too large", ErrInputTooLarge, "UPL001"},
		{"empty", ErrEmptyInput, "UPL002"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := MapError(tt.err)
			assert.Equal(t, tt.wantCode, msg.Code)
			if tt.err != nil {
				assert.NotEmpty(t, msg.Message)
				assert.NotEmpty(t, msg.Action)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	assert.Empty(t, FormatUserError(nil))
	assert.Equal(t,
		"System is busy with other imports (Code: RUN001). Please wait a moment and try again",
		FormatUserError(ErrTooManyRuns))
}

func TestIsUserFacing(t *testing.T) {
	assert.False(t, IsUserFacing(nil))
	assert.False(t, IsUserFacing(errors.New("boom")))
	assert.True(t, IsUserFacing(ErrRunNotFound))
}

func TestNewUserError(t *testing.T) {
	assert.Nil(t, NewUserError(nil))

	tech := fmt.Errorf("start run: %w", ErrTooManyRuns)
	ue := NewUserError(tech)
	require.NotNil(t, ue)
	assert.Equal(t, "System is busy with other imports", ue.Error())
	assert.Equal(t, "RUN001", ue.User.Code)
	assert.ErrorIs(t, ue, ErrTooManyRuns)
}
