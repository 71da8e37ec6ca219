package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/stretchr/testify/assert"
)

func TestErrInvalidCredentials(t *testing.T) {
	err := &ErrInvalidCredentials{}
	assert.Equal(t, "invalid password", err.Error())
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(err))
}

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "password", Message: "required"}
	assert.Equal(t, "validation error: password - required", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "ErrInvalidCredentials",
			err:      &ErrInvalidCredentials{},
			expected: http.StatusUnauthorized,
		},
		{
			name:     "ErrValidation",
			err:      &ErrValidation{Field: "password", Message: "required"},
			expected: http.StatusBadRequest,
		},
		{
			name:     "engine already running",
			err:      engine.ErrAlreadyRunning,
			expected: http.StatusConflict,
		},
		{
			name:     "engine not running",
			err:      engine.ErrNotRunning,
			expected: http.StatusConflict,
		},
		{
			name:     "wrapped engine sentinel",
			err:      fmt.Errorf("start: %w", engine.ErrAlreadyRunning),
			expected: http.StatusConflict,
		},
		{
			name:     "engine loop exited",
			err:      engine.ErrEngineClosed,
			expected: http.StatusServiceUnavailable,
		},
		{
			name:     "Unknown error",
			err:      assert.AnError,
			expected: http.StatusInternalServerError,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
