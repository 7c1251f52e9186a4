package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"ftrack/internal/ft"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantName string
	}{
		{fmt.Errorf("x: %w", ft.ErrMissingFields), http.StatusBadRequest, CodeMissingFields},
		{fmt.Errorf("x: %w", ft.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{fmt.Errorf("x: %w", ft.ErrConflict), http.StatusConflict, CodePathMismatch},
		{fmt.Errorf("x: %w", ft.ErrInvalidPath), http.StatusUnprocessableEntity, CodeInvalidPath},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			status, code := StatusFor(tt.err)
			if status != tt.wantCode || code != tt.wantName {
				t.Errorf("StatusFor() = (%d, %s), want (%d, %s)", status, code, tt.wantCode, tt.wantName)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want error
	}{
		{"by code", &Error{StatusCode: http.StatusConflict, Body: ErrorBody{Code: CodePathMismatch}}, ft.ErrConflict},
		{"by status", &Error{StatusCode: http.StatusNotFound}, ft.ErrNotFound},
		{"invalid path", &Error{StatusCode: http.StatusUnprocessableEntity, Body: ErrorBody{Code: CodeInvalidPath}}, ft.ErrInvalidPath},
		{"server error", &Error{StatusCode: http.StatusInternalServerError}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want == nil {
				if tt.err.Unwrap() != nil {
					t.Errorf("Unwrap() = %v, want nil", tt.err.Unwrap())
				}
				return
			}
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.want)
			}
		})
	}
}
