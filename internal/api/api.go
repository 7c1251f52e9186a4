// Package api holds the JSON bodies and error codes shared by the HTTP
// server and client.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"ftrack/internal/ft"
)

// Error codes carried in ErrorBody.Code.
const (
	CodeMissingFields   = "missing_fields"
	CodeNotFound        = "not_found"
	CodePathMismatch    = "path_mismatch"
	CodeInvalidPath     = "invalid_path"
	CodeQueueFull       = "queue_full"
	CodeCaptionDisabled = "captioning_disabled"
	CodeTooLarge        = "payload_too_large"
	CodeUnauthorized    = "unauthorized"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal_error"
)

// CorrelationHeader carries a request id from client to server logs.
const CorrelationHeader = "X-Correlation-Id"

// ErrorBody is the payload of every non-2xx response.
type ErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// NameRequest identifies a record by device, user and base name.
type NameRequest struct {
	DeviceID string `json:"device_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// TouchRequest reports an access. A nil At means now.
type TouchRequest struct {
	DeviceID string     `json:"device_id"`
	Username string     `json:"username"`
	Name     string     `json:"name"`
	At       *time.Time `json:"at,omitempty"`
}

type FailRequest struct {
	Reason string `json:"reason"`
}

// ProvisionRequest is the body of PUT /v1/users/{user}.
type ProvisionRequest struct {
	DeviceID              string `json:"device_id"`
	CleanDuplicatesOnScan bool   `json:"clean_duplicates_on_scan"`
}

type RecordResponse struct {
	Record *ft.FileRecord `json:"record"`
}

type TaskIDResponse struct {
	ID string `json:"id"`
}

type TasksResponse struct {
	Tasks []*ft.TaskRecord `json:"tasks"`
}

type StatusResponse struct {
	Status ft.TaskStatus `json:"status"`
}

type FilesResponse struct {
	Files []*ft.FileRecord `json:"files"`
}

type SearchResponse struct {
	Results []*ft.CaptionRecord `json:"results"`
}

// StatusFor maps a catalog error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ft.ErrMissingFields):
		return http.StatusBadRequest, CodeMissingFields
	case errors.Is(err, ft.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ft.ErrConflict):
		return http.StatusConflict, CodePathMismatch
	case errors.Is(err, ft.ErrInvalidPath):
		return http.StatusUnprocessableEntity, CodeInvalidPath
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// Error is a non-2xx response seen by the client. It unwraps to the
// matching ft sentinel so callers can use errors.Is.
type Error struct {
	StatusCode int
	Body       ErrorBody
}

func (e *Error) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Body.Code, e.Body.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body.Message)
}

func (e *Error) Unwrap() error {
	switch e.Body.Code {
	case CodeMissingFields:
		return ft.ErrMissingFields
	case CodeNotFound:
		return ft.ErrNotFound
	case CodePathMismatch:
		return ft.ErrConflict
	case CodeInvalidPath:
		return ft.ErrInvalidPath
	}
	switch e.StatusCode {
	case http.StatusBadRequest:
		return ft.ErrMissingFields
	case http.StatusNotFound:
		return ft.ErrNotFound
	case http.StatusConflict:
		return ft.ErrConflict
	case http.StatusUnprocessableEntity:
		return ft.ErrInvalidPath
	}
	return nil
}
