// Package httpapi serves the catalog over the HTTP sync protocol.
package httpapi

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"ftrack/internal/api"
	"ftrack/internal/caption"
	"ftrack/internal/ft"
)

// CaptionQueue accepts images for background captioning.
type CaptionQueue interface {
	Submit(job caption.Job) error
}

type ServerConfig struct {
	Token        string
	MaxBodyBytes int64
}

type Server struct {
	catalog  ft.Catalog
	captions CaptionQueue
	logger   ft.Logger
	cfg      ServerConfig
	schemas  map[string]*jsonschema.Schema
}

// NewServer creates a Server. captions may be nil when captioning is off.
func NewServer(catalog ft.Catalog, captions CaptionQueue, logger ft.Logger, cfg ServerConfig) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		catalog:  catalog,
		captions: captions,
		logger:   logger,
		cfg:      cfg,
		schemas:  schemas,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(api.CorrelationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set(api.CorrelationHeader, correlationID)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.route(rec, r, correlationID)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
		"correlation_id", correlationID)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request, correlationID string) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "route not found", correlationID)
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "missing or invalid bearer token", correlationID)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "files" && r.Method == http.MethodPost:
		s.handleUpsert(w, r, correlationID)
	case len(parts) == 3 && parts[1] == "files" && parts[2] == "remove" && r.Method == http.MethodPost:
		s.handleRemove(w, r, correlationID)
	case len(parts) == 3 && parts[1] == "files" && parts[2] == "rename" && r.Method == http.MethodPost:
		s.handleRename(w, r, correlationID)
	case len(parts) == 3 && parts[1] == "files" && parts[2] == "touch" && r.Method == http.MethodPost:
		s.handleTouch(w, r, correlationID)
	case len(parts) == 2 && parts[1] == "tasks" && r.Method == http.MethodPost:
		s.handleEnqueue(w, r, correlationID)
	case len(parts) == 3 && parts[1] == "tasks" && parts[2] == "pending" && r.Method == http.MethodGet:
		s.handlePending(w, r, correlationID)
	case len(parts) == 4 && parts[1] == "tasks" && parts[3] == "complete" && r.Method == http.MethodPost:
		s.handleComplete(w, r, parts[2], correlationID)
	case len(parts) == 4 && parts[1] == "tasks" && parts[3] == "fail" && r.Method == http.MethodPost:
		s.handleFail(w, r, parts[2], correlationID)
	case len(parts) == 3 && parts[1] == "users" && r.Method == http.MethodPut:
		s.handleProvision(w, r, parts[2], correlationID)
	case len(parts) == 4 && parts[1] == "users" && parts[3] == "files" && r.Method == http.MethodGet:
		s.handleListFiles(w, r, parts[2], correlationID)
	case len(parts) == 4 && parts[1] == "users" && parts[3] == "stats" && r.Method == http.MethodGet:
		s.handleStats(w, r, parts[2], correlationID)
	case len(parts) == 5 && parts[1] == "users" && parts[3] == "tasks" && parts[4] == "dead-letter" && r.Method == http.MethodGet:
		s.handleDeadLetter(w, r, parts[2], correlationID)
	case len(parts) == 2 && parts[1] == "images" && r.Method == http.MethodPost:
		s.handleImage(w, r, correlationID)
	case len(parts) == 3 && parts[1] == "images" && parts[2] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, api.CodeNotFound, "route not found", correlationID)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.cfg.Token)) == 1
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request, correlationID string) {
	var p ft.FileProposal
	if !s.decodeJSONBody(w, r, schemaUpsert, correlationID, &p) {
		return
	}
	res, err := s.catalog.UpsertFile(r.Context(), p)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	status := http.StatusOK
	if res.Outcome == ft.UpsertCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req api.NameRequest
	if !s.decodeJSONBody(w, r, schemaName, correlationID, &req) {
		return
	}
	rec, err := s.catalog.RemoveFile(r.Context(), req.DeviceID, req.Username, req.Name)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordResponse{Record: rec})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, correlationID string) {
	var p ft.RenameProposal
	if !s.decodeJSONBody(w, r, schemaRename, correlationID, &p) {
		return
	}
	rec, err := s.catalog.RenameFile(r.Context(), p)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordResponse{Record: rec})
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req api.TouchRequest
	if !s.decodeJSONBody(w, r, schemaName, correlationID, &req) {
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	rec, err := s.catalog.TouchAccess(r.Context(), req.DeviceID, req.Username, req.Name, at)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordResponse{Record: rec})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req ft.TaskRequest
	if !s.decodeJSONBody(w, r, schemaTask, correlationID, &req) {
		return
	}
	id, err := s.catalog.EnqueueTask(r.Context(), req)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, api.TaskIDResponse{ID: id})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request, correlationID string) {
	q := r.URL.Query()
	tasks, err := s.catalog.ListPendingTasks(r.Context(), q.Get("device_id"), q.Get("username"))
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	if tasks == nil {
		tasks = []*ft.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, api.TasksResponse{Tasks: tasks})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	if err := s.catalog.CompleteTask(r.Context(), id); err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{Status: ft.TaskDone})
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	var req api.FailRequest
	if !s.decodeJSONBody(w, r, schemaFail, correlationID, &req) {
		return
	}
	status, err := s.catalog.FailTask(r.Context(), id, req.Reason)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{Status: status})
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request, username, correlationID string) {
	var req api.ProvisionRequest
	if !s.decodeJSONBody(w, r, schemaProvision, correlationID, &req) {
		return
	}
	user, err := s.catalog.ProvisionUser(r.Context(), ft.UserProfile{
		Username:              username,
		DeviceID:              req.DeviceID,
		CleanDuplicatesOnScan: req.CleanDuplicatesOnScan,
	})
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, username, correlationID string) {
	var filter ft.FileFilter
	if raw := r.URL.Query().Get("stale_before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, api.CodeBadRequest, "stale_before must be RFC3339", correlationID)
			return
		}
		filter.StaleBefore = &t
	}
	files, err := s.catalog.ListFiles(r.Context(), username, filter)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	if files == nil {
		files = []*ft.FileRecord{}
	}
	writeJSON(w, http.StatusOK, api.FilesResponse{Files: files})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, username, correlationID string) {
	report, err := s.catalog.GetStats(r.Context(), username)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request, username, correlationID string) {
	tasks, err := s.catalog.ListDeadLetterTasks(r.Context(), username)
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	if tasks == nil {
		tasks = []*ft.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, api.TasksResponse{Tasks: tasks})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.captions == nil {
		writeError(w, http.StatusServiceUnavailable, api.CodeCaptionDisabled, "captioning is not configured", correlationID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxBodyBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, api.CodeTooLarge, "request body exceeds configured limit", correlationID)
			return
		}
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid multipart body", correlationID)
		return
	}
	defer r.MultipartForm.RemoveAll()

	job := caption.Job{
		DeviceID: r.FormValue("device_id"),
		Username: r.FormValue("username"),
		Path:     r.FormValue("path"),
	}
	if job.DeviceID == "" || job.Username == "" || job.Path == "" {
		writeError(w, http.StatusBadRequest, api.CodeMissingFields, "device_id, username and path are required", correlationID)
		return
	}
	job.MediaType = ft.MediaType(job.Path)
	if job.MediaType == "" {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, fmt.Sprintf("%s is not a supported image", job.Path), correlationID)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeMissingFields, "file part is required", correlationID)
		return
	}
	defer file.Close()
	if job.Data, err = io.ReadAll(file); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "failed to read image", correlationID)
		return
	}

	if err := s.captions.Submit(job); err != nil {
		if errors.Is(err, caption.ErrQueueFull) || errors.Is(err, caption.ErrPoolClosed) {
			writeError(w, http.StatusServiceUnavailable, api.CodeQueueFull, err.Error(), correlationID)
			return
		}
		s.writeCatalogError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, correlationID string) {
	q := r.URL.Query()
	results, err := s.catalog.SearchCaptions(r.Context(), q.Get("username"), q.Get("q"))
	if err != nil {
		s.writeCatalogError(w, err, correlationID)
		return
	}
	if results == nil {
		results = []*ft.CaptionRecord{}
	}
	writeJSON(w, http.StatusOK, api.SearchResponse{Results: results})
}

func (s *Server) writeCatalogError(w http.ResponseWriter, err error, correlationID string) {
	status, code := api.StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "correlation_id", correlationID)
	}
	writeError(w, status, code, err.Error(), correlationID)
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, api.CodeTooLarge, "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

// decodeJSONBody validates the body against the named schema before
// decoding it into dst.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, schema, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid JSON body", correlationID)
		return false
	}
	if err := s.schemas[schema].Validate(doc); err != nil {
		code := api.CodeBadRequest
		if missingProperty(err) {
			code = api.CodeMissingFields
		}
		writeError(w, http.StatusBadRequest, code, err.Error(), correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid JSON body", correlationID)
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, api.ErrorBody{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
	})
}
