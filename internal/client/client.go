// Package client talks to an ftrack server over the HTTP sync protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"ftrack/internal/api"
	"ftrack/internal/ft"
)

// HTTPClient implements ft.Catalog against a remote server. Every call is
// bounded by the configured timeout and is never retried.
type HTTPClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

var _ ft.Catalog = (*HTTPClient)(nil)

// NewHTTPClient creates a client. A nil httpClient uses http.DefaultClient.
func NewHTTPClient(baseURL, token string, timeout time.Duration, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8750"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		timeout:    timeout,
		httpClient: httpClient,
	}
}

func (c *HTTPClient) UpsertFile(ctx context.Context, p ft.FileProposal) (*ft.UpsertResult, error) {
	var out ft.UpsertResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/files", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) RemoveFile(ctx context.Context, deviceID, username, name string) (*ft.FileRecord, error) {
	var out api.RecordResponse
	body := api.NameRequest{DeviceID: deviceID, Username: username, Name: name}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/files/remove", body, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

func (c *HTTPClient) RenameFile(ctx context.Context, p ft.RenameProposal) (*ft.FileRecord, error) {
	var out api.RecordResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/files/rename", p, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

func (c *HTTPClient) TouchAccess(ctx context.Context, deviceID, username, name string, at time.Time) (*ft.FileRecord, error) {
	body := api.TouchRequest{DeviceID: deviceID, Username: username, Name: name}
	if !at.IsZero() {
		body.At = &at
	}
	var out api.RecordResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/files/touch", body, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

func (c *HTTPClient) EnqueueTask(ctx context.Context, req ft.TaskRequest) (string, error) {
	var out api.TaskIDResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tasks", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) ListPendingTasks(ctx context.Context, deviceID, username string) ([]*ft.TaskRecord, error) {
	q := url.Values{}
	q.Set("device_id", deviceID)
	q.Set("username", username)
	var out api.TasksResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/tasks/pending?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *HTTPClient) CompleteTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/complete", url.PathEscape(id)), nil, nil)
}

func (c *HTTPClient) FailTask(ctx context.Context, id, reason string) (ft.TaskStatus, error) {
	var out api.StatusResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/fail", url.PathEscape(id)), api.FailRequest{Reason: reason}, &out)
	if err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *HTTPClient) ListFiles(ctx context.Context, username string, filter ft.FileFilter) ([]*ft.FileRecord, error) {
	path := fmt.Sprintf("/v1/users/%s/files", url.PathEscape(username))
	if filter.StaleBefore != nil {
		q := url.Values{}
		q.Set("stale_before", filter.StaleBefore.UTC().Format(time.RFC3339))
		path += "?" + q.Encode()
	}
	var out api.FilesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

func (c *HTTPClient) GetStats(ctx context.Context, username string) (*ft.UsageReport, error) {
	var out ft.UsageReport
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/users/%s/stats", url.PathEscape(username)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ProvisionUser(ctx context.Context, profile ft.UserProfile) (*ft.UserProfile, error) {
	body := api.ProvisionRequest{DeviceID: profile.DeviceID, CleanDuplicatesOnScan: profile.CleanDuplicatesOnScan}
	var out ft.UserProfile
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/v1/users/%s", url.PathEscape(profile.Username)), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListDeadLetterTasks(ctx context.Context, username string) ([]*ft.TaskRecord, error) {
	var out api.TasksResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/users/%s/tasks/dead-letter", url.PathEscape(username)), nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *HTTPClient) SearchCaptions(ctx context.Context, username, query string) ([]*ft.CaptionRecord, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("q", query)
	var out api.SearchResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/images/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// SubmitImage uploads image bytes for asynchronous captioning.
func (c *HTTPClient) SubmitImage(ctx context.Context, deviceID, username, path string, r io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"device_id": deviceID, "username": username, "path": path} {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("building upload: %w", err)
		}
	}
	part, err := mw.CreateFormFile("file", path)
	if err != nil {
		return fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("%w: reading image: %v", ft.ErrUnreadable, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("building upload: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v1/images", mw.FormDataContentType(), &buf, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, requestPath, contentType, reader, out)
}

func (c *HTTPClient) do(ctx context.Context, method, requestPath, contentType string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set(api.CorrelationHeader, uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ft.ErrNetwork, method, requestPath, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ft.ErrNetwork, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	apiErr := &api.Error{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(payload, &apiErr.Body); err != nil {
		// Not our error body, e.g. a proxy's HTML page.
		apiErr.Body = api.ErrorBody{Message: rawMessage(payload)}
	} else if apiErr.Body.Message == "" {
		apiErr.Body.Message = rawMessage(payload)
	}
	return apiErr
}

// maxRawMessage bounds how much of a non-JSON error body is kept.
const maxRawMessage = 512

func rawMessage(payload []byte) string {
	msg := strings.TrimSpace(string(payload))
	if len(msg) > maxRawMessage {
		msg = msg[:maxRawMessage] + "..."
	}
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}
