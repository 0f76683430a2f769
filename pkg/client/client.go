// Package client provides a Go SDK for the printflow HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hesham156/sys/pkg/models"
)

// Client calls the printflow HTTP API as one user. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3548"
	UserID     string       // sent as X-User-ID
	APIKey     string       // optional; sent as X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client acting as userID. APIKey is optional.
func New(baseURL, userID, apiKey string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), UserID: userID, APIKey: apiKey}
}

// APIError is a non-2xx response. It unwraps to the matching models sentinel, so
// errors.Is(err, models.ErrConflict) works on client errors.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return models.ErrUnauthenticated
	case http.StatusForbidden:
		return models.ErrPermissionDenied
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return models.ErrInvalid
	case http.StatusConflict, http.StatusPreconditionFailed:
		return models.ErrConflict
	}
	return nil
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func checkResponse(method, path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errBody struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: errBody.Error}
}

// doJSON sends body and decodes the response into out. It returns the response ETag.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, header http.Header) (string, error) {
	resp, err := c.do(ctx, method, path, body, header)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkResponse(method, path, resp); err != nil {
		return "", err
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return "", err
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Header.Get("ETag"), nil
}

func withLimit(path string, limit int) string {
	if limit > 0 {
		return path + "?limit=" + strconv.Itoa(limit)
	}
	return path
}

func taskPath(id string, rest ...string) string {
	return "/tasks/" + url.PathEscape(id) + strings.Join(rest, "")
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	_, err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out, nil)
	return out.OK, err
}

// ListTasks returns the tasks visible to the client's user (limit 0 = server default).
func (c *Client) ListTasks(ctx context.Context, limit int) ([]models.Task, error) {
	var out []models.Task
	_, err := c.doJSON(ctx, http.MethodGet, withLimit("/tasks", limit), nil, &out, nil)
	return out, err
}

// CreateTask creates a task in status new.
func (c *Client) CreateTask(ctx context.Context, in models.NewTask) (*models.Task, error) {
	var out models.Task
	_, err := c.doJSON(ctx, http.MethodPost, "/tasks", in, &out, nil)
	return &out, err
}

// GetTask returns a task and its ETag for a later conditional UpdateTask.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, string, error) {
	var out models.Task
	etag, err := c.doJSON(ctx, http.MethodGet, taskPath(id), nil, &out, nil)
	return &out, etag, err
}

// UpdateTask applies patch. A non-empty ifMatch makes the write conditional; a stale
// tag fails with an error wrapping models.ErrConflict.
func (c *Client) UpdateTask(ctx context.Context, id string, patch models.TaskPatch, ifMatch string) (*models.Task, string, error) {
	var header http.Header
	if ifMatch != "" {
		header = http.Header{"If-Match": []string{ifMatch}}
	}
	var out models.Task
	etag, err := c.doJSON(ctx, http.MethodPatch, taskPath(id), patch, &out, header)
	return &out, etag, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, taskPath(id), nil, nil, nil)
	return err
}

// Transition moves a task to status to, recording comment when non-empty.
func (c *Client) Transition(ctx context.Context, id string, to models.Status, comment string) (*models.Task, error) {
	var out models.Task
	_, err := c.doJSON(ctx, http.MethodPost, taskPath(id, "/transitions"), models.TransitionRequest{Status: to, Comment: comment}, &out, nil)
	return &out, err
}

// AddComment appends a comment to a task.
func (c *Client) AddComment(ctx context.Context, id, text string) (*models.Comment, error) {
	var out models.Comment
	_, err := c.doJSON(ctx, http.MethodPost, taskPath(id, "/comments"), map[string]string{"text": text}, &out, nil)
	return &out, err
}

// History returns a task's audit trail; order is "insertion" (default) or "timestamp".
func (c *Client) History(ctx context.Context, id, order string) ([]models.HistoryEntry, error) {
	path := taskPath(id, "/history")
	if order != "" {
		path += "?order=" + url.QueryEscape(order)
	}
	var out []models.HistoryEntry
	_, err := c.doJSON(ctx, http.MethodGet, path, nil, &out, nil)
	return out, err
}

// Notifications returns the user's notifications, newest first.
func (c *Client) Notifications(ctx context.Context, limit int) ([]models.Notification, error) {
	var out []models.Notification
	_, err := c.doJSON(ctx, http.MethodGet, withLimit("/notifications", limit), nil, &out, nil)
	return out, err
}

// UnreadCount returns how many of the user's notifications are unread.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out models.UnreadCount
	_, err := c.doJSON(ctx, http.MethodGet, "/notifications/unread-count", nil, &out, nil)
	return out.Unread, err
}

// MarkAsRead marks one of the user's notifications read.
func (c *Client) MarkAsRead(ctx context.Context, id string) (*models.Notification, error) {
	var out models.Notification
	_, err := c.doJSON(ctx, http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read", nil, &out, nil)
	return &out, err
}

// MarkAllAsRead marks every unread notification read and returns how many changed.
func (c *Client) MarkAllAsRead(ctx context.Context) (int, error) {
	var out struct {
		Marked int `json:"marked"`
	}
	_, err := c.doJSON(ctx, http.MethodPost, "/notifications/read-all", nil, &out, nil)
	return out.Marked, err
}

// ListUsers returns every known user.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	_, err := c.doJSON(ctx, http.MethodGet, "/users", nil, &out, nil)
	return out, err
}

// RegisterUser creates or replaces a user (management only).
func (c *Client) RegisterUser(ctx context.Context, u models.User) (*models.User, error) {
	var out models.User
	_, err := c.doJSON(ctx, http.MethodPost, "/users", u, &out, nil)
	return &out, err
}

// Stream follows /stream and calls fn for every event until ctx is done, the server
// closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(models.StreamEvent) error) error {
	resp, err := c.do(ctx, http.MethodGet, "/stream", nil, http.Header{"Accept": []string{"text/event-stream"}})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkResponse(http.MethodGet, "/stream", resp); err != nil {
		return err
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), models.DefaultMaxRequestBodyBytes*8)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}
