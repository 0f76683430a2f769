package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hesham156/sys/pkg/models"
)

func postTask(t *testing.T, ts *httptest.Server, body string) (models.Task, string) {
	t.Helper()
	resp, b := do(t, ts, http.MethodPost, "/tasks", "ivy", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /tasks: %d %s", resp.StatusCode, b)
	}
	var task models.Task
	if err := json.Unmarshal(b, &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return task, resp.Header.Get("ETag")
}

func TestHandlers_authentication(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, ServerOptions{})
	for _, uid := range []string{"", "nobody", "old"} {
		resp, body := do(t, ts, http.MethodGet, "/tasks", uid, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("uid %q: status=%d body=%s", uid, resp.StatusCode, body)
		}
	}
}

func TestHandlers_transitions(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, ServerOptions{})
	task, _ := postTask(t, ts, `{"title":"Flyer","clientName":"Acme","priority":"high","dueDate":"2026-11-01T12:00:00Z"}`)
	path := "/tasks/" + task.ID + "/transitions"

	resp, body := do(t, ts, http.MethodPost, path, "dan", `{"status":"review"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("design from new: %d %s", resp.StatusCode, body)
	}
	resp, body = do(t, ts, http.MethodPost, path, "ivy", `{"status":"design","comment":"go"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("intake new->design: %d %s", resp.StatusCode, body)
	}
	var moved models.Task
	_ = json.Unmarshal(body, &moved)
	if moved.Status != models.StatusDesign || len(moved.History) != 2 {
		t.Fatalf("moved task: %+v", moved)
	}
	resp, _ = do(t, ts, http.MethodPost, path, "max", `{"status":"shipped"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown status: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPost, "/tasks/missing/transitions", "max", `{"status":"design"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPost, path, "max", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json: %d", resp.StatusCode)
	}

	resp, body = do(t, ts, http.MethodGet, "/tasks/"+task.ID+"/history?order=timestamp", "pat", "")
	var hist []models.HistoryEntry
	if err := json.Unmarshal(body, &hist); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %v", resp.StatusCode, err)
	}
	if len(hist) != 2 || hist[1].Comment == nil || *hist[1].Comment != "go" {
		t.Fatalf("history entries: %+v", hist)
	}
	if resp, _ := do(t, ts, http.MethodGet, "/tasks/"+task.ID+"/history?order=sideways", "pat", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad order: %d", resp.StatusCode)
	}

	// The designer got a notification for their new task and one for the move.
	resp, body = do(t, ts, http.MethodGet, "/notifications/unread-count", "dan", "")
	var uc models.UnreadCount
	_ = json.Unmarshal(body, &uc)
	if resp.StatusCode != http.StatusOK || uc.Unread != 2 || uc.RecipientID != "dan" {
		t.Fatalf("unread-count: %d %+v", resp.StatusCode, uc)
	}
}

func TestHandlers_updateWithIfMatch(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, ServerOptions{})
	task, tag := postTask(t, ts, `{"title":"Card"}`)
	if tag == "" {
		t.Fatal("expected ETag on create")
	}
	path := "/tasks/" + task.ID

	resp, body := do(t, ts, http.MethodPatch, path, "dan", `{"description":"matte"}`, "If-Match", tag)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH with fresh tag: %d %s", resp.StatusCode, body)
	}
	newTag := resp.Header.Get("ETag")
	if newTag == tag {
		t.Fatal("ETag should change after update")
	}
	resp, _ = do(t, ts, http.MethodPatch, path, "dan", `{"description":"gloss"}`, "If-Match", tag)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("PATCH with stale tag: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPatch, path, "dan", `{"description":"gloss"}`, "If-Match", `"yesterday"`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PATCH with garbage tag: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodPatch, path, "dan", `{"description":"gloss"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH without tag: %d", resp.StatusCode)
	}

	resp, body = do(t, ts, http.MethodGet, path, "pat", "")
	var got models.Task
	_ = json.Unmarshal(body, &got)
	if resp.StatusCode != http.StatusOK || got.Description != "gloss" {
		t.Fatalf("GET after update: %d %+v", resp.StatusCode, got)
	}
}

func TestHandlers_commentsAndDelete(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, ServerOptions{})
	task, _ := postTask(t, ts, `{"title":"Banner"}`)
	path := "/tasks/" + task.ID

	resp, body := do(t, ts, http.MethodPost, path+"/comments", "ivy", `{"text":"needs bleed"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("comment: %d %s", resp.StatusCode, body)
	}
	// Design cannot see a task that is still new.
	if resp, _ := do(t, ts, http.MethodPost, path+"/comments", "dan", `{"text":"mine?"}`); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("design comment on new task: %d", resp.StatusCode)
	}
	if resp, _ := do(t, ts, http.MethodPost, path+"/comments", "ivy", `{"text":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty comment: %d", resp.StatusCode)
	}

	if resp, _ := do(t, ts, http.MethodDelete, path, "dan", ""); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("design delete: %d", resp.StatusCode)
	}
	if resp, _ := do(t, ts, http.MethodDelete, path, "max", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("management delete: %d", resp.StatusCode)
	}
	if resp, _ := do(t, ts, http.MethodGet, path, "max", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET deleted: %d", resp.StatusCode)
	}
}

func TestHandlers_notificationsRead(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, ServerOptions{})
	for i := 0; i < 3; i++ {
		postTask(t, ts, fmt.Sprintf(`{"title":"Job %d"}`, i))
	}
	resp, body := do(t, ts, http.MethodGet, "/notifications?limit=2", "dan", "")
	var ns []models.Notification
	if err := json.Unmarshal(body, &ns); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %v", resp.StatusCode, err)
	}
	if len(ns) != 2 {
		t.Fatalf("limit ignored: %d", len(ns))
	}
	if resp, _ := do(t, ts, http.MethodGet, "/notifications?limit=-1", "dan", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative limit: %d", resp.StatusCode)
	}

	readPath := "/notifications/" + ns[0].ID + "/read"
	if resp, _ := do(t, ts, http.MethodPost, readPath, "max", ""); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("read someone else's: %d", resp.StatusCode)
	}
	for i := 0; i < 2; i++ {
		resp, body := do(t, ts, http.MethodPost, readPath, "dan", "")
		var n models.Notification
		_ = json.Unmarshal(body, &n)
		if resp.StatusCode != http.StatusOK || !n.Read {
			t.Fatalf("mark read #%d: %d %+v", i, resp.StatusCode, n)
		}
	}
	if resp, _ := do(t, ts, http.MethodPost, "/notifications/nope/read", "dan", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing notification: %d", resp.StatusCode)
	}

	resp, body = do(t, ts, http.MethodPost, "/notifications/read-all", "dan", "")
	var out struct {
		Marked int `json:"marked"`
	}
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode != http.StatusOK || out.Marked != 2 {
		t.Fatalf("read-all: %d %+v", resp.StatusCode, out)
	}
}

func TestHandlers_users(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, ServerOptions{})
	if resp, _ := do(t, ts, http.MethodPost, "/users", "ivy", `{"uid":"nia","role":"design"}`); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("intake registering: %d", resp.StatusCode)
	}
	resp, body := do(t, ts, http.MethodPost, "/users", "max", `{"uid":"nia","role":"design","displayName":"Nia"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %s", resp.StatusCode, body)
	}
	var u models.User
	_ = json.Unmarshal(body, &u)
	if !u.Active {
		t.Fatal("registered users default to active")
	}
	resp, body = do(t, ts, http.MethodGet, "/users", "nia", "")
	var users []models.User
	if err := json.Unmarshal(body, &users); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list users: %d %v", resp.StatusCode, err)
	}
	if len(users) != len(testUsers)+1 {
		t.Fatalf("expected %d users, got %d", len(testUsers)+1, len(users))
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrUnauthenticated), http.StatusUnauthorized},
		{fmt.Errorf("x: %w", models.ErrPermissionDenied), http.StatusForbidden},
		{fmt.Errorf("x: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", models.ErrInvalid), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrConflict), http.StatusConflict},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
