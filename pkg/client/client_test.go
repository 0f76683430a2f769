package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hesham156/sys/internal/httpapi"
	"github.com/hesham156/sys/internal/identity"
	"github.com/hesham156/sys/internal/store"
	"github.com/hesham156/sys/internal/tasks"
	"github.com/hesham156/sys/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:3548/", "ivy", "")
	if c.BaseURL != "http://localhost:3548" || c.UserID != "ivy" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://localhost:3548", "ivy", "secret")
	if c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL, "", "").Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok true")
	}
}

func TestHealth_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", "").Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "down" {
		t.Fatalf("expected APIError from 503, got %v", err)
	}
}

func TestClient_setsHeaders(t *testing.T) {
	var gotKey, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotUser = r.Header.Get("X-User-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	_, _ = New(srv.URL, "dan", "mykey").Health(context.Background())
	if gotKey != "mykey" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
	if gotUser != "dan" {
		t.Errorf("X-User-ID: got %q", gotUser)
	}
}

func TestAPIError_unwrap(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, models.ErrUnauthenticated},
		{http.StatusForbidden, models.ErrPermissionDenied},
		{http.StatusNotFound, models.ErrNotFound},
		{http.StatusBadRequest, models.ErrInvalid},
		{http.StatusConflict, models.ErrConflict},
	}
	for _, c := range cases {
		err := error(&APIError{StatusCode: c.code})
		if !errors.Is(err, c.want) {
			t.Errorf("status %d should unwrap to %v", c.code, c.want)
		}
	}
	if errors.Unwrap(&APIError{StatusCode: http.StatusInternalServerError}) != nil {
		t.Error("500 should not map to a sentinel")
	}
}

// newServer runs the real API over a fresh SQLite store.
func newServer(t *testing.T) string {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	for _, u := range []models.User{
		{UID: "ivy", Role: models.RoleIntake, Active: true},
		{UID: "dan", Role: models.RoleDesign, Active: true},
		{UID: "max", Role: models.RoleManagement, Active: true},
	} {
		if err := st.UpsertUser(context.Background(), u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}
	svc, err := tasks.New(tasks.Options{Store: st})
	if err != nil {
		t.Fatalf("tasks.New: %v", err)
	}
	t.Cleanup(svc.Close)
	app, err := httpapi.NewApp(httpapi.ServerOptions{Addr: "127.0.0.1:0", Service: svc, Resolver: identity.NewResolver(st)})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ts := httptest.NewServer(app.Server.Handler)
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestClient_againstServer(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)
	ivy := New(url, "ivy", "")
	dan := New(url, "dan", "")
	max := New(url, "max", "")

	task, err := ivy.CreateTask(ctx, models.NewTask{Title: "Banner", ClientName: "Acme"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != models.StatusNew || task.Priority != models.PriorityMedium {
		t.Fatalf("created: %+v", task)
	}

	_, etag, err := ivy.GetTask(ctx, task.ID)
	if err != nil || etag == "" {
		t.Fatalf("GetTask: etag=%q err=%v", etag, err)
	}
	title := "Banner 2x1m"
	if _, _, err := ivy.UpdateTask(ctx, task.ID, models.TaskPatch{Title: &title}, etag); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if _, _, err := ivy.UpdateTask(ctx, task.ID, models.TaskPatch{Title: &title}, etag); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("stale If-Match should conflict, got %v", err)
	}

	if _, err := dan.Transition(ctx, task.ID, models.StatusReview, ""); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("design moving a new task: %v", err)
	}
	if _, err := ivy.Transition(ctx, task.ID, models.StatusDesign, "go"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := dan.AddComment(ctx, task.ID, "on it"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	hist, err := max.History(ctx, task.ID, "timestamp")
	if err != nil || len(hist) != 4 {
		t.Fatalf("History: %d entries, err=%v", len(hist), err)
	}

	n, err := dan.UnreadCount(ctx)
	if err != nil || n != 2 {
		t.Fatalf("UnreadCount: %d %v", n, err)
	}
	inbox, err := dan.Notifications(ctx, 0)
	if err != nil || len(inbox) != 2 {
		t.Fatalf("Notifications: %d %v", len(inbox), err)
	}
	if _, err := ivy.MarkAsRead(ctx, inbox[0].ID); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("reading someone else's notification: %v", err)
	}
	if _, err := dan.MarkAsRead(ctx, inbox[0].ID); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if marked, err := dan.MarkAllAsRead(ctx); err != nil || marked != 1 {
		t.Fatalf("MarkAllAsRead: %d %v", marked, err)
	}

	if _, err := max.RegisterUser(ctx, models.User{UID: "pat", Role: models.RoleProduction, Active: true}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	users, err := ivy.ListUsers(ctx)
	if err != nil || len(users) != 4 {
		t.Fatalf("ListUsers: %d %v", len(users), err)
	}

	if err := ivy.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, _, err := max.GetTask(ctx, task.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("deleted task: %v", err)
	}
}

func TestClient_stream(t *testing.T) {
	url := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errStop := errors.New("stop")
	var types []string
	err := New(url, "dan", "").Stream(ctx, func(ev models.StreamEvent) error {
		types = append(types, ev.Type)
		if len(types) == 3 {
			return errStop
		}
		return nil
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("Stream: %v", err)
	}
	if types[0] != "connected" {
		t.Fatalf("first event should be connected: %v", types)
	}

	if err := New(url, "", "").Stream(ctx, func(models.StreamEvent) error { return nil }); !errors.Is(err, models.ErrUnauthenticated) {
		t.Fatalf("anonymous stream: %v", err)
	}
}
