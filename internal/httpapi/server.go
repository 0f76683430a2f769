// Package httpapi is the JSON HTTP surface of printflow. Handlers only decode, resolve the
// actor and call tasks.Service; the workflow rules live there.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hesham156/sys/internal/identity"
	"github.com/hesham156/sys/internal/tasks"
	"github.com/hesham156/sys/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (front-end dev server on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-User-ID, If-Match")
		w.Header().Set("Access-Control-Expose-Headers", "ETag")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr     string
	Dev      bool
	APIKey   string // if set, require X-API-Key header or query api_key
	Service  *tasks.Service
	Resolver *identity.Resolver
	// MetricsHandler serves /metrics (the OTel Prometheus handler). When nil a plain-text
	// task gauge is served instead.
	MetricsHandler http.Handler
	UseOtelHTTP    bool // if true, wrap handler with otelhttp for request metrics
	Log            *slog.Logger
}

// App holds the HTTP server and the service it fronts.
type App struct {
	Server  *http.Server
	Service *tasks.Service
}

type api struct {
	svc      *tasks.Service
	resolver *identity.Resolver
	log      *slog.Logger
}

// NewApp registers every route on a new server.
func NewApp(opts ServerOptions) (*App, error) {
	if opts.Service == nil || opts.Resolver == nil {
		return nil, errors.New("httpapi: service and resolver required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	a := &api{svc: opts.Service, resolver: opts.Resolver, log: opts.Log}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("GET /metrics", a.plainMetrics)
	}

	mux.HandleFunc("GET /tasks", a.authed(a.listTasks))
	mux.HandleFunc("POST /tasks", a.authed(a.createTask))
	mux.HandleFunc("GET /tasks/{id}", a.authed(a.getTask))
	mux.HandleFunc("PATCH /tasks/{id}", a.authed(a.updateTask))
	mux.HandleFunc("DELETE /tasks/{id}", a.authed(a.deleteTask))
	mux.HandleFunc("POST /tasks/{id}/transitions", a.authed(a.transition))
	mux.HandleFunc("POST /tasks/{id}/comments", a.authed(a.addComment))
	mux.HandleFunc("GET /tasks/{id}/history", a.authed(a.history))

	mux.HandleFunc("GET /notifications", a.authed(a.listNotifications))
	mux.HandleFunc("GET /notifications/unread-count", a.authed(a.unreadCount))
	mux.HandleFunc("POST /notifications/{id}/read", a.authed(a.markRead))
	mux.HandleFunc("POST /notifications/read-all", a.authed(a.markAllRead))

	mux.HandleFunc("GET /users", a.authed(a.listUsers))
	mux.HandleFunc("POST /users", a.authed(a.registerUser))

	mux.HandleFunc("GET /stream", a.authed(a.stream))

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(opts.Log, handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "printflow")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /stream responses stay open.
		IdleTimeout: 60 * time.Second,
	}
	srv.RegisterOnShutdown(opts.Service.Close)
	return &App{Server: srv, Service: opts.Service}, nil
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor models.User)

// authed resolves X-User-ID (or ?as=) before calling h.
func (a *api) authed(h actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.resolver.FromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r.WithContext(identity.WithActor(r.Context(), actor)), actor)
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: invalid json", models.ErrInvalid)
	}
	return nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", models.ErrInvalid)
	}
	return n, nil
}

// etag is the task version used with If-Match.
func etag(t *models.Task) string {
	return `"` + t.UpdatedAt.UTC().Format(time.RFC3339Nano) + `"`
}

func parseIfMatch(r *http.Request) (*time.Time, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: If-Match must be a task ETag", models.ErrInvalid)
	}
	return &t, nil
}

func (a *api) listTasks(w http.ResponseWriter, r *http.Request, actor models.User) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := a.svc.List(r.Context(), actor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, list)
}

func (a *api) createTask(w http.ResponseWriter, r *http.Request, actor models.User) {
	var body models.NewTask
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	task, err := a.svc.Create(r.Context(), actor, body)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", etag(task))
	writeJSONStatus(w, http.StatusCreated, task)
}

func (a *api) getTask(w http.ResponseWriter, r *http.Request, actor models.User) {
	task, err := a.svc.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", etag(task))
	writeJSON(w, task)
}

func (a *api) updateTask(w http.ResponseWriter, r *http.Request, actor models.User) {
	ifMatch, err := parseIfMatch(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var patch models.TaskPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	task, err := a.svc.Update(r.Context(), actor, r.PathValue("id"), patch, ifMatch)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", etag(task))
	writeJSON(w, task)
}

func (a *api) deleteTask(w http.ResponseWriter, r *http.Request, actor models.User) {
	if err := a.svc.Delete(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) transition(w http.ResponseWriter, r *http.Request, actor models.User) {
	var body models.TransitionRequest
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	task, err := a.svc.Transition(r.Context(), actor, r.PathValue("id"), body.Status, body.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", etag(task))
	writeJSON(w, task)
}

func (a *api) addComment(w http.ResponseWriter, r *http.Request, actor models.User) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	c, err := a.svc.AddComment(r.Context(), actor, r.PathValue("id"), body.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, c)
}

func (a *api) history(w http.ResponseWriter, r *http.Request, actor models.User) {
	entries, err := a.svc.History(r.Context(), actor, r.PathValue("id"), r.URL.Query().Get("order"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, entries)
}

func (a *api) listNotifications(w http.ResponseWriter, r *http.Request, actor models.User) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ns, err := a.svc.Notifications(r.Context(), actor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ns)
}

func (a *api) unreadCount(w http.ResponseWriter, r *http.Request, actor models.User) {
	n, err := a.svc.UnreadCount(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.UnreadCount{RecipientID: actor.UID, Unread: n})
}

func (a *api) markRead(w http.ResponseWriter, r *http.Request, actor models.User) {
	n, err := a.svc.MarkAsRead(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, n)
}

func (a *api) markAllRead(w http.ResponseWriter, r *http.Request, actor models.User) {
	marked, err := a.svc.MarkAllAsRead(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"marked": marked})
}

func (a *api) listUsers(w http.ResponseWriter, r *http.Request, actor models.User) {
	users, err := a.svc.Users(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, users)
}

func (a *api) registerUser(w http.ResponseWriter, r *http.Request, actor models.User) {
	var body struct {
		UID         string      `json:"uid"`
		Role        models.Role `json:"role"`
		DisplayName string      `json:"displayName"`
		Email       string      `json:"email"`
		Active      *bool       `json:"active"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	u := models.User{UID: body.UID, Role: body.Role, DisplayName: body.DisplayName, Email: body.Email, Active: true}
	if body.Active != nil {
		u.Active = *body.Active
	}
	created, err := a.svc.RegisterUser(r.Context(), actor, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

func (a *api) plainMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := a.svc.Gauges().TaskCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "# TYPE printflow_tasks_total gauge\n")
	for _, s := range models.Statuses {
		_, _ = fmt.Fprintf(w, "printflow_tasks_total{status=%q} %d\n", string(s), counts[s])
	}
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		log.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// statusFor maps the models error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeJSONError(w, code, msg)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
