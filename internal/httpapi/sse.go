package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hesham156/sys/internal/otel"
	"github.com/hesham156/sys/pkg/models"
)

// keepaliveInterval is how often an idle stream gets a comment line.
var keepaliveInterval = 30 * time.Second

// sseConn holds the latest unsent task and inbox views of one stream. A slow client only
// ever misses intermediate views, never the latest one.
type sseConn struct {
	mu      sync.Mutex
	tasks   []byte
	inbox   []byte
	pending chan struct{}
}

func newSSEConn() *sseConn {
	return &sseConn{pending: make(chan struct{}, 1)}
}

func (c *sseConn) set(slot *[]byte, ev models.StreamEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.mu.Lock()
	*slot = b
	c.mu.Unlock()
	select {
	case c.pending <- struct{}{}:
	default:
	}
}

func (c *sseConn) onTasks(ts []models.Task) {
	c.set(&c.tasks, models.StreamEvent{Type: "tasks", Tasks: ts})
}

func (c *sseConn) onInbox(ns []models.Notification, unread int) {
	c.set(&c.inbox, models.StreamEvent{Type: "notifications", Notifications: ns, Unread: &unread})
}

// take returns the queued events, tasks first, and clears them.
func (c *sseConn) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	if c.tasks != nil {
		out = append(out, c.tasks)
		c.tasks = nil
	}
	if c.inbox != nil {
		out = append(out, c.inbox)
		c.inbox = nil
	}
	return out
}

func writeEvent(ctx context.Context, w http.ResponseWriter, f http.Flusher, msg []byte) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
	f.Flush()
	otel.RecordSSEEvent(ctx)
}

// stream serves GET /stream: the actor's role-scoped task view and their inbox, pushed
// as server-sent events whenever either changes.
func (a *api) stream(w http.ResponseWriter, r *http.Request, actor models.User) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := newSSEConn()
	taskSub, err := a.svc.SubscribeTasks(actor, conn.onTasks)
	if err != nil {
		writeError(w, err)
		return
	}
	defer taskSub.Unsubscribe()
	inboxSub, err := a.svc.SubscribeInbox(actor, conn.onInbox)
	if err != nil {
		writeError(w, err)
		return
	}
	defer inboxSub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	otel.AddSSEConnection()
	defer otel.RemoveSSEConnection()
	a.log.Debug("stream opened", "uid", actor.UID, "role", actor.Role)

	ctx := r.Context()
	// Initial ping so clients know the stream is live.
	writeEvent(ctx, w, flusher, []byte(`{"type":"connected"}`))
	for _, msg := range conn.take() {
		writeEvent(ctx, w, flusher, msg)
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-taskSub.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-conn.pending:
			for _, msg := range conn.take() {
				writeEvent(ctx, w, flusher, msg)
			}
		}
	}
}
