// Package live keeps role-filtered task views and per-recipient inboxes current for
// connected subscribers.
//
// Every subscription owns one delivery goroutine. Publishing a change only marks the
// affected subscriptions dirty; the goroutine then re-reads the view from the Source and
// delivers it if it differs from the last one delivered. A view is therefore at most one
// delivery behind the store, and deliveries to one subscriber happen in commit order.
//
// Task views hold every matching task. Inbox views hold the newest
// models.DefaultNotificationListLimit notifications; the unread count covers all of them.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/hesham156/sys/internal/store"
	"github.com/hesham156/sys/pkg/models"
)

// Source is the read side the router needs. store.Store satisfies it.
type Source interface {
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]models.Task, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("live: router closed")

// Change describes one committed task mutation. Before is nil for a create, After is nil
// for a delete; an update that keeps the status has Before == After.
type Change struct {
	TaskID string
	Before *models.Status
	After  *models.Status
}

type kind int

// unsent never equals a fingerprint, so the first view is always delivered.
const unsent = "\x00"

const (
	kindTasks kind = iota
	kindInbox
)

// Router is the subscription registry.
type Router struct {
	src    Source
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription is a registered live query. Call Unsubscribe to stop it.
type Subscription struct {
	id        uint64
	r         *Router
	kind      kind
	filter    Filter
	recipient string
	onTasks   func([]models.Task)
	onInbox   func([]models.Notification, int)

	dirty    chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// deliverMu is held for the whole of a callback; Unsubscribe takes it to wait out
	// a delivery already in progress.
	deliverMu sync.Mutex
	stopped   bool
	last      string
}

// NewRouter returns a router reading from src. A nil logger uses slog.Default.
func NewRouter(src Source, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{src: src, log: log, ctx: ctx, cancel: cancel, subs: map[uint64]*Subscription{}}
}

// SubscribeTasks registers a live task view. onChange is called with the current matches
// (createdAt descending) before SubscribeTasks returns, and again after each commit that
// changes the view.
func (r *Router) SubscribeTasks(filter Filter, onChange func([]models.Task)) (*Subscription, error) {
	if onChange == nil {
		return nil, fmt.Errorf("%w: nil callback", models.ErrInvalid)
	}
	return r.subscribe(&Subscription{kind: kindTasks, filter: filter, onTasks: onChange})
}

// SubscribeInbox registers a live notification view for recipientID. onChange receives the
// recipient's notifications (createdAt descending) and the current unread count.
func (r *Router) SubscribeInbox(recipientID string, onChange func([]models.Notification, int)) (*Subscription, error) {
	if onChange == nil {
		return nil, fmt.Errorf("%w: nil callback", models.ErrInvalid)
	}
	if recipientID == "" {
		return nil, fmt.Errorf("%w: recipient required", models.ErrInvalid)
	}
	return r.subscribe(&Subscription{kind: kindInbox, recipient: recipientID, onInbox: onChange})
}

func (r *Router) subscribe(s *Subscription) (*Subscription, error) {
	s.r = r
	s.dirty = make(chan struct{}, 1)
	s.done = make(chan struct{})
	s.last = unsent

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.nextID++
	s.id = r.nextID
	// Registered before the first read so a commit racing the initial view still
	// leaves the subscription dirty.
	r.subs[s.id] = s
	r.mu.Unlock()

	if err := r.deliver(s); err != nil {
		s.Unsubscribe()
		return nil, err
	}
	go r.run(s)
	return s, nil
}

func (r *Router) run(s *Subscription) {
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
			if err := r.deliver(s); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("live view refresh failed", "subscription", s.id, "err", err)
			}
		}
	}
}

func (r *Router) deliver(s *Subscription) error {
	switch s.kind {
	case kindTasks:
		var tasks []models.Task
		if !s.filter.Empty() {
			var err error
			tasks, err = r.src.ListTasks(r.ctx, store.TaskFilter{Statuses: s.filter.Statuses(), Limit: store.Unlimited})
			if err != nil {
				return err
			}
		}
		s.emit(taskFingerprint(tasks), func() { s.onTasks(tasks) })
	case kindInbox:
		notes, err := r.src.ListNotifications(r.ctx, s.recipient, models.DefaultNotificationListLimit)
		if err != nil {
			return err
		}
		unread, err := r.src.CountUnread(r.ctx, s.recipient)
		if err != nil {
			return err
		}
		s.emit(inboxFingerprint(notes, unread), func() { s.onInbox(notes, unread) })
	}
	return nil
}

func (s *Subscription) emit(fp string, call func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.stopped || fp == s.last {
		return
	}
	s.last = fp
	call()
}

func (s *Subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// PublishTask wakes every task view whose filter matched the task before or after the change.
func (r *Router) PublishTask(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.kind != kindTasks {
			continue
		}
		if (c.Before != nil && s.filter.Match(*c.Before)) || (c.After != nil && s.filter.Match(*c.After)) {
			s.markDirty()
		}
	}
}

// PublishInbox wakes the inbox views of recipientID.
func (r *Router) PublishInbox(recipientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.kind == kindInbox && s.recipient == recipientID {
			s.markDirty()
		}
	}
}

// Count returns the number of live subscriptions.
func (r *Router) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close stops every subscription and rejects new ones.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()
	r.cancel()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Unsubscribe stops the subscription. After it returns the callback is never invoked
// again, even for a commit already in flight. It must not be called from inside the
// subscription's own callback.
func (s *Subscription) Unsubscribe() {
	s.r.mu.Lock()
	delete(s.r.subs, s.id)
	s.r.mu.Unlock()

	s.deliverMu.Lock()
	s.stopped = true
	s.deliverMu.Unlock()
	s.stopOnce.Do(func() { close(s.done) })
}

// Done is closed once the subscription has been stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func taskFingerprint(tasks []models.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString(t.ID)
		b.WriteByte(':')
		b.WriteString(string(t.Status))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(t.UpdatedAt.UnixMilli(), 10))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(t.History)))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(t.Comments)))
		b.WriteByte(';')
	}
	return b.String()
}

func inboxFingerprint(notes []models.Notification, unread int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(unread))
	b.WriteByte('|')
	for _, n := range notes {
		b.WriteString(n.ID)
		if n.Read {
			b.WriteString(":r")
		}
		b.WriteByte(';')
	}
	return b.String()
}
