// Package notify fans status changes out to the users of the role that now owns a task,
// and tracks each recipient's unread notifications.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hesham156/sys/pkg/models"
)

// RecipientRole is the single role notified when a task enters status.
func RecipientRole(status models.Status) models.Role {
	switch status {
	case models.StatusDesign:
		return models.RoleDesign
	case models.StatusReview:
		return models.RoleManagement
	case models.StatusApproved, models.StatusProduction:
		return models.RoleProduction
	case models.StatusRejected:
		return models.RoleIntake
	default:
		return models.RoleManagement
	}
}

// Title is the notification title for task.
func Title(task models.Task) string {
	return "Task Status Updated: " + task.Title
}

// Message describes a move between two statuses by their labels.
func Message(prev, next models.Status) string {
	return fmt.Sprintf("Status changed from %s to %s", prev.Label(), next.Label())
}

// Store is the persistence the dispatcher and counter need. store.Store satisfies it.
type Store interface {
	ListActiveUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	CreateNotification(ctx context.Context, n models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	ListUnreadNotificationIDs(ctx context.Context, recipientID string) ([]string, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Result summarizes one dispatch.
type Result struct {
	Role       models.Role
	Recipients int
	Created    int
	Failed     int
}

// Dispatcher writes one notification per active user of the recipient role.
type Dispatcher struct {
	store       Store
	log         *slog.Logger
	parallelism int
	now         func() time.Time

	mu        sync.RWMutex
	onCreated []func(models.Notification)
	onFailed  []func(models.Notification, error)
}

// NewDispatcher returns a dispatcher writing at most parallelism notifications at once.
// parallelism <= 0 uses models.DefaultNotifyParallelism.
func NewDispatcher(st Store, log *slog.Logger, parallelism int) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if parallelism <= 0 {
		parallelism = models.DefaultNotifyParallelism
	}
	return &Dispatcher{store: st, log: log, parallelism: parallelism, now: time.Now}
}

// OnCreated registers fn to run after each notification is written.
func (d *Dispatcher) OnCreated(fn func(models.Notification)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCreated = append(d.onCreated, fn)
}

// OnFailed registers fn to run after a notification write fails.
func (d *Dispatcher) OnFailed(fn func(models.Notification, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFailed = append(d.onFailed, fn)
}

// Dispatch notifies the users of RecipientRole(next) about task moving from prev to next.
// A failed write is logged and counted; it never stops the other writes and never undoes
// the transition. The returned error is only for failing to resolve the recipients.
func (d *Dispatcher) Dispatch(ctx context.Context, task models.Task, prev, next models.Status) (Result, error) {
	return d.DispatchRole(ctx, RecipientRole(next), task, prev, next)
}

// DispatchRole is Dispatch with an explicit recipient role. New tasks go to design this way.
func (d *Dispatcher) DispatchRole(ctx context.Context, role models.Role, task models.Task, prev, next models.Status) (Result, error) {
	res := Result{Role: role}
	users, err := d.store.ListActiveUsersByRole(ctx, role)
	if err != nil {
		d.log.Warn("notification recipients lookup failed", "task_id", task.ID, "role", role, "err", err)
		return res, fmt.Errorf("list %s users: %w", role, err)
	}
	res.Recipients = len(users)

	title := Title(task)
	message := Message(prev, next)
	createdAt := d.now().UTC().Truncate(time.Millisecond)
	taskID := task.ID

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.parallelism)
	for _, u := range users {
		n := models.Notification{
			ID:          uuid.Must(uuid.NewV7()).String(),
			Title:       title,
			Message:     message,
			RecipientID: u.UID,
			TaskID:      &taskID,
			CreatedAt:   createdAt,
		}
		g.Go(func() error {
			err := d.store.CreateNotification(ctx, n)
			mu.Lock()
			if err != nil {
				res.Failed++
			} else {
				res.Created++
			}
			mu.Unlock()
			if err != nil {
				d.log.Warn("notification write failed", "task_id", task.ID, "recipient_id", n.RecipientID, "err", err)
				d.fire(n, err)
				return nil
			}
			d.fire(n, nil)
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

func (d *Dispatcher) fire(n models.Notification, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err != nil {
		for _, fn := range d.onFailed {
			fn(n, err)
		}
		return
	}
	for _, fn := range d.onCreated {
		fn(n)
	}
}
