// Package tasks is the printflow core: every task and notification operation goes through
// Service, which validates, commits, records history, notifies and publishes in that order.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hesham156/sys/internal/audit"
	"github.com/hesham156/sys/internal/capabilities"
	"github.com/hesham156/sys/internal/events"
	"github.com/hesham156/sys/internal/live"
	"github.com/hesham156/sys/internal/notify"
	"github.com/hesham156/sys/internal/otel"
	"github.com/hesham156/sys/internal/store"
	"github.com/hesham156/sys/internal/workflow"
	"github.com/hesham156/sys/pkg/models"
)

// staleRetries bounds how often a write is re-read and restamped after a concurrent
// writer moved updatedAt past the snapshot it was stamped from.
const staleRetries = 3

// Options configures a Service. Only Store is required.
type Options struct {
	Store  store.Store
	Engine *workflow.Engine
	Clock  *audit.Clock
	Events events.Publisher
	Alerts *capabilities.Registry
	Log    *slog.Logger
	// Parallelism bounds concurrent notification writes per dispatch.
	Parallelism int
}

// Service is safe for concurrent use.
type Service struct {
	store      store.Store
	engine     *workflow.Engine
	clock      *audit.Clock
	events     events.Publisher
	alerts     *capabilities.Registry
	log        *slog.Logger
	dispatcher *notify.Dispatcher
	counter    *notify.Counter
	router     *live.Router
}

// New builds a service over opts.Store.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("tasks: store required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = audit.NewClock()
	}
	if opts.Engine == nil {
		e, err := workflow.New(workflow.DefaultTable(), opts.Clock)
		if err != nil {
			return nil, err
		}
		opts.Engine = e
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Alerts == nil {
		opts.Alerts = capabilities.NewRegistry()
	}
	s := &Service{
		store:      opts.Store,
		engine:     opts.Engine,
		clock:      opts.Clock,
		events:     opts.Events,
		alerts:     opts.Alerts,
		log:        opts.Log,
		dispatcher: notify.NewDispatcher(opts.Store, opts.Log, opts.Parallelism),
		counter:    notify.NewCounter(opts.Store),
		router:     live.NewRouter(opts.Store, opts.Log),
	}
	s.dispatcher.OnCreated(func(n models.Notification) { s.router.PublishInbox(n.RecipientID) })
	s.dispatcher.OnFailed(func(models.Notification, error) {
		otel.RecordNotification(context.Background(), "failed", 1)
	})
	return s, nil
}

// Close stops every live subscription. The store and publisher belong to the caller.
func (s *Service) Close() {
	s.router.Close()
}

// Router exposes the subscription registry, mainly for its Count.
func (s *Service) Router() *live.Router { return s.router }

// Gauges returns the observable values for otel.RegisterGauges.
func (s *Service) Gauges() otel.Gauges {
	return otel.Gauges{
		Subscriptions: func() int64 { return int64(s.router.Count()) },
		TaskCounts:    s.store.CountTasksByStatus,
	}
}

func authenticated(actor models.User) error {
	if strings.TrimSpace(actor.UID) == "" {
		return fmt.Errorf("%w: no actor", models.ErrUnauthenticated)
	}
	if !actor.Role.Valid() {
		return fmt.Errorf("%w: role %q", models.ErrPermissionDenied, actor.Role)
	}
	return nil
}

func requireRole(actor models.User, op string, roles ...models.Role) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s may not %s", models.ErrPermissionDenied, actor.Role, op)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", "type", e.Type, "task_id", e.TaskID, "err", err)
	}
}

func statusPtr(st models.Status) *models.Status { return &st }

// Create stores a new task in status new, performed by an intake or management actor,
// and notifies every active design user.
func (s *Service) Create(ctx context.Context, actor models.User, in models.NewTask) (*models.Task, error) {
	if err := requireRole(actor, "create tasks", models.RoleIntake, models.RoleManagement); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title required", models.ErrInvalid)
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", models.ErrInvalid, priority)
	}

	now := s.clock.Now()
	task := models.Task{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Title:       title,
		Description: in.Description,
		ClientName:  in.ClientName,
		Priority:    priority,
		Status:      models.StatusNew,
		CreatedBy:   actor.UID,
		CreatedAt:   now,
		UpdatedAt:   now,
		DueDate:     in.DueDate.UTC().Truncate(audit.Resolution),
		Attachments: in.Attachments,
		History:     []models.HistoryEntry{audit.Created(actor.UID, now)},
	}
	if in.AssignedTo != nil && *in.AssignedTo != "" {
		assigned := *in.AssignedTo
		task.AssignedTo = &assigned
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	otel.RecordTaskOp(ctx, "create")
	s.log.Info("task created", "task_id", task.ID, "by", actor.UID)

	s.router.PublishTask(live.Change{TaskID: task.ID, After: statusPtr(models.StatusNew)})
	s.notify(ctx, models.RoleDesign, task, models.StatusNew, models.StatusNew)
	s.publish(ctx, events.Event{
		Type: events.TypeCreated, TaskID: task.ID, ToStatus: statusPtr(models.StatusNew),
		PerformedBy: actor.UID, Timestamp: now,
	})
	return &task, nil
}

func (s *Service) notify(ctx context.Context, role models.Role, task models.Task, prev, next models.Status) notify.Result {
	res, err := s.dispatcher.DispatchRole(ctx, role, task, prev, next)
	if err != nil {
		// Logged by the dispatcher; the commit stands.
		return res
	}
	otel.RecordNotification(ctx, "created", res.Created)
	return res
}

// Get returns one task. Any authenticated actor may read it.
func (s *Service) Get(ctx context.Context, actor models.User, id string) (*models.Task, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	return s.store.GetTask(ctx, id)
}

// List returns the tasks visible to the actor's role, createdAt descending.
func (s *Service) List(ctx context.Context, actor models.User, limit int) ([]models.Task, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	f := live.RoleFilter(actor.Role)
	if f.Empty() {
		return []models.Task{}, nil
	}
	if limit < 0 {
		limit = 0
	}
	return s.store.ListTasks(ctx, store.TaskFilter{Statuses: f.Statuses(), Limit: limit})
}

func validatePatch(p models.TaskPatch) error {
	if p.Empty() {
		return fmt.Errorf("%w: nothing to update", models.ErrInvalid)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", models.ErrInvalid)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", models.ErrInvalid, *p.Priority)
	}
	return nil
}

// Update merges patch into the task and stamps updatedAt. When ifUpdatedAt is set the
// write only happens if the stored updatedAt still equals it, otherwise models.ErrConflict.
func (s *Service) Update(ctx context.Context, actor models.User, id string, patch models.TaskPatch, ifUpdatedAt *time.Time) (*models.Task, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
	}
	if patch.DueDate != nil {
		due := patch.DueDate.UTC().Truncate(audit.Resolution)
		patch.DueDate = &due
	}
	var (
		current *models.Task
		now     time.Time
	)
	for attempt := 0; ; attempt++ {
		var err error
		current, err = s.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		now = s.clock.Now(current.UpdatedAt)
		err = s.store.UpdateTask(ctx, id, patch, now, ifUpdatedAt)
		if err == nil {
			break
		}
		// With a caller precondition a conflict is the answer; without one, restamp and retry.
		if !errors.Is(err, models.ErrConflict) || ifUpdatedAt != nil || attempt+1 >= staleRetries {
			return nil, err
		}
	}
	otel.RecordTaskOp(ctx, "update")

	updated, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	s.router.PublishTask(live.Change{TaskID: id, Before: statusPtr(current.Status), After: statusPtr(updated.Status)})
	s.publish(ctx, events.Event{Type: events.TypeUpdated, TaskID: id, PerformedBy: actor.UID, Timestamp: now})
	return updated, nil
}

// Delete removes a task with its comments and history. Only intake and management may.
func (s *Service) Delete(ctx context.Context, actor models.User, id string) error {
	if err := requireRole(actor, "delete tasks", models.RoleIntake, models.RoleManagement); err != nil {
		return err
	}
	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	otel.RecordTaskOp(ctx, "delete")
	s.log.Info("task deleted", "task_id", id, "by", actor.UID)
	s.router.PublishTask(live.Change{TaskID: id, Before: statusPtr(current.Status)})
	s.publish(ctx, events.Event{
		Type: events.TypeDeleted, TaskID: id, FromStatus: statusPtr(current.Status),
		PerformedBy: actor.UID, Timestamp: s.clock.Now(),
	})
	return nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		return otel.OutcomeDenied
	case errors.Is(err, models.ErrConflict):
		return otel.OutcomeConflict
	default:
		return otel.OutcomeInvalid
	}
}

// Transition moves a task to status to. The move is validated against the workflow table
// before anything is written, and commits only if the stored status is still the one that
// was validated. A commit that lost only to a newer updatedAt is re-read and restamped.
// Notification failures are logged and never undo the commit.
func (s *Service) Transition(ctx context.Context, actor models.User, id string, to models.Status, comment string) (*models.Task, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	var (
		from  models.Status
		next  models.Task
		entry models.HistoryEntry
	)
	for attempt := 0; ; attempt++ {
		current, err := s.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if attempt > 0 && current.Status != from {
			// Another transition won; the move validated earlier no longer applies.
			otel.RecordTransition(ctx, actor.Role, from, to, otel.OutcomeConflict)
			return nil, fmt.Errorf("task %s: status changed to %s: %w", id, current.Status, models.ErrConflict)
		}
		from = current.Status
		next, entry, err = s.engine.AttemptTransition(actor, *current, to, comment)
		if err != nil {
			otel.RecordTransition(ctx, actor.Role, from, to, outcomeOf(err))
			return nil, err
		}
		err = s.store.CommitTransition(ctx, id, from, entry)
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrConflict) || attempt+1 >= staleRetries {
			if errors.Is(err, models.ErrConflict) {
				otel.RecordTransition(ctx, actor.Role, from, to, otel.OutcomeConflict)
			}
			return nil, err
		}
	}
	otel.RecordTransition(ctx, actor.Role, from, to, otel.OutcomeAccepted)
	s.log.Info("task transition", "task_id", id, "from", from, "to", to, "by", actor.UID)

	s.router.PublishTask(live.Change{TaskID: id, Before: statusPtr(from), After: statusPtr(to)})
	res := s.notify(ctx, notify.RecipientRole(to), next, from, to)
	s.publish(ctx, events.Event{
		Type: events.TypeTransition, TaskID: id, FromStatus: statusPtr(from), ToStatus: statusPtr(to),
		PerformedBy: actor.UID, Timestamp: entry.Timestamp,
	})
	if len(s.alerts.Names()) > 0 {
		if err := s.alerts.Broadcast(ctx, capabilities.TransitionSummary(next, from, to, actor.UID, res.Created)); err != nil {
			s.log.Warn("transition alert failed", "task_id", id, "err", err)
		}
	}
	return &next, nil
}

// NextStatuses lists the statuses actor may move task to from its current status.
func (s *Service) NextStatuses(actor models.User, task models.Task) []models.Status {
	return s.engine.Targets(actor.Role, task.Status)
}

// AddComment appends a comment and its "Comment added" history entry. The actor's role
// must be able to see the task in its current status, unless the actor is management.
func (s *Service) AddComment(ctx context.Context, actor models.User, id, text string) (*models.Comment, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: comment text required", models.ErrInvalid)
	}
	var (
		current *models.Task
		c       models.Comment
		now     time.Time
	)
	for attempt := 0; ; attempt++ {
		var err error
		current, err = s.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if actor.Role != models.RoleManagement && !live.RoleFilter(actor.Role).Match(current.Status) {
			return nil, fmt.Errorf("%w: role %s cannot see tasks in status %s", models.ErrPermissionDenied, actor.Role, current.Status)
		}
		after := []time.Time{current.UpdatedAt}
		if last, ok := audit.Last(current.History); ok {
			after = append(after, last.Timestamp)
		}
		now = s.clock.Now(after...)
		c = models.Comment{ID: uuid.Must(uuid.NewV7()).String(), Text: text, CreatedBy: actor.UID, CreatedAt: now}
		err = s.store.AddComment(ctx, id, c, audit.CommentAdded(actor.UID, text, now))
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrConflict) || attempt+1 >= staleRetries {
			return nil, err
		}
	}
	otel.RecordTaskOp(ctx, "comment")
	s.router.PublishTask(live.Change{TaskID: id, Before: statusPtr(current.Status), After: statusPtr(current.Status)})
	s.publish(ctx, events.Event{Type: events.TypeComment, TaskID: id, PerformedBy: actor.UID, Timestamp: now})
	return &c, nil
}

// History orders accepted by History.
const (
	OrderInsertion = "insertion"
	OrderTimestamp = "timestamp"
)

// History returns a task's history in insertion order (the default) or timestamp order.
func (s *Service) History(ctx context.Context, actor models.User, id, order string) ([]models.HistoryEntry, error) {
	task, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch order {
	case "", OrderInsertion:
		return audit.InsertionOrder(task.History), nil
	case OrderTimestamp:
		return audit.TimestampOrder(task.History), nil
	default:
		return nil, fmt.Errorf("%w: unknown history order %q", models.ErrInvalid, order)
	}
}

// SubscribeTasks registers a live view of the tasks the actor's role can see.
func (s *Service) SubscribeTasks(actor models.User, onChange func([]models.Task)) (*live.Subscription, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	return s.router.SubscribeTasks(live.RoleFilter(actor.Role), onChange)
}

// SubscribeInbox registers a live view of the actor's notifications and unread count.
func (s *Service) SubscribeInbox(actor models.User, onChange func([]models.Notification, int)) (*live.Subscription, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	return s.router.SubscribeInbox(actor.UID, onChange)
}

// Notifications lists the actor's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, actor models.User, limit int) ([]models.Notification, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	return s.store.ListNotifications(ctx, actor.UID, limit)
}

// UnreadCount is the actor's unread notification count.
func (s *Service) UnreadCount(ctx context.Context, actor models.User) (int, error) {
	if err := authenticated(actor); err != nil {
		return 0, err
	}
	return s.counter.UnreadCount(ctx, actor.UID)
}

// MarkAsRead marks one of the actor's notifications read. Repeating it is a no-op.
func (s *Service) MarkAsRead(ctx context.Context, actor models.User, id string) (*models.Notification, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != actor.UID {
		return nil, fmt.Errorf("%w: notification %s belongs to another user", models.ErrPermissionDenied, id)
	}
	wasRead := n.Read
	n, err = s.counter.MarkAsRead(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wasRead {
		s.router.PublishInbox(actor.UID)
	}
	return n, nil
}

// MarkAllAsRead marks the actor's currently unread notifications and returns how many.
func (s *Service) MarkAllAsRead(ctx context.Context, actor models.User) (int, error) {
	if err := authenticated(actor); err != nil {
		return 0, err
	}
	marked, err := s.counter.MarkAllAsRead(ctx, actor.UID)
	if marked > 0 {
		s.router.PublishInbox(actor.UID)
	}
	return marked, err
}

// RegisterUser creates or replaces a user. Only management may.
func (s *Service) RegisterUser(ctx context.Context, actor models.User, u models.User) (*models.User, error) {
	if err := requireRole(actor, "register users", models.RoleManagement); err != nil {
		return nil, err
	}
	u.UID = strings.TrimSpace(u.UID)
	if u.UID == "" {
		return nil, fmt.Errorf("%w: uid required", models.ErrInvalid)
	}
	if !u.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrInvalid, u.Role)
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", "uid", u.UID, "role", u.Role, "by", actor.UID)
	return &u, nil
}

// Users lists every known user.
func (s *Service) Users(ctx context.Context, actor models.User) ([]models.User, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}
