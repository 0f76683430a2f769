package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hesham156/sys/internal/store"
	"github.com/hesham156/sys/pkg/models"
	"github.com/jackc/pgx/v5"
)

const taskColumns = `task_id, title, description, client_name, priority, status, created_by, created_at, updated_at, due_date, assigned_to, attachments::text`

const notificationColumns = `notification_id, title, message, recipient_id, task_id, created_at, read`

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		t                             models.Task
		priority, status, attachments string
		createdAt, updatedAt, dueDate int64
		assignedTo                    *string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.ClientName, &priority, &status, &t.CreatedBy,
		&createdAt, &updatedAt, &dueDate, &assignedTo, &attachments); err != nil {
		return nil, err
	}
	t.Priority = models.Priority(priority)
	t.Status = models.Status(status)
	t.CreatedAt = store.FromMillis(createdAt)
	t.UpdatedAt = store.FromMillis(updatedAt)
	t.DueDate = store.FromMillis(dueDate)
	t.AssignedTo = assignedTo
	t.Attachments = store.DecodeAttachments(attachments)
	return &t, nil
}

func scanHistory(row pgx.Row) (string, models.HistoryEntry, error) {
	var (
		taskID   string
		e        models.HistoryEntry
		from, to *string
		ts       int64
	)
	if err := row.Scan(&taskID, &e.ID, &e.Action, &from, &to, &e.PerformedBy, &ts, &e.Comment); err != nil {
		return "", e, err
	}
	if from != nil {
		s := models.Status(*from)
		e.FromStatus = &s
	}
	if to != nil {
		s := models.Status(*to)
		e.ToStatus = &s
	}
	e.Timestamp = store.FromMillis(ts)
	return taskID, e, nil
}

func scanComment(row pgx.Row) (string, models.Comment, error) {
	var (
		taskID    string
		c         models.Comment
		createdAt int64
	)
	if err := row.Scan(&taskID, &c.ID, &c.Text, &c.CreatedBy, &createdAt); err != nil {
		return "", c, err
	}
	c.CreatedAt = store.FromMillis(createdAt)
	return taskID, c, nil
}

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var (
		n         models.Notification
		createdAt int64
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Message, &n.RecipientID, &n.TaskID, &createdAt, &n.Read); err != nil {
		return nil, err
	}
	n.CreatedAt = store.FromMillis(createdAt)
	return &n, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u    models.User
		role string
	)
	if err := row.Scan(&u.UID, &role, &u.DisplayName, &u.Email, &u.Active); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func statusArg(p *models.Status) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func missOrConflict(ctx context.Context, q querier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("task %s: %w", id, models.ErrConflict)
}

func insertHistory(ctx context.Context, tx pgx.Tx, taskID string, e models.HistoryEntry) error {
	_, err := tx.Exec(ctx, `INSERT INTO task_history(entry_id, task_id, action, from_status, to_status, performed_by, ts, comment) VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, taskID, e.Action, statusArg(e.FromStatus), statusArg(e.ToStatus), e.PerformedBy, store.Millis(e.Timestamp), e.Comment)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func insertComment(ctx context.Context, tx pgx.Tx, taskID string, c models.Comment) error {
	_, err := tx.Exec(ctx, `INSERT INTO task_comments(comment_id, task_id, body, created_by, created_at) VALUES($1, $2, $3, $4, $5)`,
		c.ID, taskID, c.Text, c.CreatedBy, store.Millis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, task models.Task) error {
	if task.ID == "" {
		return fmt.Errorf("%w: task id required", models.ErrInvalid)
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx, `INSERT INTO tasks(task_id, title, description, client_name, priority, status, created_by, created_at, updated_at, due_date, assigned_to, attachments)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb)`,
		task.ID, task.Title, task.Description, task.ClientName, string(task.Priority), string(task.Status), task.CreatedBy,
		store.Millis(task.CreatedAt), store.Millis(task.UpdatedAt), store.Millis(task.DueDate), task.AssignedTo, store.EncodeAttachments(task.Attachments))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	for _, c := range task.Comments {
		if err := insertComment(ctx, tx, task.ID, c); err != nil {
			return err
		}
	}
	for _, e := range task.History {
		if err := insertHistory(ctx, tx, task.ID, e); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	out := []models.Task{*t}
	if err := s.loadChildren(ctx, out); err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]models.Task, error) {
	// LIMIT NULL is LIMIT ALL.
	var limit *int
	switch {
	case filter.Limit > 0:
		limit = &filter.Limit
	case filter.Limit == 0:
		n := models.DefaultTaskListLimit
		limit = &n
	}
	var (
		rows pgx.Rows
		err  error
	)
	if len(filter.Statuses) > 0 {
		rows, err = s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ANY($1) ORDER BY created_at DESC, task_id DESC LIMIT $2`,
			store.StatusStrings(filter.Statuses), limit)
	} else {
		rows, err = s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, task_id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadChildren(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	idx := make(map[string]int, len(tasks))
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		idx[t.ID] = i
		ids[i] = t.ID
	}

	rows, err := s.Pool.Query(ctx, `SELECT task_id, entry_id, action, from_status, to_status, performed_by, ts, comment FROM task_history WHERE task_id = ANY($1) ORDER BY seq ASC`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		taskID, e, err := scanHistory(rows)
		if err != nil {
			rows.Close()
			return err
		}
		tasks[idx[taskID]].History = append(tasks[idx[taskID]].History, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	crows, err := s.Pool.Query(ctx, `SELECT task_id, comment_id, body, created_by, created_at FROM task_comments WHERE task_id = ANY($1) ORDER BY seq ASC`, ids)
	if err != nil {
		return err
	}
	defer crows.Close()
	for crows.Next() {
		taskID, c, err := scanComment(crows)
		if err != nil {
			return err
		}
		tasks[idx[taskID]].Comments = append(tasks[idx[taskID]].Comments, c)
	}
	return crows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch, updatedAt time.Time, ifUpdatedAt *time.Time) error {
	sets := []string{"updated_at = $1"}
	args := []any{store.Millis(updatedAt)}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.ClientName != nil {
		add("client_name", *patch.ClientName)
	}
	if patch.Priority != nil {
		add("priority", string(*patch.Priority))
	}
	if patch.DueDate != nil {
		add("due_date", store.Millis(*patch.DueDate))
	}
	if patch.AssignedTo != nil {
		if *patch.AssignedTo == "" {
			add("assigned_to", nil)
		} else {
			add("assigned_to", *patch.AssignedTo)
		}
	}
	if patch.Attachments != nil {
		args = append(args, store.EncodeAttachments(*patch.Attachments))
		sets = append(sets, "attachments = $"+strconv.Itoa(len(args))+"::jsonb")
	}
	args = append(args, id, store.Millis(updatedAt))
	q := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE task_id = $` + strconv.Itoa(len(args)-1) + ` AND updated_at < $` + strconv.Itoa(len(args))
	if ifUpdatedAt != nil {
		args = append(args, store.Millis(*ifUpdatedAt))
		q += ` AND updated_at = $` + strconv.Itoa(len(args))
	}
	tag, err := s.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, s.Pool, id)
	}
	return nil
}

func (s *Store) CommitTransition(ctx context.Context, id string, from models.Status, entry models.HistoryEntry) error {
	if entry.ToStatus == nil {
		return fmt.Errorf("%w: history entry has no target status", models.ErrInvalid)
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tag, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = $2 WHERE task_id = $3 AND status = $4 AND updated_at < $2`,
		string(*entry.ToStatus), store.Millis(entry.Timestamp), id, string(from))
	if err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, tx, id)
	}
	if err := insertHistory(ctx, tx, id, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) AddComment(ctx context.Context, id string, comment models.Comment, entry models.HistoryEntry) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	tag, err := tx.Exec(ctx, `UPDATE tasks SET updated_at = $1 WHERE task_id = $2 AND updated_at < $1`, store.Millis(entry.Timestamp), id)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missOrConflict(ctx, tx, id)
	}
	if err := insertComment(ctx, tx, id, comment); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, id, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteTask removes the task; comments and history go with it through ON DELETE CASCADE.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.Status]int64, len(models.Statuses))
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.Status(status)] = n
	}
	return out, rows.Err()
}

func (s *Store) CreateNotification(ctx context.Context, n models.Notification) error {
	if n.ID == "" || n.RecipientID == "" {
		return fmt.Errorf("%w: notification id and recipient required", models.ErrInvalid)
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.Title, n.Message, n.RecipientID, n.TaskID, store.Millis(n.CreatedAt), n.Read)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	n, err := scanNotification(s.Pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE notification_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = models.DefaultNotificationListLimit
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC, notification_id DESC LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *Store) ListUnreadNotificationIDs(ctx context.Context, recipientID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT notification_id FROM notifications WHERE recipient_id = $1 AND NOT read ORDER BY created_at ASC`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT read`, recipientID).Scan(&n)
	return n, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE notification_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	if u.UID == "" {
		return fmt.Errorf("%w: uid required", models.ErrInvalid)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", models.ErrInvalid, u.Role)
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO users(uid, role, display_name, email, active, created_at) VALUES($1, $2, $3, $4, $5, $6)
ON CONFLICT (uid) DO UPDATE SET role = EXCLUDED.role, display_name = EXCLUDED.display_name, email = EXCLUDED.email, active = EXCLUDED.active`,
		u.UID, string(u.Role), u.DisplayName, u.Email, u.Active, time.Now().UTC().UnixMilli())
	return err
}

func (s *Store) GetUser(ctx context.Context, uid string) (*models.User, error) {
	u, err := scanUser(s.Pool.QueryRow(ctx, `SELECT uid, role, display_name, email, active FROM users WHERE uid = $1`, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", uid, models.ErrNotFound)
		}
		return nil, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.Pool.Query(ctx, `SELECT uid, role, display_name, email, active FROM users ORDER BY uid ASC`)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func (s *Store) ListActiveUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	rows, err := s.Pool.Query(ctx, `SELECT uid, role, display_name, email, active FROM users WHERE role = $1 AND active ORDER BY uid ASC`, string(role))
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]models.User, error) {
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

var _ store.Store = (*Store)(nil)
