package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hesham156/sys/pkg/models"
)

const taskColumns = `task_id, title, description, client_name, priority, status, created_by, created_at, updated_at, due_date, assigned_to, attachments`

const notificationColumns = `notification_id, title, message, recipient_id, task_id, created_at, read`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t           models.Task
		priority    string
		status      string
		createdAt   int64
		updatedAt   int64
		dueDate     int64
		assignedTo  sql.NullString
		attachments string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.ClientName, &priority, &status, &t.CreatedBy,
		&createdAt, &updatedAt, &dueDate, &assignedTo, &attachments); err != nil {
		return nil, err
	}
	t.Priority = models.Priority(priority)
	t.Status = models.Status(status)
	t.CreatedAt = FromMillis(createdAt)
	t.UpdatedAt = FromMillis(updatedAt)
	t.DueDate = FromMillis(dueDate)
	if assignedTo.Valid {
		v := assignedTo.String
		t.AssignedTo = &v
	}
	t.Attachments = DecodeAttachments(attachments)
	return &t, nil
}

func scanHistory(row rowScanner) (string, models.HistoryEntry, error) {
	var (
		taskID  string
		e       models.HistoryEntry
		from    sql.NullString
		to      sql.NullString
		ts      int64
		comment sql.NullString
	)
	if err := row.Scan(&taskID, &e.ID, &e.Action, &from, &to, &e.PerformedBy, &ts, &comment); err != nil {
		return "", e, err
	}
	if from.Valid {
		s := models.Status(from.String)
		e.FromStatus = &s
	}
	if to.Valid {
		s := models.Status(to.String)
		e.ToStatus = &s
	}
	if comment.Valid {
		c := comment.String
		e.Comment = &c
	}
	e.Timestamp = FromMillis(ts)
	return taskID, e, nil
}

func scanComment(row rowScanner) (string, models.Comment, error) {
	var (
		taskID    string
		c         models.Comment
		createdAt int64
	)
	if err := row.Scan(&taskID, &c.ID, &c.Text, &c.CreatedBy, &createdAt); err != nil {
		return "", c, err
	}
	c.CreatedAt = FromMillis(createdAt)
	return taskID, c, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n         models.Notification
		taskID    sql.NullString
		createdAt int64
		read      int
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Message, &n.RecipientID, &taskID, &createdAt, &read); err != nil {
		return nil, err
	}
	if taskID.Valid {
		v := taskID.String
		n.TaskID = &v
	}
	n.CreatedAt = FromMillis(createdAt)
	n.Read = read != 0
	return &n, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u      models.User
		role   string
		active int
	)
	if err := row.Scan(&u.UID, &role, &u.DisplayName, &u.Email, &active); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.Active = active != 0
	return &u, nil
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullStatus(p *models.Status) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- Tasks ---

func (s *sqliteStore) CreateTask(ctx context.Context, task models.Task) error {
	if task.ID == "" {
		return fmt.Errorf("%w: task id required", models.ErrInvalid)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.ClientName, string(task.Priority), string(task.Status), task.CreatedBy,
		Millis(task.CreatedAt), Millis(task.UpdatedAt), Millis(task.DueDate), nullString(task.AssignedTo), EncodeAttachments(task.Attachments))
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
	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sql.Tx, taskID string, e models.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_history(entry_id, task_id, action, from_status, to_status, performed_by, ts, comment) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, taskID, e.Action, nullStatus(e.FromStatus), nullStatus(e.ToStatus), e.PerformedBy, Millis(e.Timestamp), nullString(e.Comment))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func insertComment(ctx context.Context, tx *sql.Tx, taskID string, c models.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_comments(comment_id, task_id, body, created_by, created_at) VALUES(?, ?, ?, ?, ?)`,
		c.ID, taskID, c.Text, c.CreatedBy, Millis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.stmtGetTask.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	rows, err := s.stmtTaskHistory.QueryContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		_, e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		t.History = append(t.History, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	crows, err := s.stmtTaskComments.QueryContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = crows.Close() }()
	for crows.Next() {
		_, c, err := scanComment(crows)
		if err != nil {
			return nil, err
		}
		t.Comments = append(t.Comments, c)
	}
	return t, crows.Err()
}

func (s *sqliteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	// SQLite treats a negative LIMIT as no limit.
	limit := filter.Limit
	switch {
	case limit < 0:
		limit = -1
	case limit == 0:
		limit = models.DefaultTaskListLimit
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(filter.Statuses) > 0 {
		q += ` WHERE status IN (` + placeholders(len(filter.Statuses)) + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	q += ` ORDER BY created_at DESC, task_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if err := s.loadChildren(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadChildren fills History and Comments for tasks with one query per child table.
func (s *sqliteStore) loadChildren(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	idx := make(map[string]int, len(tasks))
	args := make([]any, len(tasks))
	for i, t := range tasks {
		idx[t.ID] = i
		args[i] = t.ID
	}
	in := placeholders(len(tasks))

	rows, err := s.DB.QueryContext(ctx, `SELECT task_id, entry_id, action, from_status, to_status, performed_by, ts, comment FROM task_history WHERE task_id IN (`+in+`) ORDER BY seq ASC`, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		taskID, e, err := scanHistory(rows)
		if err != nil {
			_ = rows.Close()
			return err
		}
		i := idx[taskID]
		tasks[i].History = append(tasks[i].History, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	crows, err := s.DB.QueryContext(ctx, `SELECT task_id, comment_id, body, created_by, created_at FROM task_comments WHERE task_id IN (`+in+`) ORDER BY seq ASC`, args...)
	if err != nil {
		return err
	}
	defer func() { _ = crows.Close() }()
	for crows.Next() {
		taskID, c, err := scanComment(crows)
		if err != nil {
			return err
		}
		i := idx[taskID]
		tasks[i].Comments = append(tasks[i].Comments, c)
	}
	return crows.Err()
}

// missOrConflict explains a zero-row write: the task is gone, or a guard did not hold.
func (s *sqliteStore) missOrConflict(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE task_id = ?`, id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("task %s: %w", id, models.ErrConflict)
}

func (s *sqliteStore) UpdateTask(ctx context.Context, id string, patch models.TaskPatch, updatedAt time.Time, ifUpdatedAt *time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{Millis(updatedAt)}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.ClientName != nil {
		sets = append(sets, "client_name = ?")
		args = append(args, *patch.ClientName)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if patch.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, Millis(*patch.DueDate))
	}
	if patch.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		if *patch.AssignedTo == "" {
			args = append(args, nil)
		} else {
			args = append(args, *patch.AssignedTo)
		}
	}
	if patch.Attachments != nil {
		sets = append(sets, "attachments = ?")
		args = append(args, EncodeAttachments(*patch.Attachments))
	}
	q := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE task_id = ? AND updated_at < ?`
	args = append(args, id, Millis(updatedAt))
	if ifUpdatedAt != nil {
		q += ` AND updated_at = ?`
		args = append(args, Millis(*ifUpdatedAt))
	}
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missOrConflict(ctx, s.DB, id)
	}
	return nil
}

func (s *sqliteStore) CommitTransition(ctx context.Context, id string, from models.Status, entry models.HistoryEntry) error {
	if entry.ToStatus == nil {
		return fmt.Errorf("%w: history entry has no target status", models.ErrInvalid)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ? AND status = ? AND updated_at < ?`,
		string(*entry.ToStatus), Millis(entry.Timestamp), id, string(from), Millis(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missOrConflict(ctx, tx, id)
	}
	if err := insertHistory(ctx, tx, id, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AddComment(ctx context.Context, id string, comment models.Comment, entry models.HistoryEntry) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE task_id = ? AND updated_at < ?`, Millis(entry.Timestamp), id, Millis(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missOrConflict(ctx, tx, id)
	}
	if err := insertComment(ctx, tx, id, comment); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, id, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_history WHERE task_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_comments WHERE task_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return tx.Commit()
}

func (s *sqliteStore) CountTasksByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

// --- Notifications ---

func (s *sqliteStore) CreateNotification(ctx context.Context, n models.Notification) error {
	if n.ID == "" || n.RecipientID == "" {
		return fmt.Errorf("%w: notification id and recipient required", models.ErrInvalid)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Message, n.RecipientID, nullString(n.TaskID), Millis(n.CreatedAt), boolInt(n.Read))
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	n, err := scanNotification(s.stmtGetNotifByID.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return n, nil
}

func (s *sqliteStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = models.DefaultNotificationListLimit
	}
	rows, err := s.stmtListNotifByRcp.QueryContext(ctx, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) ListUnreadNotificationIDs(ctx context.Context, recipientID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT notification_id FROM notifications WHERE recipient_id = ? AND read = 0 ORDER BY created_at ASC`, recipientID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	if err := s.stmtCountUnread.QueryRowContext(ctx, recipientID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE notification_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// --- Users ---

func (s *sqliteStore) UpsertUser(ctx context.Context, u models.User) error {
	if u.UID == "" {
		return fmt.Errorf("%w: uid required", models.ErrInvalid)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", models.ErrInvalid, u.Role)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users(uid, role, display_name, email, active, created_at) VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(uid) DO UPDATE SET role = excluded.role, display_name = excluded.display_name, email = excluded.email, active = excluded.active`,
		u.UID, string(u.Role), u.DisplayName, u.Email, boolInt(u.Active), time.Now().UTC().UnixMilli())
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, uid string) (*models.User, error) {
	u, err := scanUser(s.stmtGetUser.QueryRowContext(ctx, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", uid, models.ErrNotFound)
		}
		return nil, err
	}
	return u, nil
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT uid, role, display_name, email, active FROM users ORDER BY uid ASC`)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func (s *sqliteStore) ListActiveUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	rows, err := s.stmtActiveByRole.QueryContext(ctx, string(role))
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	defer func() { _ = rows.Close() }()
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
