// Package models provides shared types for the printflow HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// User is an authenticated actor supplied by the identity provider. Role is authoritative.
type User struct {
	UID         string `json:"uid"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Active      bool   `json:"active"`
}

// Task is a print job moving through the intake, design, management and production stages.
// Comments and History are owned by the task; History is append-only in chronological order.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ClientName  string         `json:"clientName"`
	Priority    Priority       `json:"priority"`
	Status      Status         `json:"status"`
	CreatedBy   string         `json:"createdBy"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DueDate     time.Time      `json:"dueDate"`
	AssignedTo  *string        `json:"assignedTo,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
	Comments    []Comment      `json:"comments,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
}

// Comment is an immutable note on a task.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryEntry is an immutable audit record of one task mutation.
type HistoryEntry struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	FromStatus  *Status   `json:"fromStatus,omitempty"`
	ToStatus    *Status   `json:"toStatus,omitempty"`
	PerformedBy string    `json:"performedBy"`
	Timestamp   time.Time `json:"timestamp"`
	Comment     *string   `json:"comment,omitempty"`
}

// Notification is a per-recipient alert. Read only ever moves from false to true.
type Notification struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	RecipientID string    `json:"recipientId"`
	TaskID      *string   `json:"taskId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Read        bool      `json:"read"`
}

// NewTask is the caller-supplied part of a task at creation time.
type NewTask struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ClientName  string    `json:"clientName"`
	Priority    Priority  `json:"priority"`
	DueDate     time.Time `json:"dueDate"`
	AssignedTo  *string   `json:"assignedTo,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left untouched; status is not patchable.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	ClientName  *string    `json:"clientName,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	AssignedTo  *string    `json:"assignedTo,omitempty"`
	Attachments *[]string  `json:"attachments,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.ClientName == nil && p.Priority == nil &&
		p.DueDate == nil && p.AssignedTo == nil && p.Attachments == nil
}

// TransitionRequest is the body of POST /tasks/{id}/transitions.
type TransitionRequest struct {
	Status  Status `json:"status"`
	Comment string `json:"comment,omitempty"`
}

// UnreadCount is the /notifications/unread-count API response.
type UnreadCount struct {
	RecipientID string `json:"recipientId"`
	Unread      int    `json:"unread"`
}

// StreamEvent is one server-sent event on /stream.
type StreamEvent struct {
	Type          string         `json:"type"` // "connected", "tasks", "notifications"
	Tasks         []Task         `json:"tasks,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
	Unread        *int           `json:"unread,omitempty"`
}
