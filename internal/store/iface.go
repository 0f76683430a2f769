package store

import (
	"context"
	"time"

	"github.com/hesham156/sys/pkg/models"
)

// Store is the persistence interface for tasks (with their comments and history),
// notifications and users. Implementations: the SQLite store from Open and *postgres.Store.
//
// Lookups of a missing id return an error wrapping models.ErrNotFound. Compare-and-set
// failures wrap models.ErrConflict.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, task models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error)
	// Every write that stamps updatedAt requires the stored value to be older than the new
	// stamp and returns models.ErrConflict otherwise, so updatedAt and history timestamps
	// never go backwards under concurrent writers.

	// UpdateTask merges patch and stamps updatedAt. When ifUpdatedAt is non-nil the write
	// only happens if the stored updatedAt still equals it.
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch, updatedAt time.Time, ifUpdatedAt *time.Time) error
	// CommitTransition sets status to entry.ToStatus and appends entry, but only if the
	// stored status still equals from.
	CommitTransition(ctx context.Context, id string, from models.Status, entry models.HistoryEntry) error
	// AddComment appends comment and its entry, stamping updatedAt with entry.Timestamp.
	AddComment(ctx context.Context, id string, comment models.Comment, entry models.HistoryEntry) error
	DeleteTask(ctx context.Context, id string) error
	CountTasksByStatus(ctx context.Context) (map[models.Status]int64, error)

	// Notifications
	CreateNotification(ctx context.Context, n models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	ListUnreadNotificationIDs(ctx context.Context, recipientID string) ([]string, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	// MarkNotificationRead sets read=true. It never clears the flag.
	MarkNotificationRead(ctx context.Context, id string) error

	// Users
	UpsertUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, uid string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	ListActiveUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)

	// Lifecycle
	Close() error
}
