package notify

import (
	"context"
	"fmt"

	"github.com/hesham156/sys/pkg/models"
)

// Counter answers unread counts and flips notifications to read.
type Counter struct {
	store Store
}

func NewCounter(st Store) *Counter {
	return &Counter{store: st}
}

// UnreadCount is the number of unread notifications addressed to recipientID.
func (c *Counter) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return c.store.CountUnread(ctx, recipientID)
}

// MarkAsRead sets read on one notification and returns it. Marking an already-read
// notification is a no-op. A missing id wraps models.ErrNotFound.
func (c *Counter) MarkAsRead(ctx context.Context, id string) (*models.Notification, error) {
	n, err := c.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}
	if err := c.store.MarkNotificationRead(ctx, id); err != nil {
		return nil, err
	}
	n.Read = true
	return n, nil
}

// MarkAllAsRead marks every notification that was unread for recipientID when the call
// started. Notifications created during the call may stay unread. Returns how many were
// marked.
func (c *Counter) MarkAllAsRead(ctx context.Context, recipientID string) (int, error) {
	ids, err := c.store.ListUnreadNotificationIDs(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, id := range ids {
		if err := c.store.MarkNotificationRead(ctx, id); err != nil {
			return marked, fmt.Errorf("mark %s read: %w", id, err)
		}
		marked++
	}
	return marked, nil
}
