// Package audit builds the append-only history carried by every task.
package audit

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hesham156/sys/pkg/models"
)

// Resolution of stored timestamps. Everything in the store is unix milliseconds.
const Resolution = time.Millisecond

// Clock hands out strictly increasing millisecond timestamps, so two commits in the
// same millisecond still order correctly and updatedAt never stands still.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockFunc returns a clock backed by now; used by tests to pin time.
func NewClockFunc(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns a UTC timestamp later than every previous Now and later than each of after.
func (c *Clock) Now(after ...time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(Resolution)
	floor := c.last
	for _, a := range after {
		if a.After(floor) {
			floor = a
		}
	}
	if !floor.IsZero() && !t.After(floor) {
		t = floor.UTC().Truncate(Resolution).Add(Resolution)
	}
	c.last = t
	return t
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Created is the first entry of every task.
func Created(performedBy string, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ID:          newID(),
		Action:      "Task created",
		PerformedBy: performedBy,
		Timestamp:   at,
	}
}

// StatusChanged records an accepted transition. An empty comment is omitted.
func StatusChanged(from, to models.Status, performedBy string, at time.Time, comment string) models.HistoryEntry {
	e := models.HistoryEntry{
		ID:          newID(),
		Action:      fmt.Sprintf("Status changed from %s to %s", from, to),
		FromStatus:  &from,
		ToStatus:    &to,
		PerformedBy: performedBy,
		Timestamp:   at,
	}
	if comment != "" {
		e.Comment = &comment
	}
	return e
}

// CommentAdded records a new comment; the comment text is copied into the entry.
func CommentAdded(performedBy, text string, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ID:          newID(),
		Action:      "Comment added",
		PerformedBy: performedBy,
		Timestamp:   at,
		Comment:     &text,
	}
}

// Append returns a new slice with e added. The input slice is never written to.
// Entries must not go back in time.
func Append(history []models.HistoryEntry, e models.HistoryEntry) ([]models.HistoryEntry, error) {
	if n := len(history); n > 0 && e.Timestamp.Before(history[n-1].Timestamp) {
		return nil, fmt.Errorf("%w: history entry at %s precedes last entry at %s",
			models.ErrInvalid, e.Timestamp.Format(time.RFC3339Nano), history[n-1].Timestamp.Format(time.RFC3339Nano))
	}
	out := make([]models.HistoryEntry, 0, len(history)+1)
	out = append(out, history...)
	return append(out, e), nil
}

// InsertionOrder returns a copy of history as stored (activity feed order).
func InsertionOrder(history []models.HistoryEntry) []models.HistoryEntry {
	return slices.Clone(history)
}

// TimestampOrder returns a copy of history sorted by timestamp; ties keep insertion order.
func TimestampOrder(history []models.HistoryEntry) []models.HistoryEntry {
	out := slices.Clone(history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Last returns the newest entry by insertion, or false when empty.
func Last(history []models.HistoryEntry) (models.HistoryEntry, bool) {
	if len(history) == 0 {
		return models.HistoryEntry{}, false
	}
	return history[len(history)-1], true
}
