// Package store defines the persistence interface for tasks, notifications and users,
// and the default SQLite implementation.
package store

import (
	"encoding/json"
	"time"

	"github.com/hesham156/sys/pkg/models"
)

// TaskFilter selects tasks by status. Empty Statuses means all statuses.
// Results are always ordered by createdAt descending. A zero Limit means
// models.DefaultTaskListLimit; Unlimited returns every match.
type TaskFilter struct {
	Statuses []models.Status
	Limit    int
}

// Unlimited as TaskFilter.Limit disables the row cap.
const Unlimited = -1

// Millis converts t to the unix-millisecond integer stored in every timestamp column.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// EncodeAttachments serializes attachment references for the attachments column.
func EncodeAttachments(a []string) string {
	if len(a) == 0 {
		return "[]"
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeAttachments is the inverse of EncodeAttachments; malformed input yields nil.
func DecodeAttachments(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}

// StatusStrings converts statuses for use as query arguments.
func StatusStrings(ss []models.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
