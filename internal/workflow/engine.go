// Package workflow decides which status transitions each role may perform.
package workflow

import (
	"fmt"
	"slices"
	"time"

	"github.com/hesham156/sys/internal/audit"
	"github.com/hesham156/sys/pkg/models"
)

// Table maps (role, current status) to the statuses that role may move a task to.
// Every role must carry an entry for every status, even if the entry is empty.
type Table map[models.Role]map[models.Status][]models.Status

// DefaultTable is the print-shop permission table. Management's override (any status
// other than review to any other status) is expanded into explicit entries here so the
// engine only ever does a lookup; from review management keeps its three specific moves.
func DefaultTable() Table {
	t := Table{}
	for _, r := range models.Roles {
		t[r] = map[models.Status][]models.Status{}
		for _, s := range models.Statuses {
			t[r][s] = nil
		}
	}

	t[models.RoleIntake][models.StatusNew] = []models.Status{models.StatusDesign}
	t[models.RoleIntake][models.StatusRejected] = []models.Status{models.StatusDesign}

	t[models.RoleDesign][models.StatusDesign] = []models.Status{models.StatusReview, models.StatusRejected}

	t[models.RoleProduction][models.StatusApproved] = []models.Status{models.StatusProduction}
	t[models.RoleProduction][models.StatusProduction] = []models.Status{models.StatusCompleted}

	for _, from := range models.Statuses {
		if from == models.StatusReview {
			continue
		}
		var to []models.Status
		for _, s := range models.Statuses {
			if s != from {
				to = append(to, s)
			}
		}
		t[models.RoleManagement][from] = to
	}
	t[models.RoleManagement][models.StatusReview] = []models.Status{models.StatusApproved, models.StatusRejected, models.StatusDesign}
	return t
}

// Validate checks the table is complete: all four roles, all seven statuses per role,
// only known targets, and no self-transitions.
func (t Table) Validate() error {
	for _, r := range models.Roles {
		row, ok := t[r]
		if !ok {
			return fmt.Errorf("transition table: missing role %q", r)
		}
		for _, s := range models.Statuses {
			targets, ok := row[s]
			if !ok {
				return fmt.Errorf("transition table: role %q missing status %q", r, s)
			}
			for _, to := range targets {
				if !to.Valid() {
					return fmt.Errorf("transition table: role %q status %q: unknown target %q", r, s, to)
				}
				if to == s {
					return fmt.Errorf("transition table: role %q status %q: self-transition", r, s)
				}
			}
		}
		if len(row) != len(models.Statuses) {
			return fmt.Errorf("transition table: role %q has unknown statuses", r)
		}
	}
	if len(t) != len(models.Roles) {
		return fmt.Errorf("transition table: unknown roles present")
	}
	return nil
}

// Engine validates transitions against a Table and builds the resulting history entry.
// It never touches storage.
type Engine struct {
	table Table
	clock *audit.Clock
}

// New validates table and returns an engine. A nil clock uses the wall clock.
func New(table Table, clock *audit.Clock) (*Engine, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = audit.NewClock()
	}
	return &Engine{table: table, clock: clock}, nil
}

// MustDefault returns an engine over DefaultTable; it panics only if DefaultTable is broken.
func MustDefault(clock *audit.Clock) *Engine {
	e, err := New(DefaultTable(), clock)
	if err != nil {
		panic(err)
	}
	return e
}

// Allowed reports whether role may move a task from one status to another.
func (e *Engine) Allowed(role models.Role, from, to models.Status) bool {
	row, ok := e.table[role]
	if !ok {
		return false
	}
	return slices.Contains(row[from], to)
}

// Targets returns the statuses role may move a task in status from to.
func (e *Engine) Targets(role models.Role, from models.Status) []models.Status {
	return slices.Clone(e.table[role][from])
}

// AttemptTransition returns the task moved to status to, plus the history entry for the move.
// On any rejection it returns models.ErrPermissionDenied (or ErrInvalid for an unknown target)
// and the caller's task is untouched: the returned task never shares a History backing array
// with the input.
func (e *Engine) AttemptTransition(actor models.User, task models.Task, to models.Status, comment string) (models.Task, models.HistoryEntry, error) {
	if !actor.Role.Valid() {
		return models.Task{}, models.HistoryEntry{}, fmt.Errorf("%w: role %q", models.ErrPermissionDenied, actor.Role)
	}
	if !to.Valid() {
		return models.Task{}, models.HistoryEntry{}, fmt.Errorf("%w: unknown status %q", models.ErrInvalid, to)
	}
	from := task.Status
	if from == to {
		return models.Task{}, models.HistoryEntry{}, fmt.Errorf("%w: task already in status %s", models.ErrPermissionDenied, to)
	}
	if !e.Allowed(actor.Role, from, to) {
		return models.Task{}, models.HistoryEntry{}, fmt.Errorf("%w: role %s may not move %s to %s", models.ErrPermissionDenied, actor.Role, from, to)
	}

	after := []time.Time{task.UpdatedAt}
	if last, ok := audit.Last(task.History); ok {
		after = append(after, last.Timestamp)
	}
	now := e.clock.Now(after...)
	entry := audit.StatusChanged(from, to, actor.UID, now, comment)
	history, err := audit.Append(task.History, entry)
	if err != nil {
		return models.Task{}, models.HistoryEntry{}, err
	}

	next := task
	next.Status = to
	next.UpdatedAt = now
	next.History = history
	return next, entry, nil
}
