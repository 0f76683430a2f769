package models

import "fmt"

// Status is the lifecycle stage a task occupies.
type Status string

// Task statuses used throughout the codebase.
const (
	StatusNew        Status = "new"
	StatusDesign     Status = "design"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusProduction Status = "production"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// Statuses lists every status in workflow order.
var Statuses = []Status{
	StatusNew,
	StatusDesign,
	StatusReview,
	StatusApproved,
	StatusProduction,
	StatusCompleted,
	StatusRejected,
}

var statusLabels = map[Status]string{
	StatusNew:        "New task created",
	StatusDesign:     "Task moved to Design",
	StatusReview:     "Task ready for review",
	StatusApproved:   "Task approved",
	StatusProduction: "Task moved to Production",
	StatusCompleted:  "Task completed",
	StatusRejected:   "Task rejected",
}

// Valid reports whether s is one of the seven known statuses.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label is the human-readable description used in notification messages.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalid, raw)
	}
	return s, nil
}

// Role is an actor category with its own transition permissions.
type Role string

// Actor roles.
const (
	RoleIntake     Role = "intake"
	RoleDesign     Role = "design"
	RoleManagement Role = "management"
	RoleProduction Role = "production"
)

// Roles lists the four roles.
var Roles = []Role{RoleIntake, RoleDesign, RoleManagement, RoleProduction}

// Valid reports whether r is one of the four roles.
func (r Role) Valid() bool {
	switch r {
	case RoleIntake, RoleDesign, RoleManagement, RoleProduction:
		return true
	}
	return false
}

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalid, raw)
	}
	return r, nil
}

// Priority of a print job.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is low, medium or high.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Default limits.
const (
	DefaultMaxRequestBodyBytes   = 1 << 20 // 1 MiB
	DefaultTaskListLimit         = 1000
	DefaultNotificationListLimit = 200
	DefaultSSEChannelBuffer      = 64
	DefaultNotifyParallelism     = 8
)
