package live

import (
	"slices"

	"github.com/hesham156/sys/pkg/models"
)

// Filter is a predicate over task status. The zero Filter matches every status.
type Filter struct {
	statuses []models.Status
}

// All matches every task.
func All() Filter { return Filter{} }

// StatusFilter matches exactly the given statuses. With none it matches nothing.
func StatusFilter(statuses ...models.Status) Filter {
	return Filter{statuses: append([]models.Status{}, statuses...)}
}

// RoleFilter is the visibility predicate for role. Unknown roles see nothing.
func RoleFilter(role models.Role) Filter {
	switch role {
	case models.RoleManagement:
		return All()
	case models.RoleIntake:
		return StatusFilter(models.StatusNew, models.StatusRejected)
	case models.RoleDesign:
		return StatusFilter(models.StatusDesign)
	case models.RoleProduction:
		return StatusFilter(models.StatusApproved, models.StatusProduction, models.StatusCompleted)
	default:
		return Filter{statuses: []models.Status{}}
	}
}

// Match reports whether a task in status s belongs to the view.
func (f Filter) Match(s models.Status) bool {
	if f.statuses == nil {
		return true
	}
	return slices.Contains(f.statuses, s)
}

// Statuses returns the matched statuses, or nil when the filter matches everything.
func (f Filter) Statuses() []models.Status {
	if f.statuses == nil {
		return nil
	}
	return slices.Clone(f.statuses)
}

// Empty reports whether the filter can never match.
func (f Filter) Empty() bool {
	return f.statuses != nil && len(f.statuses) == 0
}
