package plan

import (
	"errors"
	"time"

	"meal-assistant/internal/meal"
)

// Lookup failures are terminal for the triggering operation and are
// surfaced to the caller as client-correctable conditions, never retried.
var (
	ErrPlanNotFound  = errors.New("meal plan not found")
	ErrMealNotFound  = errors.New("meal not found in plan")
	ErrNoActivePlan  = errors.New("no active meal plan; create a plan first")
	ErrStaleSnapshot = errors.New("plan snapshot is stale; reload and retry")
)

// MealPlan is one household's set of meals for a period. At most one plan
// per household is active at a time; the current plan is the most recently
// created active one.
type MealPlan struct {
	ID           int64       `json:"id"`
	HouseholdID  int64       `json:"householdId"`
	Name         string      `json:"name"`
	SpecialNotes string      `json:"specialNotes,omitempty"`
	IsActive     bool        `json:"isActive"`
	Meals        []meal.Meal `json:"meals"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy. The store owns its records; everything handed
// to callers is a clone, and mutation is only legal through update calls.
func (p MealPlan) Clone() MealPlan {
	out := p
	out.Meals = meal.CloneAll(p.Meals)
	if out.Meals == nil {
		out.Meals = []meal.Meal{}
	}
	return out
}
