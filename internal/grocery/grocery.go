package grocery

import (
	"errors"
	"time"
)

// ErrListNotFound marks a lookup of a grocery list that does not exist.
var ErrListNotFound = errors.New("grocery list not found")

// Item is a single grocery entry. MealID is a weak back-reference naming
// the meal that contributed the item; it never implies ownership, and a
// manually added item has none.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
	Checked  bool   `json:"checked,omitempty"`
	MealID   string `json:"mealId,omitempty"`
}

// Section is a named grouping of items. Items is always a non-nil array;
// consumers never special-case a missing list.
type Section struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// List is the grocery list derived from a meal plan. The current list for
// a plan is the one with the most recent createdAt.
type List struct {
	ID          int64     `json:"id"`
	MealPlanID  int64     `json:"mealPlanId"`
	HouseholdID int64     `json:"householdId"`
	CreatedAt   time.Time `json:"createdAt"`
	Sections    []Section `json:"sections"`
}

// Clone returns a deep copy with the non-nil-items invariant enforced.
func (l List) Clone() List {
	out := l
	out.Sections = cloneSections(l.Sections)
	return out
}

func cloneSections(sections []Section) []Section {
	out := make([]Section, len(sections))
	for i, s := range sections {
		out[i] = Section{Name: s.Name, Items: append([]Item{}, s.Items...)}
	}
	return out
}

// hasItems reports whether any section carries at least one item.
func hasItems(sections []Section) bool {
	for _, s := range sections {
		if len(s.Items) > 0 {
			return true
		}
	}
	return false
}
