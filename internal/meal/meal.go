package meal

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Category is the fixed meal taxonomy.
type Category string

const (
	CategoryQuickEasy Category = "Quick & Easy"
	CategoryWeeknight Category = "Weeknight Meals"
	CategoryBatch     Category = "Batch Cooking"
	CategorySplitPrep Category = "Split Prep"
)

// Categories lists every valid category.
func Categories() []Category {
	return []Category{CategoryQuickEasy, CategoryWeeknight, CategoryBatch, CategorySplitPrep}
}

// Meal is the canonical meal shape. Upstream field drift (mainIngredients,
// prep_time and friends) is folded into this shape at every ingestion
// boundary by Normalize; alternate names never propagate past it.
type Meal struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Category     Category `json:"category,omitempty"`
	PrepTime     int      `json:"prepTime,omitempty"`
	Servings     int      `json:"servings,omitempty"`
	Ingredients  []string `json:"ingredients"`
	Rationales   []string `json:"rationales,omitempty"`
	Instructions []string `json:"instructions,omitempty"`
}

// Clone returns a deep copy. Repositories hand out clones so callers can
// never alias store-owned records.
func (m Meal) Clone() Meal {
	out := m
	out.Ingredients = append([]string(nil), m.Ingredients...)
	out.Rationales = append([]string(nil), m.Rationales...)
	out.Instructions = append([]string(nil), m.Instructions...)
	return out
}

// EnsureID returns a copy of the meal carrying a non-empty id. An id is
// assigned exactly once; a meal that already has one comes back unchanged.
func EnsureID(m Meal) Meal {
	out := m.Clone()
	if out.ID != "" {
		return out
	}
	out.ID = newID()
	return out
}

func newID() string {
	return fmt.Sprintf("meal-%d-%06d", time.Now().UnixMilli(), rand.IntN(1000000))
}

// Deduplicate collapses meals sharing an id to the first occurrence,
// preserving order. Meals without an id are assigned one first. The second
// return value is the number of discarded duplicates.
func Deduplicate(meals []Meal) ([]Meal, int) {
	seen := make(map[string]struct{}, len(meals))
	out := make([]Meal, 0, len(meals))
	discarded := 0
	for _, m := range meals {
		withID := EnsureID(m)
		if _, dup := seen[withID.ID]; dup {
			discarded++
			continue
		}
		seen[withID.ID] = struct{}{}
		out = append(out, withID)
	}
	return out, discarded
}

// CloneAll deep-copies a meal slice.
func CloneAll(meals []Meal) []Meal {
	if meals == nil {
		return nil
	}
	out := make([]Meal, len(meals))
	for i, m := range meals {
		out[i] = m.Clone()
	}
	return out
}

// FindByID returns the index of the meal with the given id, or -1.
func FindByID(meals []Meal, id string) int {
	for i, m := range meals {
		if m.ID == id {
			return i
		}
	}
	return -1
}
