package grocery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meal-assistant/internal/meal"
	"meal-assistant/internal/plan"

	"github.com/google/uuid"
)

const generationTimeout = 90 * time.Second

// SectionGenerator is the slice of the external collaborator that turns a
// set of meals into a section breakdown.
type SectionGenerator interface {
	GenerateGrocerySections(ctx context.Context, meals []meal.Meal) ([]Section, error)
}

// PlanSource reads plans; the synthesizer never mutates them.
type PlanSource interface {
	Get(ctx context.Context, id int64) (plan.MealPlan, error)
}

// Synthesizer derives grocery lists from a plan's meals and keeps them
// consistent across meal mutations. It implements plan.GrocerySyncer.
type Synthesizer struct {
	plans     PlanSource
	store     Store
	generator SectionGenerator
}

// NewSynthesizer creates a new Synthesizer.
func NewSynthesizer(plans PlanSource, store Store, generator SectionGenerator) *Synthesizer {
	return &Synthesizer{plans: plans, store: store, generator: generator}
}

// SynthesizeOptions controls synthesis behavior.
type SynthesizeOptions struct {
	// PreserveExisting merges plan meals into an already-populated list
	// instead of replacing it, so manually added and checked items survive.
	PreserveExisting bool
}

// Synthesize builds or refreshes the grocery list for a plan.
func (s *Synthesizer) Synthesize(ctx context.Context, planID int64, opts SynthesizeOptions) (List, error) {
	p, err := s.plans.Get(ctx, planID)
	if err != nil {
		return List{}, err
	}

	meals := disambiguateDuplicateNames(p.Meals)

	existing, err := s.store.CurrentForPlan(ctx, planID)
	haveExisting := err == nil
	if err != nil && !errors.Is(err, ErrListNotFound) {
		return List{}, err
	}

	if opts.PreserveExisting && haveExisting && hasItems(existing.Sections) {
		current := existing
		for _, m := range meals {
			current, err = s.MergeMealIntoList(ctx, current.ID, m)
			if err != nil {
				return List{}, err
			}
		}
		return current, nil
	}

	var sections []Section
	if len(meals) > 0 {
		genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
		defer cancel()
		sections, err = s.generator.GenerateGrocerySections(genCtx, meals)
		if err != nil {
			return List{}, err
		}
	}
	sections = normalizeSections(sections)

	if haveExisting {
		return s.store.UpdateSections(ctx, existing.ID, sections)
	}
	return s.store.Create(ctx, List{
		MealPlanID:  planID,
		HouseholdID: p.HouseholdID,
		Sections:    sections,
	})
}

// MergeMealIntoList merges a meal's ingredients into an existing list.
// Idempotent: membership is checked by the (item name, meal id) pair, so
// re-merging an already-present meal is a no-op. A meal contributing no
// ingredients leaves the list unchanged.
func (s *Synthesizer) MergeMealIntoList(ctx context.Context, listID int64, m meal.Meal) (List, error) {
	l, err := s.store.Get(ctx, listID)
	if err != nil {
		return List{}, err
	}
	if len(m.Ingredients) == 0 {
		return l, nil
	}

	type key struct {
		name   string
		mealID string
	}
	present := make(map[key]struct{})
	for _, sec := range l.Sections {
		for _, item := range sec.Items {
			present[key{strings.ToLower(item.Name), item.MealID}] = struct{}{}
		}
	}

	changed := false
	sections := cloneSections(l.Sections)
	for _, ing := range m.Ingredients {
		k := key{strings.ToLower(ing), m.ID}
		if _, ok := present[k]; ok {
			continue
		}
		present[k] = struct{}{}
		item := Item{
			ID:     uuid.NewString(),
			Name:   ing,
			MealID: m.ID,
		}
		dept := departmentFor(ing)
		sections = appendToSection(sections, dept, item)
		changed = true
	}

	if !changed {
		return l, nil
	}
	return s.store.UpdateSections(ctx, listID, sections)
}

// Resync implements plan.GrocerySyncer.
func (s *Synthesizer) Resync(ctx context.Context, planID int64, preserveExisting bool) error {
	_, err := s.Synthesize(ctx, planID, SynthesizeOptions{PreserveExisting: preserveExisting})
	return err
}

// Clear empties the current list's sections for a plan. A plan without a
// list is a no-op.
func (s *Synthesizer) Clear(ctx context.Context, planID int64) error {
	existing, err := s.store.CurrentForPlan(ctx, planID)
	if errors.Is(err, ErrListNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.store.UpdateSections(ctx, existing.ID, []Section{})
	return err
}

// CurrentForPlan exposes the current list for read paths.
func (s *Synthesizer) CurrentForPlan(ctx context.Context, planID int64) (List, error) {
	return s.store.CurrentForPlan(ctx, planID)
}

// Get exposes a list by id for read paths.
func (s *Synthesizer) Get(ctx context.Context, listID int64) (List, error) {
	return s.store.Get(ctx, listID)
}

// AddManualItem appends a user-entered item (no meal back-reference) to
// the department section matching its name.
func (s *Synthesizer) AddManualItem(ctx context.Context, listID int64, name, quantity string) (List, error) {
	l, err := s.store.Get(ctx, listID)
	if err != nil {
		return List{}, err
	}
	item := Item{ID: uuid.NewString(), Name: name, Quantity: quantity}
	sections := appendToSection(cloneSections(l.Sections), departmentFor(name), item)
	return s.store.UpdateSections(ctx, listID, sections)
}

// SetItemChecked flips an item's checked flag.
func (s *Synthesizer) SetItemChecked(ctx context.Context, listID int64, itemID string, checked bool) (List, error) {
	l, err := s.store.Get(ctx, listID)
	if err != nil {
		return List{}, err
	}
	sections := cloneSections(l.Sections)
	found := false
	for i := range sections {
		for j := range sections[i].Items {
			if sections[i].Items[j].ID == itemID {
				sections[i].Items[j].Checked = checked
				found = true
			}
		}
	}
	if !found {
		return List{}, fmt.Errorf("grocery item %s not found in list %d", itemID, listID)
	}
	return s.store.UpdateSections(ctx, listID, sections)
}

// disambiguateDuplicateNames tags meals sharing a name with an index so
// the collaborator cannot collapse distinct meals into one ingredient set.
// Duplicate names are a symptom of the id-assignment bug class upstream.
func disambiguateDuplicateNames(meals []meal.Meal) []meal.Meal {
	counts := make(map[string]int)
	for _, m := range meals {
		counts[strings.ToLower(m.Name)]++
	}
	out := meal.CloneAll(meals)
	seen := make(map[string]int)
	for i, m := range out {
		lower := strings.ToLower(m.Name)
		if counts[lower] < 2 {
			continue
		}
		seen[lower]++
		out[i].Name = fmt.Sprintf("%s (%d)", m.Name, seen[lower])
	}
	return out
}

// normalizeSections enforces the non-nil items invariant and assigns ids
// to items the collaborator returned without one.
func normalizeSections(sections []Section) []Section {
	if sections == nil {
		return []Section{}
	}
	out := cloneSections(sections)
	for i := range out {
		for j := range out[i].Items {
			if out[i].Items[j].ID == "" {
				out[i].Items[j].ID = uuid.NewString()
			}
		}
	}
	return out
}

func appendToSection(sections []Section, name string, item Item) []Section {
	for i := range sections {
		if strings.EqualFold(sections[i].Name, name) {
			sections[i].Items = append(sections[i].Items, item)
			return sections
		}
	}
	return append(sections, Section{Name: name, Items: []Item{item}})
}
