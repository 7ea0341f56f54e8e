package plan

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"meal-assistant/internal/household"
	"meal-assistant/internal/meal"
)

// Collaborator calls block for network + model latency, so they get a
// timeout well past interactive request limits.
const generationTimeout = 90 * time.Second

// Generator is the slice of the external generation collaborator the
// reconciliation engine consumes.
type Generator interface {
	GenerateMeal(ctx context.Context, h household.Household, mealType meal.Category, preferences string) (meal.Meal, error)
	ReplaceMeal(ctx context.Context, m meal.Meal) (meal.Meal, error)
	ModifyMeal(ctx context.Context, m meal.Meal, changeRequest string) (meal.Meal, error)
}

// GrocerySyncer keeps the derived grocery list consistent after meal
// mutations. Resync failures are secondary: they are logged and never roll
// back the primary operation.
type GrocerySyncer interface {
	Resync(ctx context.Context, planID int64, preserveExisting bool) error
	Clear(ctx context.Context, planID int64) error
}

// HouseholdSource supplies the profile handed to the collaborator.
type HouseholdSource interface {
	Current(ctx context.Context) (household.Household, error)
}

// Service applies add/remove/replace/modify operations to a plan's meal
// collection while preserving meal identity and the single-active-plan
// invariant. Read-modify-write operations on one plan are serialized
// through a per-plan mutex; the underlying store cannot be assumed atomic
// across records.
type Service struct {
	store      Store
	groceries  GrocerySyncer
	generator  Generator
	households HouseholdSource

	mu        sync.Mutex
	planLocks map[int64]*sync.Mutex
	// activation is a single-writer section so a concurrent reader never
	// observes two simultaneously active plans.
	activateMu sync.Mutex
}

// NewService creates a new reconciliation Service.
func NewService(store Store, groceries GrocerySyncer, generator Generator, households HouseholdSource) *Service {
	return &Service{
		store:      store,
		groceries:  groceries,
		generator:  generator,
		households: households,
		planLocks:  make(map[int64]*sync.Mutex),
	}
}

func (s *Service) lockPlan(planID int64) func() {
	s.mu.Lock()
	l, ok := s.planLocks[planID]
	if !ok {
		l = &sync.Mutex{}
		s.planLocks[planID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Current returns the current plan through the one shared tie-break
// accessor: latest created_at among active plans, ErrNoActivePlan otherwise.
func (s *Service) Current(ctx context.Context) (MealPlan, error) {
	h, err := s.households.Current(ctx)
	if err != nil {
		return MealPlan{}, err
	}
	return s.store.Current(ctx, h.ID)
}

// Get returns a plan by id.
func (s *Service) Get(ctx context.Context, planID int64) (MealPlan, error) {
	return s.store.Get(ctx, planID)
}

// List returns all plans for the current household.
func (s *Service) List(ctx context.Context) ([]MealPlan, error) {
	h, err := s.households.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListByHousehold(ctx, h.ID)
}

// resolve maps planID 0 to the current plan.
func (s *Service) resolve(ctx context.Context, planID int64) (MealPlan, error) {
	if planID == 0 {
		return s.Current(ctx)
	}
	return s.store.Get(ctx, planID)
}

// CreatePlan creates a plan from already-normalized meals, dedups them,
// activates the new plan, and synthesizes its grocery list.
func (s *Service) CreatePlan(ctx context.Context, name, specialNotes string, meals []meal.Meal) (MealPlan, error) {
	h, err := s.households.Current(ctx)
	if err != nil {
		return MealPlan{}, err
	}
	deduped, discarded := meal.Deduplicate(meals)
	if discarded > 0 {
		log.Printf("CreatePlan: discarded %d duplicate meals", discarded)
	}
	created, err := s.store.Create(ctx, MealPlan{
		HouseholdID:  h.ID,
		Name:         name,
		SpecialNotes: specialNotes,
		Meals:        deduped,
	})
	if err != nil {
		return MealPlan{}, err
	}
	if err := s.Activate(ctx, created.ID); err != nil {
		return MealPlan{}, err
	}
	created.IsActive = true
	s.resyncGroceries(ctx, created.ID, false)
	return created, nil
}

// AddMealOptions controls the optional parts of AddMeal.
type AddMealOptions struct {
	SkipGrocerySync bool
}

// AddMeal asks the collaborator for exactly one candidate of the given
// type and appends it to the plan. The plan is re-fetched fresh after the
// (slow) generation call so the append never acts on a stale snapshot. On
// generation failure the plan is left unmodified.
func (s *Service) AddMeal(ctx context.Context, planID int64, mealType meal.Category, preferences string, opts AddMealOptions) (meal.Meal, error) {
	target, err := s.resolve(ctx, planID)
	if err != nil {
		return meal.Meal{}, err
	}

	h, err := s.households.Current(ctx)
	if err != nil {
		return meal.Meal{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()
	candidate, err := s.generator.GenerateMeal(genCtx, h, mealType, preferences)
	if err != nil {
		return meal.Meal{}, err
	}
	candidate = meal.EnsureID(candidate)

	unlock := s.lockPlan(target.ID)
	defer unlock()

	fresh, err := s.store.Get(ctx, target.ID)
	if err != nil {
		return meal.Meal{}, err
	}
	fresh.Meals = append(fresh.Meals, candidate)
	fresh.Meals, _ = meal.Deduplicate(fresh.Meals)
	if _, err := s.store.Update(ctx, fresh); err != nil {
		return meal.Meal{}, err
	}

	if !opts.SkipGrocerySync {
		s.resyncGroceries(ctx, target.ID, true)
	}
	return candidate, nil
}

// AddClippedMeal appends an already-normalized meal (e.g. from the recipe
// clipper) under the same dedup and grocery-sync path as AddMeal.
func (s *Service) AddClippedMeal(ctx context.Context, planID int64, m meal.Meal) (meal.Meal, error) {
	target, err := s.resolve(ctx, planID)
	if err != nil {
		return meal.Meal{}, err
	}
	m = meal.EnsureID(m)

	unlock := s.lockPlan(target.ID)
	defer unlock()

	fresh, err := s.store.Get(ctx, target.ID)
	if err != nil {
		return meal.Meal{}, err
	}
	fresh.Meals = append(fresh.Meals, m)
	fresh.Meals, _ = meal.Deduplicate(fresh.Meals)
	if _, err := s.store.Update(ctx, fresh); err != nil {
		return meal.Meal{}, err
	}
	s.resyncGroceries(ctx, target.ID, true)
	return m, nil
}

// RemoveMeal filters the meal with the given id out of the plan. Ids are
// normalized over the whole collection first; older data may predate id
// assignment.
func (s *Service) RemoveMeal(ctx context.Context, planID int64, mealID string) error {
	target, err := s.resolve(ctx, planID)
	if err != nil {
		return err
	}

	unlock := s.lockPlan(target.ID)
	defer unlock()

	fresh, err := s.store.Get(ctx, target.ID)
	if err != nil {
		return err
	}

	normalized, _ := meal.Deduplicate(fresh.Meals)
	filtered := make([]meal.Meal, 0, len(normalized))
	found := false
	for _, m := range normalized {
		if m.ID == mealID {
			found = true
			continue
		}
		filtered = append(filtered, m)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrMealNotFound, mealID)
	}

	fresh.Meals = filtered
	if _, err := s.store.Update(ctx, fresh); err != nil {
		return err
	}
	s.resyncGroceries(ctx, target.ID, false)
	return nil
}

// ReplaceMeal swaps a meal's content for a freshly generated one of the
// same category while keeping its id and position, so grocery
// cross-references and UI list positions stay stable.
func (s *Service) ReplaceMeal(ctx context.Context, planID int64, mealID string) (meal.Meal, error) {
	target, err := s.resolve(ctx, planID)
	if err != nil {
		return meal.Meal{}, err
	}

	normalized, _ := meal.Deduplicate(target.Meals)
	idx := meal.FindByID(normalized, mealID)
	if idx < 0 {
		return meal.Meal{}, fmt.Errorf("%w: %s", ErrMealNotFound, mealID)
	}
	original := normalized[idx]

	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()
	replacement, err := s.generator.ReplaceMeal(genCtx, original)
	if err != nil {
		return meal.Meal{}, err
	}
	// Identity preservation: content changes, identity does not.
	replacement.ID = original.ID
	if replacement.Category == "" {
		replacement.Category = original.Category
	}

	unlock := s.lockPlan(target.ID)
	defer unlock()

	fresh, err := s.store.Get(ctx, target.ID)
	if err != nil {
		return meal.Meal{}, err
	}
	fresh.Meals, _ = meal.Deduplicate(fresh.Meals)
	freshIdx := meal.FindByID(fresh.Meals, mealID)
	if freshIdx < 0 {
		return meal.Meal{}, fmt.Errorf("%w: %s", ErrMealNotFound, mealID)
	}
	fresh.Meals[freshIdx] = replacement
	if _, err := s.store.Update(ctx, fresh); err != nil {
		return meal.Meal{}, err
	}
	s.resyncGroceries(ctx, target.ID, false)
	return replacement, nil
}

// ModifyMealOptions controls the optional parts of ModifyMeal.
type ModifyMealOptions struct {
	RegenerateGroceries bool
}

// ModifyMeal applies a free-text change request to a meal. The result
// keeps the input's id. When planID is non-zero the plan's copy is updated
// by id; a grocery resync failure never rolls back the meal change.
func (s *Service) ModifyMeal(ctx context.Context, planID int64, m meal.Meal, changeRequest string, opts ModifyMealOptions) (meal.Meal, error) {
	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()
	modified, err := s.generator.ModifyMeal(genCtx, m, changeRequest)
	if err != nil {
		return meal.Meal{}, err
	}
	modified.ID = m.ID

	if planID != 0 {
		unlock := s.lockPlan(planID)
		fresh, err := s.store.Get(ctx, planID)
		if err != nil {
			unlock()
			return meal.Meal{}, err
		}
		fresh.Meals, _ = meal.Deduplicate(fresh.Meals)
		if idx := meal.FindByID(fresh.Meals, m.ID); idx >= 0 {
			fresh.Meals[idx] = modified
			if _, err := s.store.Update(ctx, fresh); err != nil {
				unlock()
				return meal.Meal{}, err
			}
		} else {
			log.Printf("ModifyMeal: meal %s not present in plan %d; returning modified meal only", m.ID, planID)
		}
		unlock()

		if opts.RegenerateGroceries {
			s.resyncGroceries(ctx, planID, false)
		}
	}
	return modified, nil
}

// UpdatePlanOptions controls snapshot persistence.
type UpdatePlanOptions struct {
	// BaseVersion is the updatedAt the client based its snapshot on. Zero
	// keeps the original last-write-wins behavior, a documented
	// consistency gap.
	BaseVersion time.Time
	// RegenerateGroceries must be requested explicitly: snapshot edits are
	// high-frequency and each regeneration is a rate-limited collaborator
	// call.
	RegenerateGroceries bool
}

// UpdatePlan persists an authoritative client snapshot of the meal list.
func (s *Service) UpdatePlan(ctx context.Context, planID int64, meals []meal.Meal, opts UpdatePlanOptions) (MealPlan, error) {
	target, err := s.resolve(ctx, planID)
	if err != nil {
		return MealPlan{}, err
	}

	unlock := s.lockPlan(target.ID)
	defer unlock()

	fresh, err := s.store.Get(ctx, target.ID)
	if err != nil {
		return MealPlan{}, err
	}
	if !opts.BaseVersion.IsZero() && !fresh.UpdatedAt.Equal(opts.BaseVersion) {
		return MealPlan{}, ErrStaleSnapshot
	}

	deduped, discarded := meal.Deduplicate(meals)
	if discarded > 0 {
		log.Printf("UpdatePlan: discarded %d duplicate meals from snapshot for plan %d", discarded, fresh.ID)
	}
	fresh.Meals = deduped
	updated, err := s.store.Update(ctx, fresh)
	if err != nil {
		return MealPlan{}, err
	}

	if opts.RegenerateGroceries {
		s.resyncGroceries(ctx, fresh.ID, false)
	}
	return updated, nil
}

// ResetPlan empties the plan's meals, re-activates it, and clears its
// grocery sections. Resetting an already-empty plan only bumps updatedAt.
func (s *Service) ResetPlan(ctx context.Context, planID int64) (MealPlan, error) {
	target, err := s.resolve(ctx, planID)
	if err != nil {
		return MealPlan{}, err
	}

	unlock := s.lockPlan(target.ID)
	fresh, err := s.store.Get(ctx, target.ID)
	if err != nil {
		unlock()
		return MealPlan{}, err
	}
	fresh.Meals = []meal.Meal{}
	updated, err := s.store.Update(ctx, fresh)
	if err != nil {
		unlock()
		return MealPlan{}, err
	}
	unlock()

	if err := s.Activate(ctx, target.ID); err != nil {
		return MealPlan{}, err
	}
	updated.IsActive = true

	if err := s.groceries.Clear(ctx, target.ID); err != nil {
		log.Printf("Warning: failed to clear grocery list for plan %d: %v", target.ID, err)
	}
	return updated, nil
}

// Activate makes the target plan the single active plan for its household.
// Already-inactive siblings are skipped to avoid redundant writes.
func (s *Service) Activate(ctx context.Context, planID int64) error {
	s.activateMu.Lock()
	defer s.activateMu.Unlock()

	target, err := s.store.Get(ctx, planID)
	if err != nil {
		return err
	}
	siblings, err := s.store.ListByHousehold(ctx, target.HouseholdID)
	if err != nil {
		return err
	}
	for _, p := range siblings {
		if p.ID == planID || !p.IsActive {
			continue
		}
		if err := s.store.SetActive(ctx, p.ID, false); err != nil {
			return fmt.Errorf("failed to deactivate plan %d: %w", p.ID, err)
		}
	}
	return s.store.SetActive(ctx, planID, true)
}

// resyncGroceries is the post-operation consistency step. Its failures are
// logged and reported nowhere else: a successful primary mutation with a
// stale derived list beats rolling back a change the user already saw.
func (s *Service) resyncGroceries(ctx context.Context, planID int64, preserveExisting bool) {
	if err := s.groceries.Resync(ctx, planID, preserveExisting); err != nil {
		log.Printf("Warning: grocery resync failed for plan %d: %v", planID, err)
	}
}
