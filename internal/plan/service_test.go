package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"meal-assistant/internal/household"
	"meal-assistant/internal/meal"
)

// memStore is an in-memory Store with the same clone-on-read contract as
// the sqlite repository.
type memStore struct {
	mu     sync.Mutex
	plans  map[int64]MealPlan
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{plans: make(map[int64]MealPlan), nextID: 1}
}

func (s *memStore) Get(_ context.Context, id int64) (MealPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return MealPlan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}
	return p.Clone(), nil
}

func (s *memStore) Current(_ context.Context, householdID int64) (MealPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *MealPlan
	for id := range s.plans {
		p := s.plans[id]
		if p.HouseholdID != householdID || !p.IsActive {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID > best.ID) {
			cp := p
			best = &cp
		}
	}
	if best == nil {
		return MealPlan{}, ErrNoActivePlan
	}
	return best.Clone(), nil
}

func (s *memStore) Create(_ context.Context, p MealPlan) (MealPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = p.Clone()
	p.ID = s.nextID
	s.nextID++
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.plans[p.ID] = p
	return p.Clone(), nil
}

func (s *memStore) Update(_ context.Context, p MealPlan) (MealPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.plans[p.ID]
	if !ok {
		return MealPlan{}, fmt.Errorf("%w: %d", ErrPlanNotFound, p.ID)
	}
	updated := p.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.IsActive = existing.IsActive
	updated.UpdatedAt = time.Now()
	if !updated.UpdatedAt.After(existing.UpdatedAt) {
		updated.UpdatedAt = existing.UpdatedAt.Add(time.Nanosecond)
	}
	s.plans[p.ID] = updated
	return updated.Clone(), nil
}

func (s *memStore) ListByHousehold(_ context.Context, householdID int64) ([]MealPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MealPlan
	for _, p := range s.plans {
		if p.HouseholdID == householdID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *memStore) SetActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPlanNotFound, id)
	}
	p.IsActive = active
	s.plans[id] = p
	return nil
}

type syncCall struct {
	planID   int64
	preserve bool
}

// recordingSyncer records Resync and Clear calls.
type recordingSyncer struct {
	mu      sync.Mutex
	resyncs []syncCall
	clears  []int64
	err     error
}

func (r *recordingSyncer) Resync(_ context.Context, planID int64, preserveExisting bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncs = append(r.resyncs, syncCall{planID, preserveExisting})
	return r.err
}

func (r *recordingSyncer) Clear(_ context.Context, planID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears = append(r.clears, planID)
	return r.err
}

func (r *recordingSyncer) lastResync(t *testing.T) syncCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.resyncs) == 0 {
		t.Fatal("expected at least one grocery resync")
	}
	return r.resyncs[len(r.resyncs)-1]
}

// stubGenerator returns canned meals and counts calls.
type stubGenerator struct {
	mu       sync.Mutex
	calls    int
	generate func(n int) meal.Meal
	replace  func(m meal.Meal) meal.Meal
	modify   func(m meal.Meal, req string) meal.Meal
	err      error
}

func (g *stubGenerator) GenerateMeal(_ context.Context, _ household.Household, mealType meal.Category, _ string) (meal.Meal, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if g.err != nil {
		return meal.Meal{}, g.err
	}
	if g.generate != nil {
		return g.generate(n), nil
	}
	return meal.Meal{Name: fmt.Sprintf("Generated %d", n), Category: mealType}, nil
}

func (g *stubGenerator) ReplaceMeal(_ context.Context, m meal.Meal) (meal.Meal, error) {
	if g.err != nil {
		return meal.Meal{}, g.err
	}
	if g.replace != nil {
		return g.replace(m), nil
	}
	return meal.Meal{Name: "Replacement for " + m.Name, Category: m.Category}, nil
}

func (g *stubGenerator) ModifyMeal(_ context.Context, m meal.Meal, changeRequest string) (meal.Meal, error) {
	if g.err != nil {
		return meal.Meal{}, g.err
	}
	if g.modify != nil {
		return g.modify(m, changeRequest), nil
	}
	out := m.Clone()
	out.Description = changeRequest
	return out, nil
}

type stubHouseholds struct{}

func (stubHouseholds) Current(context.Context) (household.Household, error) {
	return household.Household{ID: 1}, nil
}

func newTestService() (*Service, *memStore, *recordingSyncer, *stubGenerator) {
	store := newMemStore()
	syncer := &recordingSyncer{}
	gen := &stubGenerator{}
	svc := NewService(store, syncer, gen, stubHouseholds{})
	return svc, store, syncer, gen
}

func seedPlan(t *testing.T, svc *Service, meals ...meal.Meal) MealPlan {
	t.Helper()
	p, err := svc.CreatePlan(context.Background(), "Test Week", "", meals)
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	return p
}

func TestCreatePlanActivatesAndDedups(t *testing.T) {
	svc, store, syncer, _ := newTestService()
	ctx := context.Background()

	first := seedPlan(t, svc, meal.Meal{ID: "m1", Name: "Tacos"})
	second := seedPlan(t, svc,
		meal.Meal{ID: "m1", Name: "Tacos"},
		meal.Meal{ID: "m1", Name: "Tacos again"},
		meal.Meal{ID: "m2", Name: "Soup"},
	)

	if len(second.Meals) != 2 {
		t.Fatalf("expected duplicates collapsed to 2 meals, got %d", len(second.Meals))
	}
	if second.Meals[0].Name != "Tacos" {
		t.Errorf("expected first occurrence to win, got %q", second.Meals[0].Name)
	}

	// Creating the second plan must deactivate the first.
	got, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.IsActive {
		t.Error("previous plan still active after creating a new one")
	}
	current, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if current.ID != second.ID {
		t.Errorf("current plan = %d, want %d", current.ID, second.ID)
	}

	if call := syncer.lastResync(t); call.planID != second.ID || call.preserve {
		t.Errorf("expected full resync of plan %d, got %+v", second.ID, call)
	}
}

func TestCurrentWithoutActivePlan(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.Current(context.Background()); !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("expected ErrNoActivePlan, got %v", err)
	}
}

func TestAddMealAppendsAndResyncs(t *testing.T) {
	svc, store, syncer, _ := newTestService()
	ctx := context.Background()
	p := seedPlan(t, svc, meal.Meal{ID: "m1", Name: "Tacos"})

	added, err := svc.AddMeal(ctx, p.ID, meal.CategoryQuickEasy, "something fast", AddMealOptions{})
	if err != nil {
		t.Fatalf("AddMeal failed: %v", err)
	}
	if added.ID == "" {
		t.Error("added meal has no id")
	}
	if added.Category != meal.CategoryQuickEasy {
		t.Errorf("added meal category = %q", added.Category)
	}

	got, _ := store.Get(ctx, p.ID)
	if len(got.Meals) != 2 {
		t.Fatalf("plan has %d meals, want 2", len(got.Meals))
	}
	if call := syncer.lastResync(t); !call.preserve {
		t.Error("AddMeal resync must preserve existing grocery items")
	}
}

func TestAddMealSkipGrocerySync(t *testing.T) {
	svc, _, syncer, _ := newTestService()
	ctx := context.Background()
	p := seedPlan(t, svc)
	before := len(syncer.resyncs)

	if _, err := svc.AddMeal(ctx, p.ID, meal.CategoryWeeknight, "", AddMealOptions{SkipGrocerySync: true}); err != nil {
		t.Fatalf("AddMeal failed: %v", err)
	}
	if len(syncer.resyncs) != before {
		t.Error("AddMeal resynced groceries despite SkipGrocerySync")
	}
}

func TestAddMealGenerationFailureLeavesPlanUntouched(t *testing.T) {
	svc, store, _, gen := newTestService()
	ctx := context.Background()
	p := seedPlan(t, svc, meal.Meal{ID: "m1", Name: "Tacos"})
	gen.err = errors.New("model unavailable")

	if _, err := svc.AddMeal(ctx, p.ID, meal.CategoryBatch, "", AddMealOptions{}); err == nil {
		t.Fatal("expected generation error")
	}
	got, _ := store.Get(ctx, p.ID)
	if len(got.Meals) != 1 {
		t.Fatalf("plan mutated on generation failure: %d meals", len(got.Meals))
	}
}

func TestConcurrentAddMeal(t *testing.T) {
	svc, store, _, gen := newTestService()
	ctx := context.Background()
	gen.generate = func(n int) meal.Meal {
		return meal.Meal{Name: fmt.Sprintf("Concurrent %d", n)}
	}
	p := seedPlan(t, svc)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddMeal(ctx, p.ID, meal.CategoryWeeknight, "", AddMealOptions{}); err != nil {
				t.Errorf("AddMeal failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, p.ID)
	if len(got.Meals) != 2 {
		t.Fatalf("expected both concurrent adds to land, got %d meals", len(got.Meals))
	}
	if got.Meals[0].ID == got.Meals[1].ID {
		t.Errorf("concurrent adds share id %q", got.Meals[0].ID)
	}
}

func TestRemoveMeal(t *testing.T) {
	svc, store, syncer, _ := newTestService()
	ctx := context.Background()
	p := seedPlan(t, svc,
		meal.Meal{ID: "m1", Name: "Tacos"},
		meal.Meal{ID: "m2", Name: "Soup"},
	)

	if err := svc.RemoveMeal(ctx, p.ID, "m1"); err != nil {
		t.Fatalf("RemoveMeal failed: %v", err)
	}
	got, _ := store.Get(ctx, p.ID)
	if len(got.Meals) != 1 || got.Meals[0].ID != "m2" {
		t.Fatalf("unexpected meals after removal: %+v", got.Meals)
	}
	if call := syncer.lastResync(t); call.preserve {
		t.Error("RemoveMeal must rebuild the grocery list, not preserve it")
	}

	if err := svc.RemoveMeal(ctx, p.ID, "missing"); !errors.Is(err, ErrMealNotFound) {
		t.Fatalf("expected ErrMealNotFound, got %v", err)
	}
}

func TestReplaceMealPreservesIdentity(t *testing.T) {
	svc, store, _, gen := newTestService()
	ctx := context.Background()
	gen.replace = func(meal.Meal) meal.Meal {
		// No id and no category: both must be restored from the original.
		return meal.Meal{Name: "Stew"}
	}
	p := seedPlan(t, svc,
		meal.Meal{ID: "m1", Name: "Tacos", Category: meal.CategoryQuickEasy},
		meal.Meal{ID: "m2", Name: "Soup", Category: meal.CategoryBatch},
	)

	replaced, err := svc.ReplaceMeal(ctx, p.ID, "m2")
	if err != nil {
		t.Fatalf("ReplaceMeal failed: %v", err)
	}
	if replaced.ID != "m2" {
		t.Errorf("replacement id = %q, want m2", replaced.ID)
	}
	if replaced.Name != "Stew" {
		t.Errorf("replacement name = %q, want Stew", replaced.Name)
	}
	if replaced.Category != meal.CategoryBatch {
		t.Errorf("replacement category = %q, want original", replaced.Category)
	}

	got, _ := store.Get(ctx, p.ID)
	if len(got.Meals) != 2 || got.Meals[1].ID != "m2" || got.Meals[1].Name != "Stew" {
		t.Fatalf("plan meals after replace: %+v", got.Meals)
	}
	// Position is stable too.
	if got.Meals[0].ID != "m1" {
		t.Errorf("replace disturbed sibling order: %+v", got.Meals)
	}
}

func TestModifyMealPreservesIdentity(t *testing.T) {
	svc, store, syncer, _ := newTestService()
	ctx := context.Background()
	p := seedPlan(t, svc, meal.Meal{ID: "m1", Name: "Tacos"})
	before := len(syncer.resyncs)

	modified, err := svc.ModifyMeal(ctx, p.ID, p.Meals[0], "make it vegetarian", ModifyMealOptions{})
	if err != nil {
		t.Fatalf("ModifyMeal failed: %v", err)
	}
	if modified.ID != "m1" {
		t.Errorf("modified id = %q, want m1", modified.ID)
	}
	if modified.Description != "make it vegetarian" {
		t.Errorf("modified description = %q", modified.Description)
	}

	got, _ := store.Get(ctx, p.ID)
	if got.Meals[0].Description != "make it vegetarian" {
		t.Error("plan copy not updated with modified meal")
	}
	if len(syncer.resyncs) != before {
		t.Error("ModifyMeal resynced groceries without RegenerateGroceries")
	}

	if _, err := svc.ModifyMeal(ctx, p.ID, p.Meals[0], "again", ModifyMealOptions{RegenerateGroceries: true}); err != nil {
		t.Fatalf("ModifyMeal failed: %v", err)
	}
	if len(syncer.resyncs) != before+1 {
		t.Error("expected a grocery resync with RegenerateGroceries set")
	}
}

func TestUpdatePlanStaleSnapshot(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	p := seedPlan(t, svc, meal.Meal{ID: "m1", Name: "Tacos"})

	// First writer wins.
	updated, err := svc.UpdatePlan(ctx, p.ID, []meal.Meal{{ID: "m1", Name: "Tacos"}, {ID: "m2", Name: "Soup"}},
		UpdatePlanOptions{BaseVersion: p.UpdatedAt})
	if err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}

	// Second writer based on the old snapshot is rejected.
	_, err = svc.UpdatePlan(ctx, p.ID, []meal.Meal{{ID: "m3", Name: "Pizza"}},
		UpdatePlanOptions{BaseVersion: p.UpdatedAt})
	if !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}

	// A zero base version keeps last-write-wins for legacy clients.
	lastWrite, err := svc.UpdatePlan(ctx, p.ID, []meal.Meal{{ID: "m3", Name: "Pizza"}}, UpdatePlanOptions{})
	if err != nil {
		t.Fatalf("UpdatePlan without base version failed: %v", err)
	}
	if len(lastWrite.Meals) != 1 || lastWrite.Meals[0].ID != "m3" {
		t.Fatalf("unexpected meals after last-write-wins update: %+v", lastWrite.Meals)
	}
	if len(updated.Meals) != 2 {
		t.Fatalf("first update lost meals: %+v", updated.Meals)
	}
}

func TestUpdatePlanDedupsSnapshot(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	p := seedPlan(t, svc)

	updated, err := svc.UpdatePlan(ctx, p.ID, []meal.Meal{
		{ID: "m1", Name: "Tacos"},
		{ID: "m1", Name: "Tacos copy"},
	}, UpdatePlanOptions{})
	if err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}
	if len(updated.Meals) != 1 {
		t.Fatalf("snapshot duplicates not collapsed: %+v", updated.Meals)
	}
}

func TestResetPlan(t *testing.T) {
	svc, store, syncer, _ := newTestService()
	ctx := context.Background()
	old := seedPlan(t, svc, meal.Meal{ID: "m1", Name: "Tacos"})
	other := seedPlan(t, svc, meal.Meal{ID: "m2", Name: "Soup"})

	reset, err := svc.ResetPlan(ctx, old.ID)
	if err != nil {
		t.Fatalf("ResetPlan failed: %v", err)
	}
	if len(reset.Meals) != 0 {
		t.Errorf("reset plan still has meals: %+v", reset.Meals)
	}
	if !reset.IsActive {
		t.Error("reset plan is not active")
	}

	sibling, _ := store.Get(ctx, other.ID)
	if sibling.IsActive {
		t.Error("sibling plan still active after reset re-activation")
	}

	syncer.mu.Lock()
	cleared := len(syncer.clears) > 0 && syncer.clears[len(syncer.clears)-1] == old.ID
	syncer.mu.Unlock()
	if !cleared {
		t.Error("ResetPlan did not clear the plan's grocery list")
	}
}

func TestResyncFailureDoesNotRollBack(t *testing.T) {
	svc, store, syncer, _ := newTestService()
	ctx := context.Background()
	p := seedPlan(t, svc,
		meal.Meal{ID: "m1", Name: "Tacos"},
		meal.Meal{ID: "m2", Name: "Soup"},
	)
	syncer.err = errors.New("grocery backend down")

	if err := svc.RemoveMeal(ctx, p.ID, "m1"); err != nil {
		t.Fatalf("RemoveMeal must succeed despite resync failure, got %v", err)
	}
	got, _ := store.Get(ctx, p.ID)
	if len(got.Meals) != 1 {
		t.Fatalf("primary mutation rolled back: %+v", got.Meals)
	}
}

func TestOperationsResolveCurrentPlan(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()
	seedPlan(t, svc, meal.Meal{ID: "m1", Name: "Tacos"})
	current := seedPlan(t, svc, meal.Meal{ID: "m2", Name: "Soup"})

	// Plan id 0 targets the current plan.
	if err := svc.RemoveMeal(ctx, 0, "m2"); err != nil {
		t.Fatalf("RemoveMeal on current plan failed: %v", err)
	}
	got, _ := store.Get(ctx, current.ID)
	if len(got.Meals) != 0 {
		t.Fatalf("current plan untouched: %+v", got.Meals)
	}
}
