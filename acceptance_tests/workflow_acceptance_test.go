package acceptance_tests

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"meal-assistant/internal/app"
	"meal-assistant/internal/config"
	"meal-assistant/internal/database"
	"meal-assistant/internal/grocery"
	"meal-assistant/internal/household"
	"meal-assistant/internal/llm"
	"meal-assistant/internal/meal"
	"meal-assistant/internal/plan"
	"meal-assistant/internal/shared"
)

// mockTextGen answers each prompt family with a canned JSON response. The
// grocery response is derived from which meal names appear in the prompt,
// so resyncs reflect the plan's actual contents.
type mockTextGen struct {
	calls int
}

func (m *mockTextGen) GenerateContent(_ context.Context, prompt string) (llm.ContentResponse, error) {
	m.calls++
	usage := shared.TokenUsage{PromptTokens: 100, CompletionTokens: 50, Model: "mock"}

	switch {
	case strings.Contains(prompt, "exactly ONE dinner meal"):
		return llm.ContentResponse{Content: `{
			"name": "Test Omelette",
			"description": "Fast eggs",
			"category": "Quick & Easy",
			"prepTime": 10,
			"servings": 2,
			"ingredients": ["6 eggs", "1 cup spinach"]
		}`, Usage: usage}, nil

	case strings.Contains(prompt, "Propose a DIFFERENT meal"):
		return llm.ContentResponse{Content: `{
			"name": "Test Stew",
			"description": "Slow beef stew",
			"category": "Batch Cooking",
			"prepTime": 90,
			"servings": 6,
			"ingredients": ["2 lbs beef", "4 carrots"]
		}`, Usage: usage}, nil

	case strings.Contains(prompt, "grocery planning assistant"):
		var sections []string
		if strings.Contains(prompt, "Test Tacos") {
			sections = append(sections, `{"name": "Bakery", "items": [{"name": "8 tortillas", "quantity": "1 pack", "mealId": ""}]}`)
		}
		if strings.Contains(prompt, "Test Soup") {
			sections = append(sections, `{"name": "Produce", "items": [{"name": "4 carrots", "quantity": "1 bag", "mealId": ""}]}`)
		}
		if strings.Contains(prompt, "Test Stew") {
			sections = append(sections, `{"name": "Meat & Seafood", "items": [{"name": "2 lbs beef", "quantity": "", "mealId": ""}]}`)
		}
		return llm.ContentResponse{Content: "[" + strings.Join(sections, ",") + "]", Usage: usage}, nil

	default:
		// Full plan request.
		return llm.ContentResponse{Content: `[
			{"name": "Test Tacos", "category": "Quick & Easy", "prepTime": 15, "servings": 4, "ingredients": ["8 tortillas"]},
			{"name": "Test Soup", "category": "Batch Cooking", "prepTime": 40, "servings": 6, "ingredients": ["4 carrots"]}
		]`, Usage: usage}, nil
	}
}

func listItemNames(l grocery.List) []string {
	var names []string
	for _, s := range l.Sections {
		for _, it := range s.Items {
			names = append(names, it.Name)
		}
	}
	return names
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "acceptance.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	cfg := &config.Config{AdminSecret: "test", DatabasePath: "unused"}
	textGen := &mockTextGen{}
	a := app.New(cfg, db, textGen)

	// 1. Onboard the household.
	members := []household.Member{{ID: "p1", Name: "Alex", DietaryRestrictions: []string{"vegetarian"}}}
	skill := 2
	if _, err := a.Households.Update(ctx, household.Patch{Members: &members, CookingSkill: &skill}); err != nil {
		t.Fatalf("Failed to update household: %v", err)
	}

	// 2. Generate a plan; it becomes current and gets a grocery list.
	p, err := a.GeneratePlan(ctx, "quick dinners this week")
	if err != nil {
		t.Fatalf("GeneratePlan failed: %v", err)
	}
	if len(p.Meals) != 2 {
		t.Fatalf("plan has %d meals, want 2", len(p.Meals))
	}
	for _, m := range p.Meals {
		if m.ID == "" {
			t.Fatalf("meal %q has no id", m.Name)
		}
	}

	current, err := a.Plans.Current(ctx)
	if err != nil {
		t.Fatalf("no current plan after generation: %v", err)
	}
	if current.ID != p.ID {
		t.Fatalf("current plan = %d, want %d", current.ID, p.ID)
	}

	list, err := a.Groceries.CurrentForPlan(ctx, p.ID)
	if err != nil {
		t.Fatalf("no grocery list after generation: %v", err)
	}
	names := listItemNames(list)
	if !contains(names, "8 tortillas") || !contains(names, "4 carrots") {
		t.Fatalf("grocery list incomplete: %v", names)
	}

	// 3. Remove a meal; the grocery list is rebuilt without its items.
	var soupID, tacosID string
	for _, m := range p.Meals {
		switch m.Name {
		case "Test Soup":
			soupID = m.ID
		case "Test Tacos":
			tacosID = m.ID
		}
	}
	if err := a.Plans.RemoveMeal(ctx, p.ID, soupID); err != nil {
		t.Fatalf("RemoveMeal failed: %v", err)
	}
	list, err = a.Groceries.CurrentForPlan(ctx, p.ID)
	if err != nil {
		t.Fatalf("grocery list missing after removal: %v", err)
	}
	names = listItemNames(list)
	if contains(names, "4 carrots") {
		t.Errorf("removed meal's items survived the rebuild: %v", names)
	}
	if !contains(names, "8 tortillas") {
		t.Errorf("remaining meal's items lost: %v", names)
	}

	// 4. Add a meal; its ingredients merge into the existing list.
	added, err := a.Plans.AddMeal(ctx, p.ID, meal.CategoryQuickEasy, "eggs", plan.AddMealOptions{})
	if err != nil {
		t.Fatalf("AddMeal failed: %v", err)
	}
	if added.Name != "Test Omelette" {
		t.Fatalf("added meal = %q", added.Name)
	}
	list, _ = a.Groceries.CurrentForPlan(ctx, p.ID)
	names = listItemNames(list)
	if !contains(names, "6 eggs") {
		t.Errorf("added meal's ingredients not merged: %v", names)
	}
	if !contains(names, "8 tortillas") {
		t.Errorf("merge dropped existing items: %v", names)
	}

	// 5. Replace a meal; identity survives, content changes.
	replaced, err := a.Plans.ReplaceMeal(ctx, p.ID, tacosID)
	if err != nil {
		t.Fatalf("ReplaceMeal failed: %v", err)
	}
	if replaced.ID != tacosID {
		t.Errorf("replacement id = %q, want %q", replaced.ID, tacosID)
	}
	if replaced.Name != "Test Stew" {
		t.Errorf("replacement name = %q", replaced.Name)
	}

	// 6. Reset the household; profile and transcript are wiped, plans stay.
	if _, err := a.Chat.Append(ctx, "user", "hello"); err != nil {
		t.Fatalf("Failed to append chat message: %v", err)
	}
	result, err := a.ResetHousehold(ctx)
	if err != nil {
		t.Fatalf("ResetHousehold failed: %v", err)
	}
	if !result.ClearClientCaches {
		t.Error("reset must tell clients to drop caches")
	}
	h, _ := a.Households.Current(ctx)
	if len(h.Members) != 0 || h.OnboardingComplete {
		t.Errorf("household not blanked: %+v", h)
	}
	messages, _ := a.Chat.List(ctx)
	if len(messages) != 0 {
		t.Errorf("chat transcript survived reset: %d messages", len(messages))
	}
	if _, err := a.Plans.Get(ctx, p.ID); err != nil {
		t.Errorf("plans should survive a household reset: %v", err)
	}
}
