package generation

import (
	"bytes"
	"context"
	"encoding/json"
	_ "embed"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"meal-assistant/internal/grocery"
	"meal-assistant/internal/household"
	"meal-assistant/internal/llm"
	"meal-assistant/internal/meal"
	"meal-assistant/internal/shared"
)

//go:embed generate_plan_prompt.md
var generatePlanPrompt string

//go:embed generate_meal_prompt.md
var generateMealPrompt string

//go:embed grocery_prompt.md
var groceryPrompt string

//go:embed modify_meal_prompt.md
var modifyMealPrompt string

//go:embed replace_meal_prompt.md
var replaceMealPrompt string

// Recorder receives token-usage metadata for every collaborator call.
type Recorder interface {
	RecordMeta(meta shared.CallMeta) error
}

// Service is the language-model generation collaborator. Every response
// passes through meal normalization before anything downstream sees it.
type Service struct {
	textGen  llm.TextGenerator
	recorder Recorder
}

// NewService creates a new generation Service. recorder may be nil.
func NewService(textGen llm.TextGenerator, recorder Recorder) *Service {
	return &Service{textGen: textGen, recorder: recorder}
}

type planPromptData struct {
	Household    householdSummary
	Request      string
	MealCount    int
	Categories   []meal.Category
	SpecialNotes string
}

type mealPromptData struct {
	Household   householdSummary
	MealType    meal.Category
	Preferences string
}

type mealJSONPromptData struct {
	MealJSON      string
	ChangeRequest string
	Category      meal.Category
}

type groceryPromptData struct {
	MealsJSON string
}

type householdSummary struct {
	Members      []household.Member
	CookingSkill int
	Preferences  string
	Appliances   []string
	Location     string
}

func summarize(h household.Household) householdSummary {
	return householdSummary{
		Members:      h.Members,
		CookingSkill: h.CookingSkill,
		Preferences:  h.Preferences,
		Appliances:   h.Appliances,
		Location:     h.Location,
	}
}

// GenerateMeals builds a full set of candidate meals for a plan.
func (s *Service) GenerateMeals(ctx context.Context, h household.Household, request string, count int) ([]meal.Meal, error) {
	if count <= 0 {
		count = 7
	}
	prompt, err := buildPrompt("plan", generatePlanPrompt, planPromptData{
		Household:  summarize(h),
		Request:    request,
		MealCount:  count,
		Categories: meal.Categories(),
	})
	if err != nil {
		return nil, err
	}

	content, err := s.call(ctx, "GenerateMeals", prompt)
	if err != nil {
		return nil, err
	}

	meals, err := meal.NormalizeListJSON([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated meals: %w. Response: %s", err, content)
	}
	return meals, nil
}

// GenerateMeal asks for exactly one candidate meal of the given type.
func (s *Service) GenerateMeal(ctx context.Context, h household.Household, mealType meal.Category, preferences string) (meal.Meal, error) {
	prompt, err := buildPrompt("meal", generateMealPrompt, mealPromptData{
		Household:   summarize(h),
		MealType:    mealType,
		Preferences: preferences,
	})
	if err != nil {
		return meal.Meal{}, err
	}

	content, err := s.call(ctx, "GenerateMeal", prompt)
	if err != nil {
		return meal.Meal{}, err
	}

	m, err := meal.NormalizeJSON([]byte(content))
	if err != nil {
		return meal.Meal{}, fmt.Errorf("failed to parse generated meal: %w. Response: %s", err, content)
	}
	if m.Category == "" {
		m.Category = mealType
	}
	return m, nil
}

// ReplaceMeal asks for a different meal preserving the original's category.
func (s *Service) ReplaceMeal(ctx context.Context, original meal.Meal) (meal.Meal, error) {
	mealJSON, err := json.MarshalIndent(original, "", "  ")
	if err != nil {
		return meal.Meal{}, fmt.Errorf("failed to marshal meal: %w", err)
	}
	prompt, err := buildPrompt("replace", replaceMealPrompt, mealJSONPromptData{
		MealJSON: string(mealJSON),
		Category: original.Category,
	})
	if err != nil {
		return meal.Meal{}, err
	}

	content, err := s.call(ctx, "ReplaceMeal", prompt)
	if err != nil {
		return meal.Meal{}, err
	}

	m, err := meal.NormalizeJSON([]byte(content))
	if err != nil {
		return meal.Meal{}, fmt.Errorf("failed to parse replacement meal: %w. Response: %s", err, content)
	}
	return m, nil
}

// ModifyMeal applies a free-text change request to an existing meal.
func (s *Service) ModifyMeal(ctx context.Context, m meal.Meal, changeRequest string) (meal.Meal, error) {
	mealJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return meal.Meal{}, fmt.Errorf("failed to marshal meal: %w", err)
	}
	prompt, err := buildPrompt("modify", modifyMealPrompt, mealJSONPromptData{
		MealJSON:      string(mealJSON),
		ChangeRequest: changeRequest,
	})
	if err != nil {
		return meal.Meal{}, err
	}

	content, err := s.call(ctx, "ModifyMeal", prompt)
	if err != nil {
		return meal.Meal{}, err
	}

	modified, err := meal.NormalizeJSON([]byte(content))
	if err != nil {
		return meal.Meal{}, fmt.Errorf("failed to parse modified meal: %w. Response: %s", err, content)
	}
	return modified, nil
}

// GenerateGrocerySections turns a set of meals into a section breakdown.
func (s *Service) GenerateGrocerySections(ctx context.Context, meals []meal.Meal) ([]grocery.Section, error) {
	type promptMeal struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Servings    int      `json:"servings,omitempty"`
		Ingredients []string `json:"ingredients"`
	}
	promptMeals := make([]promptMeal, len(meals))
	for i, m := range meals {
		promptMeals[i] = promptMeal{ID: m.ID, Name: m.Name, Servings: m.Servings, Ingredients: m.Ingredients}
	}
	mealsJSON, err := json.MarshalIndent(promptMeals, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meals: %w", err)
	}

	prompt, err := buildPrompt("grocery", groceryPrompt, groceryPromptData{MealsJSON: string(mealsJSON)})
	if err != nil {
		return nil, err
	}

	content, err := s.call(ctx, "GenerateGroceryList", prompt)
	if err != nil {
		return nil, err
	}

	var rawSections []struct {
		Name  string `json:"name"`
		Items []struct {
			Name     string `json:"name"`
			Quantity string `json:"quantity"`
			MealID   string `json:"mealId"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(content), &rawSections); err != nil {
		return nil, fmt.Errorf("failed to parse grocery sections: %w. Response: %s", err, content)
	}

	sections := make([]grocery.Section, 0, len(rawSections))
	for _, rs := range rawSections {
		sec := grocery.Section{Name: rs.Name, Items: []grocery.Item{}}
		for _, ri := range rs.Items {
			if strings.TrimSpace(ri.Name) == "" {
				continue
			}
			sec.Items = append(sec.Items, grocery.Item{
				Name:     ri.Name,
				Quantity: ri.Quantity,
				MealID:   ri.MealID,
			})
		}
		sections = append(sections, sec)
	}
	return sections, nil
}

// call runs one collaborator request, records its usage, strips markdown
// fences, and classifies failures.
func (s *Service) call(ctx context.Context, operation, prompt string) (string, error) {
	start := time.Now()
	resp, err := s.textGen.GenerateContent(ctx, prompt)
	s.record(operation, resp.Usage, time.Since(start))
	if err != nil {
		return "", classify(err)
	}
	return stripCodeFences(resp.Content), nil
}

func (s *Service) record(operation string, usage shared.TokenUsage, latency time.Duration) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.RecordMeta(shared.CallMeta{
		Operation: operation,
		Usage:     usage,
		Latency:   latency,
	})
	if err != nil {
		log.Printf("Warning: failed to record metrics for %s: %v", operation, err)
	}
}

func buildPrompt(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s prompt template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// stripCodeFences tolerates models wrapping JSON in markdown blocks even
// when asked not to.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
