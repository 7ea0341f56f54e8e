package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"meal-assistant/internal/chat"
	"meal-assistant/internal/clipper"
	"meal-assistant/internal/config"
	"meal-assistant/internal/database"
	"meal-assistant/internal/generation"
	"meal-assistant/internal/grocery"
	"meal-assistant/internal/household"
	"meal-assistant/internal/llm"
	"meal-assistant/internal/meal"
	"meal-assistant/internal/metrics"
	"meal-assistant/internal/plan"
)

const planGenerationTimeout = 2 * time.Minute

// App holds the application's dependencies.
type App struct {
	Cfg        *config.Config
	DB         *database.DB
	Households *household.Repository
	Plans      *plan.Service
	Groceries  *grocery.Synthesizer
	Chat       *chat.Repository
	Metrics    *metrics.Store
	Generator  *generation.Service
	Clipper    *clipper.Clipper
}

// New wires the full application on top of an open database and a text
// generator.
func New(cfg *config.Config, db *database.DB, textGen llm.TextGenerator) *App {
	metricsStore := metrics.NewStore(db.SQL)
	generator := generation.NewService(textGen, metricsStore)

	households := household.NewRepository(db.SQL)
	planStore := plan.NewRepository(db.SQL)
	groceryStore := grocery.NewRepository(db.SQL)
	groceries := grocery.NewSynthesizer(planStore, groceryStore, generator)
	plans := plan.NewService(planStore, groceries, generator, &householdSource{households})

	return &App{
		Cfg:        cfg,
		DB:         db,
		Households: households,
		Plans:      plans,
		Groceries:  groceries,
		Chat:       chat.NewRepository(db.SQL),
		Metrics:    metricsStore,
		Generator:  generator,
		Clipper:    clipper.NewClipper(textGen),
	}
}

// householdSource adapts the repository to the plan service's read-only
// view of the current household.
type householdSource struct {
	repo *household.Repository
}

func (s *householdSource) Current(ctx context.Context) (household.Household, error) {
	return s.repo.Current(ctx)
}

// GeneratePlan builds a full week plan from the household profile and a
// free-text request, activates it, and synthesizes its grocery list.
func (a *App) GeneratePlan(ctx context.Context, request string) (plan.MealPlan, error) {
	h, err := a.Households.Current(ctx)
	if err != nil {
		return plan.MealPlan{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, planGenerationTimeout)
	defer cancel()
	meals, err := a.Generator.GenerateMeals(genCtx, h, request, 7)
	if err != nil {
		return plan.MealPlan{}, err
	}

	name := fmt.Sprintf("Week of %s", time.Now().Format("Jan 2"))
	return a.Plans.CreatePlan(ctx, name, request, meals)
}

// ClipAndAddMeal imports a recipe URL as a meal on the current plan.
func (a *App) ClipAndAddMeal(ctx context.Context, url string) (meal.Meal, error) {
	clipped, err := a.Clipper.ClipURL(ctx, url)
	if err != nil {
		return meal.Meal{}, err
	}
	return a.Plans.AddClippedMeal(ctx, 0, clipped)
}

// ResetResult reports the side effects of a household reset.
type ResetResult struct {
	// ClearClientCaches tells the caller that any client-side copies of
	// plan, grocery, or chat state are now invalid.
	ClearClientCaches bool        `json:"clearClientCaches"`
	Household         interface{} `json:"household"`
}

// ResetHousehold clears the chat transcript and returns the household to a
// blank onboarding state. Destructive and irreversible; confirmation is a
// surface concern, not handled here.
func (a *App) ResetHousehold(ctx context.Context) (ResetResult, error) {
	if err := a.Chat.Clear(ctx); err != nil {
		return ResetResult{}, fmt.Errorf("failed to clear chat transcript: %w", err)
	}
	blank, err := a.Households.Reset(ctx)
	if err != nil {
		return ResetResult{}, err
	}
	log.Printf("Household %d reset to blank onboarding state", blank.ID)
	return ResetResult{ClearClientCaches: true, Household: blank}, nil
}
