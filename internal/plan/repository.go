package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"meal-assistant/internal/meal"
)

// Store is the persistence surface the reconciliation service runs on.
type Store interface {
	Get(ctx context.Context, id int64) (MealPlan, error)
	// Current returns the most recently created active plan for the
	// household, or ErrNoActivePlan.
	Current(ctx context.Context, householdID int64) (MealPlan, error)
	Create(ctx context.Context, p MealPlan) (MealPlan, error)
	Update(ctx context.Context, p MealPlan) (MealPlan, error)
	ListByHousehold(ctx context.Context, householdID int64) ([]MealPlan, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// Repository is the sqlite-backed Store. Meals are stored as a JSON column
// on the plan row.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

const planColumns = `id, household_id, name, special_notes, is_active, meals, created_at, updated_at`

// Get retrieves a plan by id.
func (r *Repository) Get(ctx context.Context, id int64) (MealPlan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM meal_plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return MealPlan{}, ErrPlanNotFound
	}
	if err != nil {
		return MealPlan{}, fmt.Errorf("failed to get meal plan %d: %w", id, err)
	}
	return p, nil
}

// Current implements the single shared current-plan lookup: latest
// created_at among active plans wins; none active fails rather than guessing.
func (r *Repository) Current(ctx context.Context, householdID int64) (MealPlan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM meal_plans
		 WHERE household_id = ? AND is_active = 1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, householdID)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return MealPlan{}, ErrNoActivePlan
	}
	if err != nil {
		return MealPlan{}, fmt.Errorf("failed to get current meal plan: %w", err)
	}
	return p, nil
}

// Create inserts a new plan and returns it with its store-assigned id.
func (r *Repository) Create(ctx context.Context, p MealPlan) (MealPlan, error) {
	mealsJSON, err := marshalMeals(p.Meals)
	if err != nil {
		return MealPlan{}, err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO meal_plans (household_id, name, special_notes, is_active, meals, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.HouseholdID, p.Name, p.SpecialNotes, boolToInt(p.IsActive), mealsJSON, now, now)
	if err != nil {
		return MealPlan{}, fmt.Errorf("failed to insert meal plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MealPlan{}, fmt.Errorf("failed to read meal plan id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return p.Clone(), nil
}

// Update persists the plan's mutable fields and bumps updated_at.
func (r *Repository) Update(ctx context.Context, p MealPlan) (MealPlan, error) {
	mealsJSON, err := marshalMeals(p.Meals)
	if err != nil {
		return MealPlan{}, err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE meal_plans SET name = ?, special_notes = ?, is_active = ?, meals = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.SpecialNotes, boolToInt(p.IsActive), mealsJSON, now, p.ID)
	if err != nil {
		return MealPlan{}, fmt.Errorf("failed to update meal plan %d: %w", p.ID, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return MealPlan{}, ErrPlanNotFound
	}
	p.UpdatedAt = now
	return p.Clone(), nil
}

// ListByHousehold returns all plans for a household, newest first.
func (r *Repository) ListByHousehold(ctx context.Context, householdID int64) ([]MealPlan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM meal_plans WHERE household_id = ?
		 ORDER BY created_at DESC, id DESC`, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal plans: %w", err)
	}
	defer rows.Close()

	var plans []MealPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// SetActive flips a single plan's active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE meal_plans SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to set active flag on plan %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrPlanNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (MealPlan, error) {
	var p MealPlan
	var isActive int
	var mealsJSON string
	err := row.Scan(&p.ID, &p.HouseholdID, &p.Name, &p.SpecialNotes, &isActive,
		&mealsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return MealPlan{}, err
	}
	p.IsActive = isActive != 0
	if err := json.Unmarshal([]byte(mealsJSON), &p.Meals); err != nil {
		return MealPlan{}, fmt.Errorf("failed to unmarshal plan meals: %w", err)
	}
	if p.Meals == nil {
		p.Meals = []meal.Meal{}
	}
	return p, nil
}

func marshalMeals(meals []meal.Meal) (string, error) {
	if meals == nil {
		meals = []meal.Meal{}
	}
	data, err := json.Marshal(meals)
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan meals: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
