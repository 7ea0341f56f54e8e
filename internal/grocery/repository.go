package grocery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the persistence surface for grocery lists.
type Store interface {
	Get(ctx context.Context, id int64) (List, error)
	// CurrentForPlan returns the most recently created list for a plan,
	// or ErrListNotFound.
	CurrentForPlan(ctx context.Context, mealPlanID int64) (List, error)
	Create(ctx context.Context, l List) (List, error)
	UpdateSections(ctx context.Context, id int64, sections []Section) (List, error)
}

// Repository is the sqlite-backed Store. Sections are stored as a JSON
// column on the list row.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// Get retrieves a grocery list by id.
func (r *Repository) Get(ctx context.Context, id int64) (List, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, meal_plan_id, household_id, sections, created_at
		 FROM grocery_lists WHERE id = ?`, id)
	l, err := scanList(row)
	if err == sql.ErrNoRows {
		return List{}, ErrListNotFound
	}
	if err != nil {
		return List{}, fmt.Errorf("failed to get grocery list %d: %w", id, err)
	}
	return l, nil
}

// CurrentForPlan retrieves the most recent grocery list for a meal plan.
func (r *Repository) CurrentForPlan(ctx context.Context, mealPlanID int64) (List, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, meal_plan_id, household_id, sections, created_at
		 FROM grocery_lists WHERE meal_plan_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, mealPlanID)
	l, err := scanList(row)
	if err == sql.ErrNoRows {
		return List{}, ErrListNotFound
	}
	if err != nil {
		return List{}, fmt.Errorf("failed to get grocery list for plan %d: %w", mealPlanID, err)
	}
	return l, nil
}

// Create inserts a new grocery list.
func (r *Repository) Create(ctx context.Context, l List) (List, error) {
	sectionsJSON, err := marshalSections(l.Sections)
	if err != nil {
		return List{}, err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO grocery_lists (meal_plan_id, household_id, sections, created_at)
		 VALUES (?, ?, ?, ?)`,
		l.MealPlanID, l.HouseholdID, sectionsJSON, now)
	if err != nil {
		return List{}, fmt.Errorf("failed to insert grocery list: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return List{}, fmt.Errorf("failed to read grocery list id: %w", err)
	}
	l.ID = id
	l.CreatedAt = now
	return l.Clone(), nil
}

// UpdateSections replaces a list's sections wholesale.
func (r *Repository) UpdateSections(ctx context.Context, id int64, sections []Section) (List, error) {
	sectionsJSON, err := marshalSections(sections)
	if err != nil {
		return List{}, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE grocery_lists SET sections = ? WHERE id = ?`, sectionsJSON, id)
	if err != nil {
		return List{}, fmt.Errorf("failed to update grocery list %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return List{}, ErrListNotFound
	}
	return r.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(row rowScanner) (List, error) {
	var l List
	var sectionsJSON string
	if err := row.Scan(&l.ID, &l.MealPlanID, &l.HouseholdID, &sectionsJSON, &l.CreatedAt); err != nil {
		return List{}, err
	}
	if err := json.Unmarshal([]byte(sectionsJSON), &l.Sections); err != nil {
		return List{}, fmt.Errorf("failed to unmarshal grocery sections: %w", err)
	}
	if l.Sections == nil {
		l.Sections = []Section{}
	}
	for i := range l.Sections {
		if l.Sections[i].Items == nil {
			l.Sections[i].Items = []Item{}
		}
	}
	return l, nil
}

func marshalSections(sections []Section) (string, error) {
	if sections == nil {
		sections = []Section{}
	}
	data, err := json.Marshal(sections)
	if err != nil {
		return "", fmt.Errorf("failed to marshal grocery sections: %w", err)
	}
	return string(data), nil
}
