package household

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository is a database-backed repository for the household document.
// Records are stored as JSON documents; callers always receive copies, and
// mutation only happens through Update or Reset.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// Current returns the current household, creating a blank one on first use.
func (r *Repository) Current(ctx context.Context) (Household, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, data FROM households ORDER BY id DESC LIMIT 1`)

	var id int64
	var data string
	err := row.Scan(&id, &data)
	if err == sql.ErrNoRows {
		return r.create(ctx, Blank())
	}
	if err != nil {
		return Household{}, fmt.Errorf("failed to load household: %w", err)
	}

	var h Household
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return Household{}, fmt.Errorf("failed to unmarshal household: %w", err)
	}
	h.ID = id
	return h, nil
}

// Update merges a partial patch into the current household and returns the
// full merged record.
func (r *Repository) Update(ctx context.Context, patch Patch) (Household, error) {
	current, err := r.Current(ctx)
	if err != nil {
		return Household{}, err
	}
	merged := patch.Apply(current)
	if err := r.save(ctx, merged); err != nil {
		return Household{}, err
	}
	return merged, nil
}

// Reset replaces the current household with the blank onboarding state.
func (r *Repository) Reset(ctx context.Context) (Household, error) {
	current, err := r.Current(ctx)
	if err != nil {
		return Household{}, err
	}
	blank := Blank()
	blank.ID = current.ID
	if err := r.save(ctx, blank); err != nil {
		return Household{}, err
	}
	return blank, nil
}

func (r *Repository) create(ctx context.Context, h Household) (Household, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return Household{}, fmt.Errorf("failed to marshal household: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO households (data, updated_at) VALUES (?, ?)`,
		string(data), time.Now().UTC())
	if err != nil {
		return Household{}, fmt.Errorf("failed to insert household: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Household{}, fmt.Errorf("failed to read household id: %w", err)
	}
	h.ID = id
	return h, nil
}

func (r *Repository) save(ctx context.Context, h Household) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal household: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE households SET data = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), h.ID)
	if err != nil {
		return fmt.Errorf("failed to update household: %w", err)
	}
	return nil
}
