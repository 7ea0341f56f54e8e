package telegram

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PendingAction is a confirmation-gated command awaiting the user's
// yes/no. Expired actions are treated as cancelled.
type PendingAction struct {
	ID          int64
	ChatID      int64
	Action      string
	ContextData string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// ActionContext holds structured data stored in the context_data JSON field.
type ActionContext struct {
	PlanID          int64  `json:"plan_id,omitempty"`
	OriginalRequest string `json:"original_request,omitempty"`
}

// GetContext unmarshals the context_data JSON field.
func (p *PendingAction) GetContext() (ActionContext, error) {
	var data ActionContext
	err := json.Unmarshal([]byte(p.ContextData), &data)
	return data, err
}

// PendingActionRepository persists confirmation state between webhook
// deliveries. Each delivery is a separate request, so the state cannot
// live in memory.
type PendingActionRepository struct {
	db *sql.DB
}

// NewPendingActionRepository creates a new PendingActionRepository.
func NewPendingActionRepository(db *sql.DB) *PendingActionRepository {
	return &PendingActionRepository{db: db}
}

// Create stores a pending action and returns its id.
func (r *PendingActionRepository) Create(ctx context.Context, chatID int64, action string, data ActionContext, ttl time.Duration) (int64, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_actions (chat_id, action, context_data, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		chatID, action, string(jsonData), now.Add(ttl), now)
	if err != nil {
		return 0, fmt.Errorf("failed to create pending action: %w", err)
	}
	return res.LastInsertId()
}

// GetActive returns the most recent non-expired pending action for a
// chat, or nil when there is none.
func (r *PendingActionRepository) GetActive(ctx context.Context, chatID int64) (*PendingAction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, action, context_data, expires_at, created_at
		 FROM pending_actions
		 WHERE chat_id = ? AND expires_at > ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		chatID, time.Now().UTC())

	var p PendingAction
	err := row.Scan(&p.ID, &p.ChatID, &p.Action, &p.ContextData, &p.ExpiresAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending action: %w", err)
	}
	return &p, nil
}

// Delete removes a pending action once resolved.
func (r *PendingActionRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id)
	return err
}

// CleanupExpired removes all expired pending actions.
func (r *PendingActionRepository) CleanupExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_actions WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
