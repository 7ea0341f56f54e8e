package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message is one turn of the assistant conversation.
type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repository persists the chat transcript. The transcript is wiped as part
// of a household reset.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// Append stores a new message and returns it with its id.
func (r *Repository) Append(ctx context.Context, role, content string) (Message, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (role, content, created_at) VALUES (?, ?, ?)`,
		role, content, now)
	if err != nil {
		return Message{}, fmt.Errorf("failed to insert chat message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("failed to read chat message id: %w", err)
	}
	return Message{ID: id, Role: role, Content: content, CreatedAt: now}, nil
}

// List returns the transcript in chronological order.
func (r *Repository) List(ctx context.Context) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM chat_messages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Clear deletes the whole transcript.
func (r *Repository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("failed to clear chat messages: %w", err)
	}
	return nil
}
