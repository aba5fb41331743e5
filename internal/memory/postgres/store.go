// Package postgres persists conversation turns inside each namespace's own
// conversation-store tables.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/internal/memory"
	"github.com/tablechat/tablechat/internal/tenant"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSession upserts the session row. A non-empty name only sticks when
// the session has no name yet, so the title stays pinned to the opening
// user turn.
func (s *Store) EnsureSession(ctx context.Context, namespace string, sessionID uuid.UUID, name string) error {
	if !tenant.IsValidIdentifier(namespace) {
		return &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}
	query := `
INSERT INTO ` + namespace + `.chat_sessions (id, name)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE
SET name = CASE WHEN ` + namespace + `.chat_sessions.name = '' THEN EXCLUDED.name ELSE ` + namespace + `.chat_sessions.name END`
	if _, err := s.db.ExecContext(ctx, query, sessionID, name); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, namespace string, sessionID uuid.UUID, role, content string) error {
	if !tenant.IsValidIdentifier(namespace) {
		return &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}
	query := `
INSERT INTO ` + namespace + `.chat_messages (session_id, role, content)
VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, sessionID, role, content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit turns in chronological order.
func (s *Store) RecentMessages(ctx context.Context, namespace string, sessionID uuid.UUID, limit int) ([]memory.Message, error) {
	if !tenant.IsValidIdentifier(namespace) {
		return nil, &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}
	query := `
SELECT role, content, created_at
FROM ` + namespace + `.chat_messages
WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []memory.Message
	for rows.Next() {
		var msg memory.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Newest-first fetch, oldest-first render.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Store) ListSessions(ctx context.Context, namespace string) ([]memory.SessionInfo, error) {
	if !tenant.IsValidIdentifier(namespace) {
		return nil, &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}
	query := `
SELECT s.id, s.name, s.created_at, COUNT(m.id)
FROM ` + namespace + `.chat_sessions s
LEFT JOIN ` + namespace + `.chat_messages m ON m.session_id = s.id
GROUP BY s.id, s.name, s.created_at
ORDER BY s.created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]memory.SessionInfo, 0)
	for rows.Next() {
		var info memory.SessionInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.CreatedAt, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

func (s *Store) DeleteSession(ctx context.Context, namespace string, sessionID uuid.UUID) error {
	if !tenant.IsValidIdentifier(namespace) {
		return &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+namespace+`.chat_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if affected == 0 {
		return memory.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ClearHistory(ctx context.Context, namespace string, sessionID uuid.UUID) error {
	if !tenant.IsValidIdentifier(namespace) {
		return &tenant.ValidationError{Field: "namespace", Reason: "not a valid identifier"}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+namespace+`.chat_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear session history: %w", err)
	}
	return nil
}
