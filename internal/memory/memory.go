// Package memory manages conversational state per namespace: durable turn
// storage, session bookkeeping, and the rendered context handed to the
// model. Long turns are condensed at read time; stored content is never
// rewritten.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// sessionTitleLength caps the session name derived from the first user turn.
const sessionTitleLength = 60

var ErrSessionNotFound = errors.New("session not found")

type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

type SessionInfo struct {
	ID           uuid.UUID
	Name         string
	CreatedAt    time.Time
	MessageCount int64
}

// Store is the persistence behind the manager. Implementations scope every
// call to a namespace schema.
type Store interface {
	EnsureSession(ctx context.Context, namespace string, sessionID uuid.UUID, name string) error
	InsertMessage(ctx context.Context, namespace string, sessionID uuid.UUID, role, content string) error
	RecentMessages(ctx context.Context, namespace string, sessionID uuid.UUID, limit int) ([]Message, error)
	ListSessions(ctx context.Context, namespace string) ([]SessionInfo, error)
	DeleteSession(ctx context.Context, namespace string, sessionID uuid.UUID) error
	ClearHistory(ctx context.Context, namespace string, sessionID uuid.UUID) error
}

// Summarizer condenses one turn. Satisfied by the llm client.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Config struct {
	HistoryLimit       int
	SummarizeThreshold int
}

type Manager struct {
	store      Store
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger
}

func NewManager(store Store, summarizer Summarizer, cfg Config, logger *slog.Logger) *Manager {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	if cfg.SummarizeThreshold <= 0 {
		cfg.SummarizeThreshold = 400
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, summarizer: summarizer, cfg: cfg, logger: logger}
}

// Append stores one turn. The session is created on first use and named
// after the opening user turn.
func (m *Manager) Append(ctx context.Context, namespace string, sessionID uuid.UUID, role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("unsupported message role %q", role)
	}
	title := ""
	if role == RoleUser {
		title = sessionTitle(content)
	}
	if err := m.store.EnsureSession(ctx, namespace, sessionID, title); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	if err := m.store.InsertMessage(ctx, namespace, sessionID, role, content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ReadContext renders the recent turns of a session for prompting. Turns
// longer than the threshold are summarized on the way out; when the
// summarizer fails, the original text is used unchanged.
func (m *Manager) ReadContext(ctx context.Context, namespace string, sessionID uuid.UUID) (string, error) {
	messages, err := m.store.RecentMessages(ctx, namespace, sessionID, m.cfg.HistoryLimit)
	if err != nil {
		return "", fmt.Errorf("read recent messages: %w", err)
	}
	if len(messages) == 0 {
		return "", nil
	}

	parts := []string{"PREVIOUS CONVERSATION:"}
	for _, msg := range messages {
		content := msg.Content
		if len(content) > m.cfg.SummarizeThreshold && m.summarizer != nil {
			summary, err := m.summarizer.Summarize(ctx, content)
			if err != nil {
				m.logger.Warn("turn summarization failed, using original text",
					slog.String("namespace", namespace),
					slog.String("session_id", sessionID.String()),
					slog.String("error", err.Error()))
			} else if strings.TrimSpace(summary) != "" {
				content = summary
			}
		}
		parts = append(parts, strings.ToUpper(msg.Role)+": "+content)
	}
	return strings.Join(parts, "\n"), nil
}

func (m *Manager) ListSessions(ctx context.Context, namespace string) ([]SessionInfo, error) {
	return m.store.ListSessions(ctx, namespace)
}

func (m *Manager) DeleteSession(ctx context.Context, namespace string, sessionID uuid.UUID) error {
	return m.store.DeleteSession(ctx, namespace, sessionID)
}

// ClearHistory removes a session's turns but keeps the session itself.
func (m *Manager) ClearHistory(ctx context.Context, namespace string, sessionID uuid.UUID) error {
	return m.store.ClearHistory(ctx, namespace, sessionID)
}

func sessionTitle(content string) string {
	title := strings.TrimSpace(content)
	if len(title) > sessionTitleLength {
		title = strings.TrimSpace(title[:sessionTitleLength])
	}
	return title
}
