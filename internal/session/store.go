// Package session persists conversation threads and their messages in
// PostgreSQL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/banlv/banlv/internal/agent"
)

// Sentinel errors for session operations.
var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidRole   = errors.New("invalid message role")
	ErrInvalidConfig = errors.New("invalid session store config")
)

// DefaultTitle is assigned to sessions created without one.
const DefaultTitle = "新对话"

// Querier is the subset of pgx operations the store needs.
// *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store manages session and message persistence. It is safe for
// concurrent use.
type Store struct {
	db     Querier
	logger *slog.Logger
}

// NewStore creates a session store over the given querier.
func NewStore(db Querier, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: querier is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}, nil
}

// CreateSession starts a new conversation thread. An empty title gets
// the default.
func (s *Store) CreateSession(ctx context.Context, userID, title string) (*Session, error) {
	if title == "" {
		title = DefaultTitle
	}

	var sess Session
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (user_id, title)
		VALUES ($1, $2)
		RETURNING id, COALESCE(user_id, ''), title, created_at, updated_at`,
		nullableText(userID), title,
	).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	return &sess, nil
}

// GetSession retrieves one session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
		SELECT id, COALESCE(user_id, ''), title, created_at, updated_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns a user's sessions, most recently active first.
// An empty userID lists all sessions.
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, COALESCE(user_id, ''), title, created_at, updated_at
		FROM sessions
		WHERE $1 = '' OR user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateTitle renames a session.
func (s *Store) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteSession removes a session and, via cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Debug("deleted session", "id", id)
	return nil
}

// AppendMessage adds one turn to a session and bumps the session's
// updated_at so it sorts to the top of the list.
func (s *Store) AppendMessage(ctx context.Context, sessionID uuid.UUID, role, content string, toolCalls []ToolCall) (*Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	var callsJSON []byte
	if len(toolCalls) > 0 {
		var err error
		callsJSON, err = json.Marshal(toolCalls)
		if err != nil {
			return nil, fmt.Errorf("marshal tool calls: %w", err)
		}
	}

	msg := Message{SessionID: sessionID, Role: role, Content: content, ToolCalls: toolCalls}
	err := s.db.QueryRow(ctx, `
		INSERT INTO messages (session_id, role, content, tool_calls)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		sessionID, role, content, callsJSON,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID); err != nil {
		s.logger.Warn("failed to bump session updated_at", "session", sessionID, "error", err)
	}

	return &msg, nil
}

// GetMessages returns a session's messages in chronological order.
func (s *Store) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, role, content, tool_calls, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var callsJSON []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &callsJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(callsJSON) > 0 {
			if err := json.Unmarshal(callsJSON, &msg.ToolCalls); err != nil {
				s.logger.Warn("corrupt tool_calls payload, skipping", "message", msg.ID, "error", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return messages, nil
}

// History converts a session's messages into the agent's history
// format. Tool call details are not replayed, only the text turns.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID) ([]agent.Message, error) {
	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]agent.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		history = append(history, agent.Message{Role: msg.Role, Content: msg.Content})
	}
	return history, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
