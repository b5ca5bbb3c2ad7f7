package session

import (
	"time"

	"github.com/google/uuid"
)

// Message roles accepted by the store. Matches the CHECK constraint on
// the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Tool call step states as persisted with an assistant message.
const (
	StepRunning = "running"
	StepSuccess = "success"
	StepError   = "error"
)

// Session is one conversation thread.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ToolCall is one finished tool invocation recorded alongside the
// assistant message that triggered it.
type ToolCall struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Status      string         `json:"status"`
}

// Message is one persisted conversation turn.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"sessionId"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
