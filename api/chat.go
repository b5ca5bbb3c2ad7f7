package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/banlv/banlv/internal/agent"
	"github.com/banlv/banlv/internal/log"
	"github.com/banlv/banlv/internal/session"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string          `json:"message"`
	History   []agent.Message `json:"history,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`

	// Stream and UseAgent default to true when absent.
	Stream   *bool `json:"stream,omitempty"`
	UseAgent *bool `json:"useAgent,omitempty"`
}

// ChatResponse is the non-streaming response body.
type ChatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChatAgent is the handler's view of the orchestrator. *agent.Agent
// satisfies it.
type ChatAgent interface {
	ExecuteStream(ctx context.Context, input string, history []agent.Message) <-chan agent.Event
	PlainStream(ctx context.Context, input string, history []agent.Message) <-chan agent.Event
	Execute(ctx context.Context, input string, history []agent.Message) (string, error)
}

// ChatHandler handles the chat endpoint. Streaming responses carry
// agent events as "data: <json>\n\n" SSE frames; non-streaming
// responses are plain JSON.
type ChatHandler struct {
	agent  ChatAgent
	store  *session.Store
	logger log.Logger
}

// NewChatHandler creates a chat handler. store may be nil, which
// disables session persistence.
func NewChatHandler(ag ChatAgent, store *session.Store, logger log.Logger) *ChatHandler {
	return &ChatHandler{agent: ag, store: store, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.agent == nil {
		h.logger.Warn("chat handler has no agent, chat endpoint not registered")
		return
	}
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "无效的 JSON 格式")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "无效的请求格式，请提供 message 字段")
		return
	}
	if err := validateHistory(req.History); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := strings.TrimSpace(req.Message)
	stream := req.Stream == nil || *req.Stream
	useAgent := req.UseAgent == nil || *req.UseAgent

	sessionID, history, ok := h.resolveSession(w, r, &req)
	if !ok {
		return
	}

	if !stream {
		h.handleSync(w, r, input, history, sessionID)
		return
	}
	h.handleStream(w, r, input, history, sessionID, useAgent)
}

// validateHistory rejects history entries with an unknown role or no
// content. A malformed entry is a semantic validation failure, reported
// like a missing message field.
func validateHistory(history []agent.Message) error {
	for i, m := range history {
		switch m.Role {
		case agent.RoleUser, agent.RoleAssistant, agent.RoleSystem:
		default:
			return fmt.Errorf("无效的 history 格式，第 %d 条消息的 role 不合法", i+1)
		}
		if m.Content == "" {
			return fmt.Errorf("无效的 history 格式，第 %d 条消息缺少 content", i+1)
		}
	}
	return nil
}

// resolveSession validates sessionId and loads stored history when the
// request did not carry its own. Returns ok=false if it already wrote
// an error response.
func (h *ChatHandler) resolveSession(w http.ResponseWriter, r *http.Request, req *ChatRequest) (uuid.UUID, []agent.Message, bool) {
	if req.SessionID == "" || h.store == nil {
		return uuid.Nil, req.History, true
	}

	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "无效的 sessionId")
		return uuid.Nil, nil, false
	}

	history := req.History
	if len(history) == 0 {
		stored, err := h.store.History(r.Context(), id)
		if err != nil {
			h.logger.Warn("failed to load session history", "session", id, "error", err)
		} else {
			history = stored
		}
	}
	return id, history, true
}

func (h *ChatHandler) handleSync(w http.ResponseWriter, r *http.Request, input string, history []agent.Message, sessionID uuid.UUID) {
	content, err := h.agent.Execute(r.Context(), input, history)
	if err != nil {
		h.logger.Error("chat execution failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.persistTurn(r, sessionID, input, content, nil)
	writeJSON(w, http.StatusOK, ChatResponse{Success: true, Message: content})
}

func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request, input string, history []agent.Message, sessionID uuid.UUID, useAgent bool) {
	ew, err := newEventWriter(w)
	if err != nil {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	defer ew.Close()

	ctx := r.Context()
	var events <-chan agent.Event
	if useAgent {
		events = h.agent.ExecuteStream(ctx, input, history)
	} else {
		events = h.agent.PlainStream(ctx, input, history)
	}

	var content strings.Builder
	var toolCalls []session.ToolCall
	running := map[string]int{}

	for ev := range events {
		switch ev.Type {
		case agent.EventContent:
			content.WriteString(ev.Content)
		case agent.EventToolStart:
			running[ev.ID] = len(toolCalls)
			toolCalls = append(toolCalls, session.ToolCall{
				ID:          ev.ID,
				Name:        ev.Name,
				DisplayName: ev.DisplayName,
				Input:       ev.Input,
				Status:      session.StepRunning,
			})
		case agent.EventToolEnd:
			if idx, ok := running[ev.ID]; ok {
				delete(running, ev.ID)
				toolCalls[idx].Output = ev.Output
				toolCalls[idx].Error = ev.Err
				if ev.Err != "" {
					toolCalls[idx].Status = session.StepError
				} else {
					toolCalls[idx].Status = session.StepSuccess
				}
			}
		}

		if err := ew.WriteEvent(ev); err != nil {
			// Client went away; drain the producer and stop writing.
			h.logger.Debug("client disconnected mid-stream")
			for range events {
			}
			return
		}
	}

	// The stream ran to completion, not cancellation.
	if ctx.Err() == nil {
		h.persistTurn(r, sessionID, input, content.String(), toolCalls)
	}
}

// persistTurn records the user and assistant messages. Best-effort: a
// persistence failure is logged, never surfaced to the caller.
func (h *ChatHandler) persistTurn(r *http.Request, sessionID uuid.UUID, input, content string, toolCalls []session.ToolCall) {
	if h.store == nil || sessionID == uuid.Nil {
		return
	}
	ctx := r.Context()
	if _, err := h.store.AppendMessage(ctx, sessionID, session.RoleUser, input, nil); err != nil {
		h.logger.Error("failed to persist user message", "session", sessionID, "error", err)
		return
	}
	if _, err := h.store.AppendMessage(ctx, sessionID, session.RoleAssistant, content, toolCalls); err != nil {
		h.logger.Error("failed to persist assistant message", "session", sessionID, "error", err)
	}
}
