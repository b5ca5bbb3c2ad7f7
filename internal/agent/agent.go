// Package agent drives the travel assistant's reasoning loop and
// surfaces its progress as an ordered stream of typed events.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/banlv/banlv/internal/rag"
)

// Message roles in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultMaxTurns bounds the reasoning/tool loop for one user turn.
const DefaultMaxTurns = 5

// Sentinel errors for agent operations. Only errors checked with
// errors.Is() elsewhere are defined here.
var (
	ErrExecutionFail = errors.New("execution failed")
	ErrInvalidConfig = errors.New("invalid agent config")
)

// Message is one prior conversation turn supplied as history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// KnowledgeRetriever produces a prompt-ready knowledge context for a
// query. *rag.Retriever satisfies it.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, query string, opts rag.Options) *rag.Context
}

// modelCaller runs one model turn. The production implementation wraps
// genkit.Generate; tests substitute a scripted caller.
type modelCaller interface {
	generate(ctx context.Context, system string, msgs []*ai.Message, useTools bool, onChunk func(string) error) (*modelTurn, error)
}

// modelTurn is the outcome of one model call.
type modelTurn struct {
	text     string
	message  *ai.Message
	requests []*ai.ToolRequest
}

// Config wires an Agent. Genkit and ModelName are required; Tools and
// Retriever are optional (an agent without tools degenerates to plain
// chat with retrieval).
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string
	Tools     []ai.Tool
	Retriever KnowledgeRetriever
	MaxTurns  int
	Logger    *slog.Logger
}

// Agent orchestrates retrieval, the reasoning/tool loop, and event
// emission for one user turn at a time. It is stateless across turns
// and safe for concurrent use.
type Agent struct {
	caller    modelCaller
	runner    ToolRunner
	retriever KnowledgeRetriever
	maxTurns  int
	logger    *slog.Logger
}

// New creates an Agent from the given config.
func New(cfg Config) (*Agent, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("%w: genkit instance is required", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrInvalidConfig)
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
	}

	return &Agent{
		caller: &genkitCaller{
			g:         cfg.Genkit,
			modelName: cfg.ModelName,
			toolRefs:  toolRefs,
		},
		runner:    genkitToolRunner{g: cfg.Genkit},
		retriever: cfg.Retriever,
		maxTurns:  maxTurns,
		logger:    logger,
	}, nil
}

// ExecuteStream runs one user turn and returns the event stream. The
// channel is closed after the terminal done event, or early if ctx is
// cancelled. Cancellation is a normal termination path and produces no
// error event.
func (a *Agent) ExecuteStream(ctx context.Context, input string, history []Message) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		a.run(ctx, input, history, events)
	}()
	return events
}

// PlainStream runs a single model turn without tools or retrieval.
// It emits only content fragments and a terminal done, with an error
// event before done on failure.
func (a *Agent) PlainStream(ctx context.Context, input string, history []Message) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if strings.TrimSpace(input) == "" {
			emit(ErrorEvent("输入不能为空"))
			emit(DoneEvent())
			return
		}

		msgs := historyToMessages(history)
		msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(input)))

		onChunk := func(text string) error {
			if text == "" {
				return nil
			}
			select {
			case events <- ContentEvent(text):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if _, err := a.caller.generate(ctx, travelSystemPrompt, msgs, false, onChunk); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("plain chat failed", "error", err)
			emit(ErrorEvent(err.Error()))
			emit(DoneEvent())
			return
		}
		emit(DoneEvent())
	}()
	return events
}

// Execute runs one user turn to completion and returns the full answer
// text.
func (a *Agent) Execute(ctx context.Context, input string, history []Message) (string, error) {
	var b strings.Builder
	var execErr error
	for ev := range a.ExecuteStream(ctx, input, history) {
		switch ev.Type {
		case EventContent:
			b.WriteString(ev.Content)
		case EventError:
			execErr = fmt.Errorf("%w: %s", ErrExecutionFail, ev.Err)
		}
	}
	if execErr != nil {
		return "", execErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (a *Agent) run(ctx context.Context, input string, history []Message, events chan<- Event) {
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if strings.TrimSpace(input) == "" {
		emit(ErrorEvent("输入不能为空"))
		emit(DoneEvent())
		return
	}

	ragCtx := a.retrieve(ctx, input)
	if ragCtx != nil && ragCtx.HasResults {
		if !emit(ThinkingEvent(fmt.Sprintf("正在检索相关知识（找到 %d 条）...", len(ragCtx.Results)))) {
			return
		}
	}

	system := travelSystemPrompt
	if ragCtx != nil {
		system = systemPrompt(ragCtx.FormattedContext, ragCtx.HasResults)
	}

	msgs := historyToMessages(history)
	msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(input)))

	// Correlation ids live for one run only. Maps the runtime's tool
	// request ref to the externally visible step id.
	steps := make(map[string]string)

	onChunk := func(text string) error {
		if text == "" {
			return nil
		}
		select {
		case events <- ContentEvent(text):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for turn := 0; turn < a.maxTurns; turn++ {
		if !emit(ThinkingEvent("正在思考...")) {
			return
		}

		result, err := a.caller.generate(ctx, system, msgs, true, onChunk)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("model call failed", "turn", turn, "error", err)
			emit(ErrorEvent(err.Error()))
			emit(DoneEvent())
			return
		}

		if len(result.requests) == 0 {
			a.logger.Debug("agent run complete",
				"turns", turn+1,
				"responseChars", len(result.text))
			emit(DoneEvent())
			return
		}

		msgs = append(msgs, result.message)
		responses := a.runTools(ctx, result.requests, steps, events)
		if ctx.Err() != nil {
			return
		}
		msgs = append(msgs, &ai.Message{Role: ai.RoleTool, Content: responses})
	}

	a.logger.Warn("agent exceeded max tool turns", "maxTurns", a.maxTurns)
	emit(ErrorEvent("工具调用轮数超出上限，请换个问法再试。"))
	emit(DoneEvent())
}

// retrieve runs the gate and, when it passes, the retriever. Retrieval
// failures never fail the turn; the retriever degrades internally.
func (a *Agent) retrieve(ctx context.Context, input string) *rag.Context {
	if a.retriever == nil || !rag.ShouldRetrieve(input) {
		return nil
	}
	city := rag.ExtractCityFromQuery(input)
	return a.retriever.Retrieve(ctx, input, rag.Options{City: city})
}

// runTools executes one batch of tool requests in parallel. Each
// invocation gets its own step id; starts are emitted in request order
// and ends as each call finishes. A failed tool produces a tool_end
// with an error instead of aborting the turn.
func (a *Agent) runTools(ctx context.Context, reqs []*ai.ToolRequest, steps map[string]string, events chan<- Event) []*ai.Part {
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var mu sync.Mutex
	responses := make([]*ai.Part, len(reqs))
	keys := make([]string, len(reqs))

	for i, req := range reqs {
		key := correlationKey(req, i)
		keys[i] = key
		stepID := uuid.NewString()
		mu.Lock()
		steps[key] = stepID
		mu.Unlock()
		if !emit(ToolStartEvent(stepID, req.Name, ToolDisplayName(req.Name), toInputMap(req.Input))) {
			return responses
		}
	}

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *ai.ToolRequest, key string) {
			defer wg.Done()

			output, err := a.runner.Run(ctx, req.Name, req.Input)

			mu.Lock()
			stepID, tracked := steps[key]
			delete(steps, key)
			mu.Unlock()
			if !tracked {
				// Unknown correlation id, drop the event.
				return
			}

			if err != nil {
				a.logger.Warn("tool call failed", "tool", req.Name, "error", err)
				emit(ToolErrorEvent(stepID, req.Name, err.Error()))
				responses[i] = ai.NewToolResponsePart(&ai.ToolResponse{
					Name:   req.Name,
					Ref:    req.Ref,
					Output: map[string]any{"error": err.Error()},
				})
				return
			}

			emit(ToolEndEvent(stepID, req.Name, formatToolOutput(output)))
			responses[i] = ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   req.Name,
				Ref:    req.Ref,
				Output: output,
			})
		}(i, req, keys[i])
	}
	wg.Wait()

	return responses
}

// correlationKey identifies one tool request within a run. Some
// providers omit Ref, so fall back to name and position.
func correlationKey(req *ai.ToolRequest, idx int) string {
	if req.Ref != "" {
		return req.Ref
	}
	return fmt.Sprintf("%s#%d", req.Name, idx)
}

func historyToMessages(history []Message) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		case RoleSystem:
			msgs = append(msgs, ai.NewSystemMessage(ai.NewTextPart(m.Content)))
		default:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	return msgs
}

func toInputMap(input any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	if m, ok := input.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func formatToolOutput(output any) string {
	if s, ok := output.(string); ok {
		return s
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(raw)
}

// genkitCaller is the production modelCaller backed by genkit.Generate.
// Tool requests are returned to the loop instead of being auto-executed
// so their lifecycle can be surfaced as events.
type genkitCaller struct {
	g         *genkit.Genkit
	modelName string
	toolRefs  []ai.ToolRef
}

func (c *genkitCaller) generate(ctx context.Context, system string, msgs []*ai.Message, useTools bool, onChunk func(string) error) (*modelTurn, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem(system),
		ai.WithMessages(msgs...),
	}
	if useTools && len(c.toolRefs) > 0 {
		opts = append(opts,
			ai.WithTools(c.toolRefs...),
			ai.WithReturnToolRequests(true))
	}
	if onChunk != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return onChunk(chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return nil, err
	}
	return &modelTurn{
		text:     resp.Text(),
		message:  resp.Message,
		requests: resp.ToolRequests(),
	}, nil
}
