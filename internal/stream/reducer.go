package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banlv/banlv/internal/agent"
	"github.com/banlv/banlv/internal/log"
)

// StepStatus tracks a tool call's lifecycle inside a message.
type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// ToolCallStep is one tool invocation rendered inside an assistant
// message. Start and end events mutate it in place while the message
// streams.
type ToolCallStep struct {
	ID          string
	Name        string
	DisplayName string
	Input       map[string]any
	Output      string
	Error       string
	Status      StepStatus
	StartTime   time.Time
	EndTime     time.Time
}

// Message is one conversation turn. Content grows by append while
// IsStreaming is true and is frozen once streaming ends.
type Message struct {
	ID          uuid.UUID
	Role        string
	Content     string
	ToolCalls   []ToolCallStep
	IsStreaming bool
	CreatedAt   time.Time
}

// Sender starts a stream for one user turn. The returned channel must
// close when the stream ends or ctx is cancelled.
type Sender func(ctx context.Context, input string, history []agent.Message) (<-chan agent.Event, error)

// PersistFunc receives the finished assistant message after a done
// event.
type PersistFunc func(msg Message)

// Sentinel errors for conversation operations.
var (
	ErrNoSender        = errors.New("conversation has no sender")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotRegenerable  = errors.New("message cannot be regenerated")
)

const streamErrorText = "抱歉，处理您的请求时出现了错误，请稍后重试。"

// Conversation folds event streams into an ordered message list. One
// stream may be active at a time; starting a new turn or a
// regeneration cancels any stream still in flight.
type Conversation struct {
	mu       sync.Mutex
	send     Sender
	persist  PersistFunc
	onEvent  func(agent.Event)
	logger   log.Logger
	now      func() time.Time
	messages []Message
	active   *activeStream
}

type activeStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithPersist registers a hook invoked with each finished assistant
// message.
func WithPersist(fn PersistFunc) Option {
	return func(c *Conversation) { c.persist = fn }
}

// WithEventHook registers an observer called for every applied event.
func WithEventHook(fn func(agent.Event)) Option {
	return func(c *Conversation) { c.onEvent = fn }
}

// NewConversation creates an empty conversation over the given sender.
func NewConversation(send Sender, logger log.Logger, opts ...Option) (*Conversation, error) {
	if send == nil {
		return nil, ErrNoSender
	}
	if logger == nil {
		logger = log.NewNop()
	}
	c := &Conversation{
		send:   send,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send appends the user turn and a streaming assistant placeholder,
// then consumes the stream in the background. Any stream still active
// is cancelled first. It returns the placeholder's id.
func (c *Conversation) Send(ctx context.Context, input string) (uuid.UUID, error) {
	c.Cancel()

	c.mu.Lock()
	history := c.historyLocked(len(c.messages))
	c.messages = append(c.messages, Message{
		ID:        uuid.New(),
		Role:      agent.RoleUser,
		Content:   input,
		CreatedAt: c.now(),
	})
	c.mu.Unlock()

	return c.startStream(ctx, input, history)
}

// Regenerate replaces the assistant message with the given id.
// It cancels any in-flight stream, drops the target and everything
// after it, and replays the history strictly before the user turn
// that produced it without re-appending that turn.
func (c *Conversation) Regenerate(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	c.Cancel()

	c.mu.Lock()
	idx := -1
	for i, m := range c.messages {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if c.messages[idx].Role != agent.RoleAssistant {
		c.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s is not an assistant message", ErrNotRegenerable, id)
	}

	userIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if c.messages[i].Role == agent.RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		c.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: no preceding user turn", ErrNotRegenerable)
	}

	input := c.messages[userIdx].Content
	history := c.historyLocked(userIdx)
	c.messages = c.messages[:idx]
	c.mu.Unlock()

	return c.startStream(ctx, input, history)
}

// Cancel aborts the active stream, if any, and freezes the partial
// assistant message. No further mutation happens after it returns.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active == nil {
		return
	}
	active.cancel()
	<-active.done
}

// Wait blocks until the active stream finishes. It returns immediately
// when no stream is in flight.
func (c *Conversation) Wait() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil {
		return
	}
	<-active.done
}

// Messages returns a snapshot of the conversation.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m
		if len(m.ToolCalls) > 0 {
			out[i].ToolCalls = append([]ToolCallStep(nil), m.ToolCalls...)
		}
	}
	return out
}

func (c *Conversation) startStream(ctx context.Context, input string, history []agent.Message) (uuid.UUID, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	events, err := c.send(streamCtx, input, history)
	if err != nil {
		cancel()
		c.mu.Lock()
		c.messages = append(c.messages, Message{
			ID:        uuid.New(),
			Role:      agent.RoleAssistant,
			Content:   streamErrorText,
			CreatedAt: c.now(),
		})
		c.mu.Unlock()
		return uuid.Nil, fmt.Errorf("start stream: %w", err)
	}

	placeholder := Message{
		ID:          uuid.New(),
		Role:        agent.RoleAssistant,
		ToolCalls:   []ToolCallStep{},
		IsStreaming: true,
		CreatedAt:   c.now(),
	}
	active := &activeStream{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.messages = append(c.messages, placeholder)
	c.active = active
	c.mu.Unlock()

	go c.consume(streamCtx, events, placeholder.ID, active)
	return placeholder.ID, nil
}

func (c *Conversation) consume(ctx context.Context, events <-chan agent.Event, id uuid.UUID, active *activeStream) {
	defer close(active.done)
	defer active.cancel()

	finished := false
	for {
		select {
		case <-ctx.Done():
			c.freeze(id)
			c.clearActive(active)
			go drain(events)
			return
		case ev, ok := <-events:
			if !ok {
				if !finished {
					c.freeze(id)
				}
				c.clearActive(active)
				return
			}
			if finished {
				continue
			}
			finished = c.apply(ev, id)
		}
	}
}

// apply folds one event into the placeholder message. It reports
// whether the stream reached a terminal event.
func (c *Conversation) apply(ev agent.Event, id uuid.UUID) bool {
	c.mu.Lock()
	msg := c.find(id)
	if msg == nil {
		c.mu.Unlock()
		return true
	}

	terminal := false
	var persistCopy *Message

	switch ev.Type {
	case agent.EventThinking:
		// Hook point only, no state change.

	case agent.EventToolStart:
		msg.ToolCalls = append(msg.ToolCalls, ToolCallStep{
			ID:          ev.ID,
			Name:        ev.Name,
			DisplayName: ev.DisplayName,
			Input:       ev.Input,
			Status:      StepRunning,
			StartTime:   c.now(),
		})

	case agent.EventToolEnd:
		for i := range msg.ToolCalls {
			step := &msg.ToolCalls[i]
			if step.ID != ev.ID {
				continue
			}
			step.EndTime = c.now()
			if ev.Err != "" {
				step.Error = ev.Err
				step.Status = StepError
			} else {
				step.Output = ev.Output
				step.Status = StepSuccess
			}
			break
		}

	case agent.EventContent:
		msg.Content += ev.Content

	case agent.EventError:
		if msg.Content == "" {
			msg.Content = streamErrorText
		}
		msg.IsStreaming = false
		terminal = true

	case agent.EventDone:
		msg.IsStreaming = false
		terminal = true
		if c.persist != nil {
			cp := *msg
			cp.ToolCalls = append([]ToolCallStep(nil), msg.ToolCalls...)
			persistCopy = &cp
		}
	}
	c.mu.Unlock()

	if c.onEvent != nil {
		c.onEvent(ev)
	}
	if persistCopy != nil {
		c.persist(*persistCopy)
	}
	return terminal
}

// freeze ends streaming on the placeholder without touching its
// accumulated content. Cancellation keeps partial state.
func (c *Conversation) freeze(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg := c.find(id); msg != nil {
		msg.IsStreaming = false
	}
}

func (c *Conversation) clearActive(active *activeStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == active {
		c.active = nil
	}
}

// find returns the message with the given id. Caller holds mu.
func (c *Conversation) find(id uuid.UUID) *Message {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return &c.messages[i]
		}
	}
	return nil
}

// historyLocked converts messages[:n] to wire history, skipping turns
// with no content. Caller holds mu.
func (c *Conversation) historyLocked(n int) []agent.Message {
	history := make([]agent.Message, 0, n)
	for _, m := range c.messages[:n] {
		if m.Content == "" {
			continue
		}
		history = append(history, agent.Message{Role: m.Role, Content: m.Content})
	}
	return history
}

func drain(events <-chan agent.Event) {
	for range events {
	}
}
