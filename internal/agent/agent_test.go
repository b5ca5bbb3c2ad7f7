package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/banlv/banlv/internal/rag"
)

type scriptedTurn struct {
	chunks   []string
	requests []*ai.ToolRequest
	err      error
}

type scriptedCaller struct {
	turns   []scriptedTurn
	call    int
	systems []string
}

func (c *scriptedCaller) generate(_ context.Context, system string, _ []*ai.Message, _ bool, onChunk func(string) error) (*modelTurn, error) {
	c.systems = append(c.systems, system)
	if c.call >= len(c.turns) {
		return nil, fmt.Errorf("unexpected model call %d", c.call)
	}
	turn := c.turns[c.call]
	c.call++
	if turn.err != nil {
		return nil, turn.err
	}
	for _, chunk := range turn.chunks {
		if err := onChunk(chunk); err != nil {
			return nil, err
		}
	}
	msg := &ai.Message{Role: ai.RoleModel}
	for _, req := range turn.requests {
		msg.Content = append(msg.Content, ai.NewToolRequestPart(req))
	}
	if len(turn.requests) == 0 {
		msg.Content = append(msg.Content, ai.NewTextPart(strings.Join(turn.chunks, "")))
	}
	return &modelTurn{
		text:     strings.Join(turn.chunks, ""),
		message:  msg,
		requests: turn.requests,
	}, nil
}

type fakeRunner struct {
	outputs map[string]any
	errs    map[string]error
}

func (r fakeRunner) Run(_ context.Context, name string, _ any) (any, error) {
	if err, ok := r.errs[name]; ok {
		return nil, err
	}
	if out, ok := r.outputs[name]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("tool %q not found", name)
}

type fakeRetriever struct {
	ctx      *rag.Context
	lastOpts rag.Options
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string, opts rag.Options) *rag.Context {
	r.lastOpts = opts
	if r.ctx != nil {
		return r.ctx
	}
	return &rag.Context{Query: query, HasResults: false}
}

func newTestAgent(caller modelCaller, runner ToolRunner, retriever KnowledgeRetriever) *Agent {
	return &Agent{
		caller:    caller,
		runner:    runner,
		retriever: retriever,
		maxTurns:  DefaultMaxTurns,
		logger:    slog.New(slog.DiscardHandler),
	}
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

// checkStreamInvariants verifies the ordering contract of an event
// stream: every tool_end has a preceding tool_start with the same id,
// the stream ends with done, and nothing follows it.
func checkStreamInvariants(t *testing.T, events []Event) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("empty event stream")
	}
	if last := events[len(events)-1]; last.Type != EventDone {
		t.Errorf("last event = %v, want done", last.Type)
	}
	started := map[string]bool{}
	terminated := false
	for i, ev := range events {
		if terminated {
			t.Errorf("event %d (%v) emitted after done", i, ev.Type)
		}
		switch ev.Type {
		case EventToolStart:
			started[ev.ID] = true
		case EventToolEnd:
			if !started[ev.ID] {
				t.Errorf("tool_end %q has no preceding tool_start", ev.ID)
			}
		case EventDone:
			terminated = true
		}
	}
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestExecuteStream_PlainAnswer(t *testing.T) {
	caller := &scriptedCaller{turns: []scriptedTurn{
		{chunks: []string{"三亚", "值得一去。"}},
	}}
	a := newTestAgent(caller, fakeRunner{}, nil)

	events := collect(a.ExecuteStream(context.Background(), "随便聊聊", nil))
	checkStreamInvariants(t, events)

	contents := eventsOfType(events, EventContent)
	if len(contents) != 2 {
		t.Fatalf("got %d content events, want 2", len(contents))
	}
	if contents[0].Content+contents[1].Content != "三亚值得一去。" {
		t.Errorf("content fragments = %q %q", contents[0].Content, contents[1].Content)
	}
}

func TestExecuteStream_ParallelToolCalls(t *testing.T) {
	caller := &scriptedCaller{turns: []scriptedTurn{
		{requests: []*ai.ToolRequest{
			{Name: "amap_weather", Ref: "r1", Input: map[string]any{"city": "三亚"}},
			{Name: "train_search_tickets", Ref: "r2", Input: map[string]any{"from": "北京"}},
		}},
		{chunks: []string{"天气晴朗，车票充足。"}},
	}}
	runner := fakeRunner{
		outputs: map[string]any{"amap_weather": "晴，28°C"},
		errs:    map[string]error{"train_search_tickets": errors.New("timeout")},
	}
	a := newTestAgent(caller, runner, nil)

	events := collect(a.ExecuteStream(context.Background(), "三亚天气怎么样", nil))
	checkStreamInvariants(t, events)

	starts := eventsOfType(events, EventToolStart)
	ends := eventsOfType(events, EventToolEnd)
	if len(starts) != 2 || len(ends) != 2 {
		t.Fatalf("got %d starts, %d ends, want 2 and 2", len(starts), len(ends))
	}

	byName := map[string]Event{}
	for _, ev := range ends {
		byName[ev.Name] = ev
	}
	if got := byName["amap_weather"]; got.Output != "晴，28°C" || got.Err != "" {
		t.Errorf("weather tool_end = %+v, want success output", got)
	}
	if got := byName["train_search_tickets"]; got.Err != "timeout" {
		t.Errorf("train tool_end = %+v, want error timeout", got)
	}

	// The turn continues past the failed tool.
	if contents := eventsOfType(events, EventContent); len(contents) == 0 {
		t.Error("no content after tool failure, want the loop to continue")
	}

	// Display names resolve from the registry of known tools.
	for _, ev := range starts {
		if ev.Name == "amap_weather" && ev.DisplayName != "查询天气" {
			t.Errorf("displayName = %q, want 查询天气", ev.DisplayName)
		}
	}
}

func TestExecuteStream_ToolStartIDsAreUnique(t *testing.T) {
	caller := &scriptedCaller{turns: []scriptedTurn{
		{requests: []*ai.ToolRequest{
			{Name: "get_current_date", Ref: "r1"},
			{Name: "get_current_date", Ref: "r2"},
		}},
		{chunks: []string{"好的。"}},
	}}
	runner := fakeRunner{outputs: map[string]any{"get_current_date": "当前是 2026年8月30日"}}
	a := newTestAgent(caller, runner, nil)

	events := collect(a.ExecuteStream(context.Background(), "今天和明天分别是几号", nil))
	checkStreamInvariants(t, events)

	starts := eventsOfType(events, EventToolStart)
	if len(starts) != 2 {
		t.Fatalf("got %d starts, want 2", len(starts))
	}
	if starts[0].ID == starts[1].ID {
		t.Error("repeated calls to the same tool share a step id")
	}
}

func TestExecuteStream_ModelFailure(t *testing.T) {
	caller := &scriptedCaller{turns: []scriptedTurn{
		{err: errors.New("upstream unavailable")},
	}}
	a := newTestAgent(caller, fakeRunner{}, nil)

	events := collect(a.ExecuteStream(context.Background(), "厦门怎么玩", nil))
	checkStreamInvariants(t, events)

	errs := eventsOfType(events, EventError)
	if len(errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(errs))
	}
	if errs[0].Err != "upstream unavailable" {
		t.Errorf("error message = %q", errs[0].Err)
	}
}

func TestExecuteStream_EmptyInput(t *testing.T) {
	a := newTestAgent(&scriptedCaller{}, fakeRunner{}, nil)

	events := collect(a.ExecuteStream(context.Background(), "   ", nil))
	checkStreamInvariants(t, events)
	if len(eventsOfType(events, EventError)) != 1 {
		t.Error("empty input did not produce an error event")
	}
}

func TestExecuteStream_MaxTurnsExceeded(t *testing.T) {
	looping := scriptedTurn{requests: []*ai.ToolRequest{{Name: "get_current_date", Ref: "r"}}}
	caller := &scriptedCaller{turns: []scriptedTurn{looping, looping, looping}}
	runner := fakeRunner{outputs: map[string]any{"get_current_date": "..."}}
	a := newTestAgent(caller, runner, nil)
	a.maxTurns = 2

	events := collect(a.ExecuteStream(context.Background(), "现在几点", nil))
	checkStreamInvariants(t, events)
	if len(eventsOfType(events, EventError)) != 1 {
		t.Error("exceeding max turns did not produce an error event")
	}
	if caller.call != 2 {
		t.Errorf("model called %d times, want 2", caller.call)
	}
}

func TestExecuteStream_RetrievalAugmentsPrompt(t *testing.T) {
	retriever := &fakeRetriever{ctx: &rag.Context{
		HasResults:       true,
		Results:          []rag.Result{{}, {}},
		FormattedContext: "### 参考 1：天涯海角（三亚）",
	}}
	caller := &scriptedCaller{turns: []scriptedTurn{
		{chunks: []string{"推荐天涯海角。"}},
	}}
	a := newTestAgent(caller, fakeRunner{}, retriever)

	events := collect(a.ExecuteStream(context.Background(), "三亚有什么好玩的", nil))
	checkStreamInvariants(t, events)

	thinking := eventsOfType(events, EventThinking)
	if len(thinking) == 0 || !strings.Contains(thinking[0].Content, "找到 2 条") {
		t.Errorf("first thinking event = %+v, want retrieval summary", thinking)
	}
	if len(caller.systems) == 0 || !strings.Contains(caller.systems[0], "天涯海角") {
		t.Error("system prompt does not include the retrieved context")
	}
	if retriever.lastOpts.City != "三亚" {
		t.Errorf("retrieval city = %q, want 三亚", retriever.lastOpts.City)
	}
}

func TestExecuteStream_GateSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{ctx: &rag.Context{HasResults: true, Results: []rag.Result{{}}}}
	caller := &scriptedCaller{turns: []scriptedTurn{
		{chunks: []string{"你好！"}},
	}}
	a := newTestAgent(caller, fakeRunner{}, retriever)

	events := collect(a.ExecuteStream(context.Background(), "你好", nil))
	checkStreamInvariants(t, events)
	if retriever.lastOpts != (rag.Options{}) {
		t.Error("greeting should not reach the retriever")
	}
	if len(caller.systems) == 0 || strings.Contains(caller.systems[0], "参考资料") {
		t.Error("greeting turn should use the base system prompt")
	}
}

func TestExecuteStream_Cancellation(t *testing.T) {
	caller := &scriptedCaller{turns: []scriptedTurn{
		{chunks: []string{"第一段。", "第二段。", "第三段。"}},
	}}
	a := newTestAgent(caller, fakeRunner{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stream := a.ExecuteStream(ctx, "厦门三日游", nil)

	// Read up to the first content fragment, then walk away.
	for ev := range stream {
		if ev.Type == EventContent {
			break
		}
	}
	cancel()

	// The channel must close without blocking the producer.
	for range stream {
	}
}

func TestPlainStream_ContentAndDoneOnly(t *testing.T) {
	caller := &scriptedCaller{turns: []scriptedTurn{
		{chunks: []string{"你好", "！"}},
	}}
	a := newTestAgent(caller, fakeRunner{}, nil)

	events := collect(a.PlainStream(context.Background(), "你好", nil))
	checkStreamInvariants(t, events)
	for _, ev := range events {
		switch ev.Type {
		case EventContent, EventDone:
		default:
			t.Errorf("plain stream emitted %v event", ev.Type)
		}
	}
	if len(eventsOfType(events, EventContent)) != 2 {
		t.Errorf("got %d content events, want 2", len(eventsOfType(events, EventContent)))
	}
}

func TestExecute_JoinsContent(t *testing.T) {
	caller := &scriptedCaller{turns: []scriptedTurn{
		{chunks: []string{"Day 1: ", "visit the old town."}},
	}}
	a := newTestAgent(caller, fakeRunner{}, nil)

	got, err := a.Execute(context.Background(), "规划一日游", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "Day 1: visit the old town." {
		t.Errorf("Execute() = %q", got)
	}
}

func TestExecute_PropagatesError(t *testing.T) {
	caller := &scriptedCaller{turns: []scriptedTurn{
		{err: errors.New("upstream unavailable")},
	}}
	a := newTestAgent(caller, fakeRunner{}, nil)

	_, err := a.Execute(context.Background(), "规划一日游", nil)
	if !errors.Is(err, ErrExecutionFail) {
		t.Errorf("Execute() error = %v, want ErrExecutionFail", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New(empty) error = %v, want ErrInvalidConfig", err)
	}
}
