package agent

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of an Event.
type EventType string

const (
	EventThinking  EventType = "thinking"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventContent   EventType = "content"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Event is one element of the ordered stream an agent run emits.
// It is a closed union over EventType; Done is terminal and nothing
// follows it.
type Event struct {
	Type EventType

	// Content carries the text of thinking and content events.
	Content string

	// Tool call fields. ID correlates a tool_end with its tool_start.
	ID          string
	Name        string
	DisplayName string
	Input       map[string]any

	// Output and Err carry a tool_end's result. Err is also the
	// message of an error event.
	Output string
	Err    string
}

func ThinkingEvent(content string) Event {
	return Event{Type: EventThinking, Content: content}
}

func ToolStartEvent(id, name, displayName string, input map[string]any) Event {
	return Event{Type: EventToolStart, ID: id, Name: name, DisplayName: displayName, Input: input}
}

func ToolEndEvent(id, name, output string) Event {
	return Event{Type: EventToolEnd, ID: id, Name: name, Output: output}
}

func ToolErrorEvent(id, name, errMsg string) Event {
	return Event{Type: EventToolEnd, ID: id, Name: name, Err: errMsg}
}

func ContentEvent(content string) Event {
	return Event{Type: EventContent, Content: content}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Err: message}
}

func DoneEvent() Event {
	return Event{Type: EventDone}
}

// MarshalJSON emits the wire shape consumed by stream clients. Done
// events serialize as {"done":true} without a type tag.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventThinking, EventContent:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventToolStart:
		input := e.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type        EventType      `json:"type"`
			ID          string         `json:"id"`
			Name        string         `json:"name"`
			DisplayName string         `json:"displayName"`
			Input       map[string]any `json:"input"`
		}{e.Type, e.ID, e.Name, e.DisplayName, input})
	case EventToolEnd:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			ID     string    `json:"id"`
			Name   string    `json:"name"`
			Output string    `json:"output"`
			Error  string    `json:"error,omitempty"`
		}{e.Type, e.ID, e.Name, e.Output, e.Err})
	case EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Err})
	case EventDone:
		return json.Marshal(struct {
			Done bool `json:"done"`
		}{true})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON parses the wire shape back into an Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type        EventType      `json:"type"`
		Done        bool           `json:"done"`
		Content     string         `json:"content"`
		ID          string         `json:"id"`
		Name        string         `json:"name"`
		DisplayName string         `json:"displayName"`
		Input       map[string]any `json:"input"`
		Output      string         `json:"output"`
		Error       string         `json:"error"`
		Message     string         `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	if probe.Done && probe.Type == "" {
		*e = DoneEvent()
		return nil
	}

	switch probe.Type {
	case EventThinking, EventContent:
		*e = Event{Type: probe.Type, Content: probe.Content}
	case EventToolStart:
		*e = Event{Type: EventToolStart, ID: probe.ID, Name: probe.Name, DisplayName: probe.DisplayName, Input: probe.Input}
	case EventToolEnd:
		*e = Event{Type: EventToolEnd, ID: probe.ID, Name: probe.Name, Output: probe.Output, Err: probe.Error}
	case EventError:
		*e = Event{Type: EventError, Err: probe.Message}
	case EventDone:
		*e = DoneEvent()
	default:
		return fmt.Errorf("unknown event type %q", probe.Type)
	}
	return nil
}
