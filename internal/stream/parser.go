// Package stream consumes a server event stream and folds it into
// conversation state. It contains the frame parser, an HTTP client for
// the chat endpoint, and the reducer that mutates an in-progress
// assistant message as events arrive.
package stream

import (
	"bytes"
	"encoding/json"

	"github.com/banlv/banlv/internal/agent"
)

const dataPrefix = "data: "

var frameDelim = []byte("\n\n")

// Parser reassembles events from a byte stream framed as
// "data: <json>\n\n". It keeps a rolling buffer so a frame split
// across reads is held until the rest arrives. Frames whose payload
// fails to decode are dropped; truncation at a read boundary is
// expected, not an error.
type Parser struct {
	buf bytes.Buffer
}

// Feed appends raw bytes and returns every complete event they
// finish. A trailing partial frame stays buffered.
func (p *Parser) Feed(data []byte) []agent.Event {
	p.buf.Write(data)

	var events []agent.Event
	for {
		raw := p.buf.Bytes()
		i := bytes.Index(raw, frameDelim)
		if i < 0 {
			return events
		}
		frame := make([]byte, i)
		copy(frame, raw[:i])
		p.buf.Next(i + len(frameDelim))

		if ev, ok := decodeFrame(frame); ok {
			events = append(events, ev)
		}
	}
}

// Rest returns the bytes of any incomplete frame still buffered.
func (p *Parser) Rest() []byte {
	return p.buf.Bytes()
}

func decodeFrame(frame []byte) (agent.Event, bool) {
	payload := bytes.TrimSpace(frame)
	if after, ok := bytes.CutPrefix(payload, []byte(dataPrefix)); ok {
		payload = after
	}
	if len(payload) == 0 {
		return agent.Event{}, false
	}
	var ev agent.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return agent.Event{}, false
	}
	return ev, true
}
