package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by writes to a closed event stream.
var ErrStreamClosed = errors.New("event stream closed")

// eventWriter frames JSON payloads as server-sent events. Writes and
// Close are guarded so that late events after the stream closed (the
// client may disconnect mid-stream) are dropped instead of panicking.
type eventWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// newEventWriter sets the SSE headers and returns a writer, or an
// error when the underlying ResponseWriter cannot flush.
func newEventWriter(w http.ResponseWriter) (*eventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &eventWriter{w: w, flusher: flusher}, nil
}

// WriteEvent marshals v and writes one "data: <json>\n\n" frame.
// Writing to a closed stream is a silent no-op.
func (ew *eventWriter) WriteEvent(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ew.mu.Lock()
	defer ew.mu.Unlock()
	if ew.closed {
		return ErrStreamClosed
	}
	if _, err := fmt.Fprintf(ew.w, "data: %s\n\n", data); err != nil {
		ew.closed = true
		return ErrStreamClosed
	}
	ew.flusher.Flush()
	return nil
}

// Close marks the stream closed. Safe to call more than once.
func (ew *eventWriter) Close() {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	ew.closed = true
}
