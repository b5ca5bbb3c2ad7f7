package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEventWriter_Framing(t *testing.T) {
	rec := httptest.NewRecorder()
	ew, err := newEventWriter(rec)
	if err != nil {
		t.Fatalf("newEventWriter() error = %v", err)
	}

	if err := ew.WriteEvent(map[string]any{"type": "content", "content": "你好"}); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}
	if err := ew.WriteEvent(map[string]bool{"done": true}); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}

	got := rec.Body.String()
	want := "data: {\"content\":\"你好\",\"type\":\"content\"}\n\ndata: {\"done\":true}\n\n"
	if got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestEventWriter_WriteAfterCloseIsNoOp(t *testing.T) {
	rec := httptest.NewRecorder()
	ew, err := newEventWriter(rec)
	if err != nil {
		t.Fatalf("newEventWriter() error = %v", err)
	}

	ew.Close()
	ew.Close() // idempotent

	if err := ew.WriteEvent(map[string]bool{"done": true}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("WriteEvent() after close error = %v, want ErrStreamClosed", err)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("closed writer wrote %q", rec.Body.String())
	}
}

func TestEventWriter_RequiresFlusher(t *testing.T) {
	if _, err := newEventWriter(plainWriter{httptest.NewRecorder()}); err == nil {
		t.Error("newEventWriter() error = nil for non-flushing writer")
	}
}

// plainWriter hides the Flusher implementation of the recorder.
type plainWriter struct {
	http.ResponseWriter
}
