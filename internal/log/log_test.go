package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	if New(Config{}) == nil {
		t.Fatal("New() returned nil")
	}
}

func TestNewWithWriter_TextAttrs(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})
	logger.Info("retrieval completed", "results", 3)

	out := buf.String()
	if !strings.Contains(out, "retrieval completed") {
		t.Errorf("output missing message: %s", out)
	}
	if !strings.Contains(out, "results=3") {
		t.Errorf("output missing attr: %s", out)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo, JSON: true})
	logger.Info("starting HTTP server", "addr", ":3400")

	out := buf.String()
	if !strings.Contains(out, `"msg":"starting HTTP server"`) {
		t.Errorf("output is not JSON with msg field: %s", out)
	}
	if !strings.Contains(out, `"addr":":3400"`) {
		t.Errorf("output missing attr: %s", out)
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	if logger == nil {
		t.Fatal("NewNop() returned nil")
	}
	// Discards without panicking.
	logger.Info("discarded")
	logger.Error("also discarded")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})
	logger.With("component", "ingest").Info("batch done")

	if out := buf.String(); !strings.Contains(out, "component=ingest") {
		t.Errorf("output missing component attr: %s", out)
	}
}

func TestLogger_LevelNames(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelDebug})
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	out := buf.String()
	for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if !strings.Contains(out, level) {
			t.Errorf("output missing %s record: %s", level, out)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})
	logger.Debug("below threshold")
	logger.Info("at threshold")

	out := buf.String()
	if strings.Contains(out, "below threshold") {
		t.Errorf("debug record leaked through info level: %s", out)
	}
	if !strings.Contains(out, "at threshold") {
		t.Errorf("info record filtered out: %s", out)
	}
}

func TestLoggerAlias(t *testing.T) {
	// Logger must stay assignable from *slog.Logger; every package
	// takes log.Logger but callers often hold a slog handle.
	var l Logger = slog.Default()
	if l == nil {
		t.Fatal("alias assignment produced nil")
	}
}
