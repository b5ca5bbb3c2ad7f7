package app

import (
	"context"
	"testing"

	"github.com/banlv/banlv/internal/config"
)

func TestSetup_RejectsInvalidConfig(t *testing.T) {
	cfg := &config.Config{Provider: "unsupported"}

	if _, err := Setup(context.Background(), cfg, nil); err == nil {
		t.Error("Setup() error = nil, want configuration failure")
	}
}

func TestApp_CloseOnPartialApp(t *testing.T) {
	a := &App{}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
