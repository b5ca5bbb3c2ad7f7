// Package app assembles the application from its parts: configuration,
// database pool, Genkit with the configured model provider, knowledge
// store, retrieval, session persistence, and the agent with its
// capability set. Entry points call Setup once and share the returned
// App.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banlv/banlv/internal/agent"
	"github.com/banlv/banlv/internal/config"
	"github.com/banlv/banlv/internal/knowledge"
	"github.com/banlv/banlv/internal/rag"
	"github.com/banlv/banlv/internal/session"
)

// App is the application container. Fields are initialized by Setup
// and shared across requests for the process lifetime.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Knowledge *knowledge.Store
	Retriever *rag.Retriever
	Sessions  *session.Store
	Agent     *agent.Agent

	logger       *slog.Logger
	mcp          *agent.MCPManager
	otelShutdown func(context.Context) error
}

// Close releases everything Setup acquired. Safe to call on a
// partially initialized App.
func (a *App) Close() error {
	if a.logger != nil {
		a.logger.Info("shutting down application")
	}

	if a.mcp != nil {
		mcpCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		a.mcp.Close(mcpCtx)
		cancel()
	}

	if a.DBPool != nil {
		a.DBPool.Close()
	}

	if a.otelShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.otelShutdown(shutdownCtx); err != nil && a.logger != nil {
			a.logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
