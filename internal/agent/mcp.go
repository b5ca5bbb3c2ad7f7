package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/mcp"

	"github.com/banlv/banlv/internal/config"
)

// MCPManager owns the MCP host connecting the agent to its external
// capability servers (maps, flights, train tickets). Connections are
// best-effort: a server that fails to start is logged and skipped so
// the remaining capability set still works.
type MCPManager struct {
	host      *mcp.MCPHost
	connected []string
	logger    *slog.Logger
}

// NewMCPManager connects to the configured MCP servers.
func NewMCPManager(ctx context.Context, g *genkit.Genkit, configs []config.MCPConfig, logger *slog.Logger) (*MCPManager, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	host, err := mcp.NewMCPHost(g, mcp.MCPHostOptions{
		Name:    "banlv-mcp",
		Version: "1.0.0",
	})
	if err != nil {
		return nil, fmt.Errorf("create mcp host: %w", err)
	}

	m := &MCPManager{host: host, logger: logger}

	for _, c := range configs {
		if err := host.Connect(ctx, g, c.Name, c.ClientOptions); err != nil {
			logger.Warn("mcp server unavailable, skipping", "server", c.Name, "error", err)
			continue
		}
		m.connected = append(m.connected, c.Name)
		logger.Info("mcp server connected", "server", c.Name)
	}

	return m, nil
}

// ActiveTools returns the tools of all connected MCP servers. Failures
// degrade to an empty set so the agent still runs with local tools.
func (m *MCPManager) ActiveTools(ctx context.Context, g *genkit.Genkit) []ai.Tool {
	tools, err := m.host.GetActiveTools(ctx, g)
	if err != nil {
		m.logger.Warn("failed to list mcp tools", "error", err)
		return nil
	}
	return tools
}

// Disconnect closes the connection to one server.
func (m *MCPManager) Disconnect(ctx context.Context, serverName string) error {
	if err := m.host.Disconnect(ctx, serverName); err != nil {
		return fmt.Errorf("disconnect mcp server %s: %w", serverName, err)
	}
	return nil
}

// Close disconnects every connected server. Used during shutdown;
// failures are logged, not returned.
func (m *MCPManager) Close(ctx context.Context) {
	for _, name := range m.connected {
		if err := m.Disconnect(ctx, name); err != nil {
			m.logger.Warn("mcp disconnect failed", "server", name, "error", err)
		}
	}
	m.connected = nil
}
