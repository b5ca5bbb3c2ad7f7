// Package mcp exposes the travel knowledge base as a Model Context
// Protocol server. External MCP clients (editors, other agents) get the
// same semantic search the chat agent uses internally, over a stdio
// transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/banlv/banlv/internal/knowledge"
	"github.com/banlv/banlv/internal/rag"
)

// KnowledgeBase is the slice of the knowledge store the server needs.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.SearchResult, error)
	Stats(ctx context.Context) (*knowledge.Stats, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Store   KnowledgeBase
	Logger  *slog.Logger
}

// Server wraps the MCP SDK server around the knowledge base.
type Server struct {
	mcpServer *mcp.Server
	store     KnowledgeBase
	retriever *rag.Retriever
	logger    *slog.Logger
}

// NewServer creates an MCP server exposing the knowledge tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("knowledge store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		store:     cfg.Store,
		retriever: rag.NewRetriever(cfg.Store, logger),
		logger:    logger,
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return s, nil
}

// Run serves MCP protocol traffic on the given transport until ctx is
// cancelled. It blocks.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// SearchKnowledgeInput is the input schema for the search_knowledge tool.
type SearchKnowledgeInput struct {
	Query string `json:"query" jsonschema:"The travel question to search for, in natural language"`
	City  string `json:"city,omitempty" jsonschema:"Optional city name to restrict results to"`
	TopK  int    `json:"topK,omitempty" jsonschema:"Maximum number of results to return"`
}

// KnowledgeStatsInput is the input schema for the knowledge_stats tool.
// The tool takes no parameters.
type KnowledgeStatsInput struct{}

func (s *Server) registerTools() error {
	searchSchema, err := jsonschema.For[SearchKnowledgeInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search_knowledge: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "search_knowledge",
		Description: "Search the travel knowledge base (attractions, food, itineraries) " +
			"using semantic similarity. Returns formatted reference material.",
		InputSchema: searchSchema,
	}, s.SearchKnowledge)

	statsSchema, err := jsonschema.For[KnowledgeStatsInput](nil)
	if err != nil {
		return fmt.Errorf("schema for knowledge_stats: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "knowledge_stats",
		Description: "Report how many knowledge entries are indexed, broken down by city.",
		InputSchema: statsSchema,
	}, s.KnowledgeStats)

	return nil
}

// SearchKnowledge handles the search_knowledge MCP tool call.
func (s *Server) SearchKnowledge(ctx context.Context, _ *mcp.CallToolRequest, in SearchKnowledgeInput) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "query 不能为空"}},
			IsError: true,
		}, nil, nil
	}

	rc := s.retriever.Retrieve(ctx, query, rag.Options{
		City: in.City,
		TopK: in.TopK,
	})
	s.logger.Debug("mcp knowledge search", "query", query, "city", in.City, "hits", len(rc.Results))

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: rc.FormattedContext}},
	}, nil, nil
}

// KnowledgeStats handles the knowledge_stats MCP tool call.
func (s *Server) KnowledgeStats(ctx context.Context, _ *mcp.CallToolRequest, _ KnowledgeStatsInput) (*mcp.CallToolResult, any, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("knowledge stats: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "知识库共 %d 条记录", stats.TotalDocuments)
	if len(stats.ByCity) > 0 {
		b.WriteString("，按城市分布：\n")
		for city, count := range stats.ByCity {
			fmt.Fprintf(&b, "- %s：%d 条\n", city, count)
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, nil, nil
}
