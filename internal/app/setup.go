package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openai/openai-go/option"

	"github.com/banlv/banlv/db"
	"github.com/banlv/banlv/internal/agent"
	"github.com/banlv/banlv/internal/config"
	"github.com/banlv/banlv/internal/knowledge"
	"github.com/banlv/banlv/internal/observability"
	"github.com/banlv/banlv/internal/rag"
	"github.com/banlv/banlv/internal/session"
)

const closeTimeout = 5 * time.Second

// Setup creates and initializes the application. Call Close on the
// returned App to release its resources.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first, so Genkit's TracerProvider is ready before any
	// span is created.
	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	store, err := knowledge.NewStore(knowledge.Config{
		DB:       pool,
		Embedder: embedder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Knowledge = store
	a.Retriever = rag.NewRetriever(store, logger)

	sessions, err := session.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	a.Sessions = sessions

	retriever := &configuredRetriever{
		retriever: a.Retriever,
		topK:      cfg.RAGTopK,
		threshold: cfg.RAGThreshold,
	}

	tools, mcpManager := provideTools(ctx, g, cfg, retriever, logger)
	a.mcp = mcpManager

	ag, err := agent.New(agent.Config{
		Genkit:    g,
		ModelName: cfg.FullModelName(),
		Tools:     tools,
		Retriever: retriever,
		MaxTurns:  cfg.MaxTurns,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	a.Agent = ag

	return a, nil
}

// configuredRetriever injects the configured top-K and threshold into
// every retrieval that does not set them explicitly.
type configuredRetriever struct {
	retriever *rag.Retriever
	topK      int
	threshold float64
}

func (c *configuredRetriever) Retrieve(ctx context.Context, query string, opts rag.Options) *rag.Context {
	if opts.TopK <= 0 {
		opts.TopK = c.topK
	}
	if opts.Threshold <= 0 {
		opts.Threshold = c.threshold
	}
	return c.retriever.Retrieve(ctx, query, opts)
}

// provideDBPool runs migrations and opens the PostgreSQL pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured model provider.
// openai covers every OpenAI-compatible endpoint (DashScope compatible
// mode by default); ollama requires explicit model registration.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit", "provider", "ollama",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderGemini, config.ProviderGoogleAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized genkit", "provider", "googleai", "model", cfg.ModelName)

	default: // openai-compatible (DashScope)
		oai := &openai.OpenAI{APIKey: openAIAPIKey()}
		if cfg.OpenAIBaseURL != "" {
			oai.Opts = append(oai.Opts, option.WithBaseURL(cfg.OpenAIBaseURL))
		}
		g = genkit.Init(ctx, genkit.WithPlugins(oai))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit", "provider", "openai",
			"model", cfg.ModelName, "base_url", cfg.OpenAIBaseURL)
	}

	return g, nil
}

// openAIAPIKey resolves the API key for the OpenAI-compatible
// endpoint. DASHSCOPE_API_KEY takes priority so a DashScope deployment
// needs no OpenAI-named variable.
func openAIAPIKey() string {
	if key := os.Getenv("DASHSCOPE_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. Each provider registers embedders differently.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit.
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderGemini, config.ProviderGoogleAI:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	default:
		// The openai plugin auto-registers embedders in Init.
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	}
}

// provideTools assembles the agent's capability set: built-in tools,
// the knowledge search tool, and whatever MCP capability servers
// connected. MCP failures degrade to a smaller tool set.
func provideTools(ctx context.Context, g *genkit.Genkit, cfg *config.Config, retriever agent.KnowledgeRetriever, logger *slog.Logger) ([]ai.Tool, *agent.MCPManager) {
	tools := agent.RegisterLocalTools(g)
	tools = append(tools, agent.RegisterKnowledgeTool(g, retriever))
	localCount := len(tools)

	mcpConfigs := config.LoadMCPConfigs(cfg)
	manager, err := agent.NewMCPManager(ctx, g, mcpConfigs, logger)
	if err != nil {
		logger.Warn("mcp host unavailable, continuing with local tools only", "error", err)
		return tools, nil
	}

	mcpTools := manager.ActiveTools(ctx, g)
	tools = append(tools, mcpTools...)
	logger.Info("capability set assembled",
		"local_tools", localCount, "mcp_tools", len(mcpTools))

	return tools, manager
}
