// Package api provides the HTTP REST API for the travel assistant.
//
// Endpoints:
//
//	POST   /api/chat                    chat (SSE stream or JSON)
//	GET    /api/sessions                list sessions
//	POST   /api/sessions                create session
//	GET    /api/sessions/{id}          session detail
//	PATCH  /api/sessions/{id}          rename session
//	DELETE /api/sessions/{id}          delete session
//	GET    /api/sessions/{id}/messages session messages
//	GET    /health                      liveness probe
//	GET    /ready                       readiness probe
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banlv/banlv/internal/agent"
	"github.com/banlv/banlv/internal/log"
	"github.com/banlv/banlv/internal/session"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Chat streams can run for a while, so this is generous.
	WriteTimeout = 2 * time.Minute

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 2 * time.Minute

	// MaxBodyBytes caps request body size.
	MaxBodyBytes = 1 << 20
)

// Config carries the server's tunable settings.
type Config struct {
	Addr           string
	CORSOrigins    []string
	TrustProxy     bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server is the HTTP server for the assistant's REST API.
type Server struct {
	mux    *http.ServeMux
	cfg    Config
	logger log.Logger

	limiter *ipRateLimiter

	health   *HealthHandler
	sessions *SessionHandler
	chat     *ChatHandler
}

// NewServer creates a server with all routes registered.
func NewServer(cfg Config, pool *pgxpool.Pool, store *session.Store, ag *agent.Agent, logger log.Logger) *Server {
	mux := http.NewServeMux()

	var chatAgent ChatAgent
	if ag != nil {
		chatAgent = ag
	}

	s := &Server{
		mux:      mux,
		cfg:      cfg,
		logger:   logger,
		health:   NewHealthHandler(pool, logger),
		sessions: NewSessionHandler(store, logger),
		chat:     NewChatHandler(chatAgent, store, logger),
	}

	if cfg.RateLimitRPS > 0 {
		s.limiter = newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustProxy)
	}

	s.health.RegisterRoutes(mux)
	s.sessions.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with the middleware chain applied.
// Order: recovery → request id → logging → CORS → rate limit → mux.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger),
		corsMiddleware(s.cfg.CORSOrigins),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, s.limiter.middleware)
	}
	return chain(http.MaxBytesHandler(s.mux, MaxBodyBytes), middlewares...)
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		if s.limiter != nil {
			s.limiter.stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
