package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/banlv/banlv/api"
	"github.com/banlv/banlv/internal/app"
	"github.com/banlv/banlv/internal/config"
)

// runServe initializes the application and starts the HTTP API server.
func runServe(args []string) error {
	logger := initLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	defaultAddr := cfg.ServerAddr
	if defaultAddr == "" {
		defaultAddr = api.DefaultAddr
	}
	addr, err := parseServeAddr(defaultAddr, args)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting HTTP API server", "version", Version)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	server := api.NewServer(api.Config{
		Addr:           addr,
		CORSOrigins:    cfg.CORSOrigins,
		TrustProxy:     cfg.TrustProxy,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, a.DBPool, a.Sessions, a.Agent, logger)

	return server.Run(ctx)
}
