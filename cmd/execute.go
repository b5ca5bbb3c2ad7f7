// Package cmd contains the command line entry points:
//   - serve: HTTP API server (chat, sessions, health)
//   - ask: one-shot question, answer on stdout
//   - chat: interactive streaming chat against a running server
//   - ingest: knowledge base ingestion pipeline
//   - mcp: Model Context Protocol server over stdio
//   - version: build information
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/banlv/banlv/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Execute is the main entry point, called from main().
func Execute() error {
	if len(os.Args) < 2 {
		printHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(os.Args[2:])
	case "ask":
		return runAsk(os.Args[2:])
	case "chat":
		return runChat(os.Args[2:])
	case "ingest":
		return runIngest(os.Args[2:])
	case "mcp":
		return runMCP()
	case "version", "--version", "-v":
		printVersionInfo()
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

// initLogger builds the process logger. DEBUG enables debug level;
// BANLV_LOG_JSON switches to JSON output. Logs go to stderr so stdout
// stays clean for command output and the MCP JSON-RPC transport.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("BANLV_LOG_JSON") != "" {
		cfg.JSON = true
	}
	return log.NewWithWriter(os.Stderr, cfg)
}

func printVersionInfo() {
	fmt.Printf("banlv v%s\n", Version)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("banlv - 伴旅 travel assistant backend")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  banlv serve [addr]        Start the HTTP API server")
	fmt.Println("  banlv ask <question>      Ask one question, print the answer")
	fmt.Println("  banlv chat [--addr url]   Interactive chat against a running server")
	fmt.Println("  banlv ingest [path]       Import POI documents into the knowledge base")
	fmt.Println("    --clear                 Clear the knowledge base before importing")
	fmt.Println("    --dry-run               Estimate chunk and batch counts without writing")
	fmt.Println("  banlv mcp                 Start the MCP knowledge server (stdio)")
	fmt.Println("  banlv version             Show version information")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DASHSCOPE_API_KEY   API key for the default DashScope-compatible provider")
	fmt.Println("  DATABASE_URL        PostgreSQL connection URL")
	fmt.Println("  DEBUG               Enable debug logging")
}
