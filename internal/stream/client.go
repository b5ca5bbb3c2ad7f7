package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banlv/banlv/internal/agent"
	"github.com/banlv/banlv/internal/log"
)

// Request is the chat endpoint request body.
type Request struct {
	Message   string          `json:"message"`
	History   []agent.Message `json:"history,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Stream    bool            `json:"stream"`
	UseAgent  bool            `json:"useAgent"`
}

// Client talks to the streaming chat endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  log.Logger
}

// NewClient creates a chat client for the given base URL.
func NewClient(baseURL string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logger,
	}
}

// Stream posts a chat request and returns the decoded event stream.
// The channel closes when the server finishes or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan agent.Event, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var envelope struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope); decodeErr == nil && envelope.Error != "" {
			return nil, fmt.Errorf("chat request failed (%d): %s", resp.StatusCode, envelope.Error)
		}
		return nil, fmt.Errorf("chat request failed: status %d", resp.StatusCode)
	}

	events := make(chan agent.Event)
	go c.readLoop(ctx, resp.Body, events)
	return events, nil
}

// Sender adapts the client to the reducer's send function.
func (c *Client) Sender(useAgent bool) Sender {
	return func(ctx context.Context, input string, history []agent.Message) (<-chan agent.Event, error) {
		return c.Stream(ctx, Request{Message: input, History: history, UseAgent: useAgent})
	}
}

func (c *Client) readLoop(ctx context.Context, body io.ReadCloser, events chan<- agent.Event) {
	defer close(events)
	defer body.Close()

	var parser Parser
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				c.logger.Debug("stream read ended", "error", err)
			}
			return
		}
	}
}
