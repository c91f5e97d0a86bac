// Package llm is a minimal chat-completions client used by the optional
// LLM analyzer agent. It speaks the OpenAI-compatible wire shape so any
// self-hosted or vendor endpoint with that surface works.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config selects the endpoint and model.
type Config struct {
	BaseURL string        // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string        // e.g. gpt-4o-mini
	Timeout time.Duration // per request, default 10s
}

// Client is a thin chat-completions caller with retries handled by resty.
type Client struct {
	http  *resty.Client
	model string
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// New creates a client. Returns an error when the config is unusable so the
// caller can fall back to rule-based analysis at startup, not mid-cycle.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.Model == "" {
		return nil, fmt.Errorf("llm: base URL, API key and model are all required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Client{http: http, model: cfg.Model}, nil
}

// Complete sends one chat exchange and returns the assistant's reply text.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.model, Messages: msgs, Temperature: 0.2, MaxTokens: 512}).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	if resp.IsError() {
		if out.Error != nil {
			return "", fmt.Errorf("llm: %s (%s)", out.Error.Message, out.Error.Type)
		}
		return "", fmt.Errorf("llm: http %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return out.Choices[0].Message.Content, nil
}
