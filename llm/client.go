// Package llm is the gateway to the external language-model oracle. It
// exposes four typed operations (classify, parameter extraction, quantity
// extraction, batch splitting) over a one-shot HTTP chat-completion call.
// The gateway never caches and never retries internally; callers cache at
// the task-store layer and retry via the queue.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize caps the oracle response body read.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Defaults for oracle calls per the upstream contract.
const (
	DefaultTemperature = 0.2
	DefaultTimeout     = 120 * time.Second
)

// Message is one chat turn sent to the oracle.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the oracle's completion.
type Response struct {
	Content      string
	Model        string
	TokensUsed   int
	FinishReason string
}

// ClientConfig carries the oracle endpoint settings.
type ClientConfig struct {
	// Provider names the registered wire dialect. Default "openrouter".
	Provider string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string

	// APIKey authenticates requests.
	APIKey string

	// Temperature for all calls. Zero means DefaultTemperature.
	Temperature float64

	// Timeout bounds one oracle call. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxTokens limits response length. Zero uses the endpoint default.
	MaxTokens int
}

// Client issues single-shot completion requests to the oracle.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client (tests use httptest servers).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an oracle client.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.Provider == "" {
		cfg.Provider = "openrouter"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends one completion request. Connection and 5xx/429 failures
// come back transient; auth and request-shape failures come back malformed.
func (c *Client) Complete(ctx context.Context, system, user string) (*Response, error) {
	provider := GetProvider(c.cfg.Provider)
	if provider == nil {
		return nil, NewMalformedError(fmt.Errorf("unknown provider: %s", c.cfg.Provider))
	}

	temp := c.cfg.Temperature
	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	body, err := provider.BuildRequestBody(c.cfg.Model, messages, &temp, c.cfg.MaxTokens)
	if err != nil {
		return nil, NewMalformedError(fmt.Errorf("build request body: %w", err))
	}

	url := provider.BuildURL(c.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewMalformedError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq, c.cfg.APIKey)

	c.logger.Debug("Sending oracle request",
		"provider", c.cfg.Provider,
		"model", c.cfg.Model,
		"url", url)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("oracle request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read oracle response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := provider.ParseResponse(respBody)
	if err != nil {
		return nil, NewMalformedError(fmt.Errorf("parse oracle response: %w", err))
	}
	return resp, nil
}

// classifyHTTPError maps an oracle HTTP status onto the error taxonomy.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("oracle API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	default:
		// Auth failures, bad requests, everything else: not retryable.
		return NewMalformedError(err)
	}
}
