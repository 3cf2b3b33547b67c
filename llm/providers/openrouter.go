// Package providers registers the concrete oracle wire dialects.
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hydrofind/hydrofind/llm"
)

// OpenRouterProvider speaks the OpenAI-compatible chat completions API
// against OpenRouter (or any endpoint with the same shape, such as vLLM).
type OpenRouterProvider struct{}

func init() {
	llm.RegisterProvider(&OpenRouterProvider{})
}

// Name returns the provider identifier.
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// BuildURL constructs the chat completions endpoint.
func (p *OpenRouterProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds bearer auth plus the attribution headers OpenRouter
// uses for ranking.
func (p *OpenRouterProvider) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("HTTP-Referer", "http://localhost")
	req.Header.Set("X-Title", "HydroFind")
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequestBody encodes an OpenAI-format chat request.
func (p *OpenRouterProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	apiMessages := make([]chatMessage, len(messages))
	for i, msg := range messages {
		apiMessages[i] = chatMessage{Role: msg.Role, Content: msg.Content}
	}

	req := chatRequest{
		Model:       model,
		Messages:    apiMessages,
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}
	return json.Marshal(req)
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts the first choice from an OpenAI-format response.
func (p *OpenRouterProvider) ParseResponse(body []byte) (*llm.Response, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &llm.Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}
