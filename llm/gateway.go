package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/hydrofind/hydrofind/llm/prompt"
	"github.com/hydrofind/hydrofind/task"
)

// noQuantityAnswer is the oracle's literal answer when a query names no
// quantity.
const noQuantityAnswer = "не указано"

// Gateway exposes the typed oracle operations the worker pipeline needs.
// All operations are idempotent from the caller's perspective.
type Gateway struct {
	client *Client
	logger *slog.Logger
}

// NewGateway wraps an oracle client.
func NewGateway(client *Client, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{client: client, logger: logger}
}

// Classify determines the component type of a query. An empty or
// out-of-set oracle answer yields TypeUnknown, never an error; transport
// failures are returned for the retry policy to act on.
func (g *Gateway) Classify(ctx context.Context, query string) (task.ComponentType, error) {
	system, err := prompt.ForTask(prompt.TaskClassify)
	if err != nil {
		return task.TypeUnknown, err
	}

	resp, err := g.client.Complete(ctx, system, query)
	if err != nil {
		return task.TypeUnknown, err
	}

	ct := task.ParseComponentType(resp.Content)
	g.logger.Debug("Classified query",
		"component_type", ct,
		"raw_answer", truncate(resp.Content, 60))
	return ct, nil
}

// ExtractParams asks the oracle for the typed fields of a component. The
// result is nil when the oracle answers nothing; a non-JSON answer comes
// back as {"raw_response": text} so the catalog text search still runs.
func (g *Gateway) ExtractParams(ctx context.Context, query string, ct task.ComponentType) (map[string]any, error) {
	system, err := prompt.ForComponent(ct)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Complete(ctx, system, query)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return nil, nil
	}

	if raw := ExtractJSON(content); raw != "" {
		var params map[string]any
		if err := json.Unmarshal([]byte(raw), &params); err == nil {
			return params, nil
		}
	}

	return map[string]any{"raw_response": content}, nil
}

// ExtractQuantity pulls an item count out of a query line. Returns nil
// when the oracle answers "не указано", nothing, or no digits; otherwise
// the longest leading digit run of the first number in the answer.
func (g *Gateway) ExtractQuantity(ctx context.Context, query string) (*int, error) {
	system, err := prompt.ForTask(prompt.TaskQuantity)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Complete(ctx, system, query)
	if err != nil {
		return nil, err
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" || strings.EqualFold(answer, noQuantityAnswer) {
		return nil, nil
	}

	qty, ok := leadingNumber(answer)
	if !ok {
		return nil, nil
	}
	return &qty, nil
}

// SplitBatch breaks a multi-line order text into individual component
// lines. When the oracle answers nothing, the raw input is treated as a
// single line rather than failing the batch.
func (g *Gateway) SplitBatch(ctx context.Context, text string) ([]string, error) {
	system, err := prompt.ForTask(prompt.TaskSplit)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Complete(ctx, system, text)
	if err != nil {
		return nil, err
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		answer = text
	}

	var lines []string
	for _, line := range strings.Split(answer, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines, nil
}

// truncate shortens s to at most maxLen runes for log output.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// leadingNumber parses the first digit run in s as a non-negative integer.
func leadingNumber(s string) (int, bool) {
	start := -1
	for i, r := range s {
		if unicode.IsDigit(r) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}

	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	var n int
	if _, err := fmt.Sscanf(s[start:end], "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}
