package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrofind/hydrofind/llm"
	_ "github.com/hydrofind/hydrofind/llm/providers"
)

func TestClient_Complete_Success(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		assert.InDelta(t, 0.2, req["temperature"], 0.001)

		resp := map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{
					"message":       map[string]string{"role": "assistant", "content": "fittings"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"total_tokens": 7},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := llm.NewClient(llm.ClientConfig{
		BaseURL: server.URL,
		Model:   "test-model",
		APIKey:  "secret",
	})

	resp, err := client.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "fittings", resp.Content)
	assert.Equal(t, 7, resp.TokensUsed)

	// One-shot: exactly one HTTP request, no internal retry.
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Complete_NoInternalRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := llm.NewClient(llm.ClientConfig{BaseURL: server.URL, Model: "m"})

	_, err := client.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Complete_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := llm.NewClient(llm.ClientConfig{BaseURL: server.URL, Model: "m"})
		_, err := client.Complete(context.Background(), "s", "u")
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.transient, llm.IsTransient(err), "status %d", tt.status)
		assert.Equal(t, !tt.transient, llm.IsMalformed(err), "status %d", tt.status)

		server.Close()
	}
}

func TestClient_Complete_ConnectionErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Refuse connections.

	client := llm.NewClient(llm.ClientConfig{BaseURL: server.URL, Model: "m"})
	_, err := client.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func TestClient_Complete_UnknownProvider(t *testing.T) {
	client := llm.NewClient(llm.ClientConfig{Provider: "nope", Model: "m"})
	_, err := client.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, llm.IsMalformed(err))
}
