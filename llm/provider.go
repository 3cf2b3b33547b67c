package llm

import (
	"net/http"
	"sync"
)

// Provider adapts the client to a concrete chat-completion API dialect.
type Provider interface {
	// Name returns the provider identifier (e.g. "openrouter").
	Name() string

	// BuildURL constructs the full completions endpoint URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific headers, including authentication.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody encodes the request for the provider's wire format.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the completion from the provider's response body.
	ParseResponse(body []byte) (*Response, error)
}

var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry. Providers register
// themselves from init in the providers package.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name, or nil.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}
