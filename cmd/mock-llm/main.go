// Package main implements a mock oracle server for development and e2e
// testing. It serves OpenAI-compatible /v1/chat/completions responses,
// routing by the system prompt of the incoming request: classification,
// parameter extraction, quantity extraction, and batch splitting each get
// a deterministic rule-based answer. This removes the need for a real
// language model during wiring tests, making them fast, deterministic,
// and offline-capable.
//
// Usage:
//
//	mock-llm -port 11434
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// --- OpenAI-compatible types ---

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

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Server ---

// capturedRequest stores the key fields of an incoming oracle request for
// test verification via the /requests endpoint.
type capturedRequest struct {
	Model     string        `json:"model"`
	Task      string        `json:"task"`
	Messages  []chatMessage `json:"messages"`
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	calls atomic.Int64

	requestsMu sync.Mutex
	requests   []capturedRequest
}

func main() {
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	s := &server{}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock oracle listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	system, user := splitMessages(req.Messages)
	taskName, content := answer(system, user)

	callNum := s.calls.Add(1)
	log.Printf("[call %d] model=%s task=%s", callNum, req.Model, taskName)

	s.requestsMu.Lock()
	s.requests = append(s.requests, capturedRequest{
		Model:     req.Model,
		Task:      taskName,
		Messages:  req.Messages,
		Timestamp: time.Now().UnixMilli(),
	})
	s.requestsMu.Unlock()

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", callNum),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(system+user) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(system+user) + len(content)) / 4,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"calls": s.calls.Load()})
}

func (s *server) handleRequests(w http.ResponseWriter, _ *http.Request) {
	s.requestsMu.Lock()
	defer s.requestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.requests)
}

func splitMessages(msgs []chatMessage) (system, user string) {
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			user = m.Content
		}
	}
	return system, user
}

// answer routes a request by its system prompt and produces a rule-based
// reply in the shape the pipeline expects.
func answer(system, user string) (taskName, content string) {
	switch {
	case strings.Contains(system, "ОДНО из значений"):
		return "classify", classify(user)
	case strings.Contains(system, "Извлеки количество"):
		return "quantity", quantity(user)
	case strings.Contains(system, "Разбей"):
		return "split", split(user)
	case strings.Contains(system, "извлеки параметры"):
		return "extract", extract(user)
	default:
		return "unknown", "unknown"
	}
}

// classify picks a component type from keyword matches, most specific first.
func classify(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "болт") && strings.Contains(q, "банджо"):
		return "banjo-bolt"
	case strings.Contains(q, "банджо"):
		return "banjo"
	case strings.Contains(q, "тройник"):
		return "adapter-tee"
	case strings.Contains(q, "адаптер") || strings.Contains(q, "переходник"):
		return "adapters"
	case strings.Contains(q, "заглушк"):
		return "plugs"
	case strings.Contains(q, "брс") || strings.Contains(q, "быстроразъ"):
		return "brs"
	case strings.Contains(q, "муфт"):
		return "coupling"
	case strings.Contains(q, "фитинг"):
		return "fittings"
	default:
		return "unknown"
	}
}

var (
	numberRe   = regexp.MustCompile(`\d+`)
	standardRe = regexp.MustCompile(`(?i)\b(DKOL|DKOS|NPTF|ORFS|BSPT|BSP|JIC)\b`)
	dyRe       = regexp.MustCompile(`(?i)DN\s*(\d+)`)
	angleRe    = regexp.MustCompile(`(\d+)\s*°`)
)

func quantity(query string) string {
	if m := numberRe.FindString(query); m != "" {
		return m
	}
	return "Не указано"
}

func split(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// extract pulls the recognizable parameters out of the query text.
func extract(query string) string {
	params := map[string]any{}
	if m := standardRe.FindString(query); m != "" {
		params["standard"] = strings.ToUpper(m)
	}
	if m := dyRe.FindStringSubmatch(query); m != nil {
		params["Dy"] = jsonNumber(m[1])
	}
	if m := angleRe.FindStringSubmatch(query); m != nil {
		params["angle"] = jsonNumber(m[1])
	}

	data, _ := json.Marshal(params)
	return string(data)
}

func jsonNumber(s string) json.Number {
	return json.Number(s)
}
