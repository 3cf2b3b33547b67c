package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"Фитинг DKOL 12x1.5 DN10", "fittings"},
		{"Адаптер BSP-JIC прямой", "adapters"},
		{"Переходник под гайку", "adapters"},
		{"Заглушка BSP 1/2", "plugs"},
		{"Адаптер тройник BSP", "adapter-tee"},
		{"Банджо DN8", "banjo"},
		{"Болт банджо M12", "banjo-bolt"},
		{"БРС тяжелая серия", "brs"},
		{"Муфта interlock DN25", "coupling"},
		{"Прокладка резиновая", "unknown"},
	}

	for _, tt := range tests {
		if got := classify(tt.query); got != tt.want {
			t.Errorf("classify(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestQuantity(t *testing.T) {
	if got := quantity("Муфта DN25 - 100шт"); got != "25" {
		t.Errorf("quantity returned %q, want first number 25", got)
	}
	if got := quantity("Муфта без цифр"); got != "Не указано" {
		t.Errorf("quantity returned %q for digitless input", got)
	}
}

func TestSplit(t *testing.T) {
	in := "Муфта DN25 - 100шт\n\n  Фитинг BSP - 5шт  \n"
	got := split(in)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), got)
	}
	if lines[1] != "Фитинг BSP - 5шт" {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestExtract(t *testing.T) {
	out := extract("Фитинг DKOL DN10 90°")

	var params map[string]any
	if err := json.Unmarshal([]byte(out), &params); err != nil {
		t.Fatalf("extract produced invalid JSON: %v", err)
	}
	if params["standard"] != "DKOL" {
		t.Errorf("expected standard DKOL, got %v", params["standard"])
	}
	if params["Dy"] != float64(10) {
		t.Errorf("expected Dy 10, got %v", params["Dy"])
	}
	if params["angle"] != float64(90) {
		t.Errorf("expected angle 90, got %v", params["angle"])
	}
}

func TestHandleChatCompletions_RoutesBySystemPrompt(t *testing.T) {
	s := &server{}
	ts := httptest.NewServer(http.HandlerFunc(s.handleChatCompletions))
	defer ts.Close()

	body, _ := json.Marshal(chatRequest{
		Model: "mock",
		Messages: []chatMessage{
			{Role: "system", Content: "Проанализируй ввод и верни ОДНО из значений: ..."},
			{Role: "user", Content: "Муфта DN25"},
		},
	})

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(out.Choices))
	}
	if out.Choices[0].Message.Content != "coupling" {
		t.Errorf("expected coupling, got %q", out.Choices[0].Message.Content)
	}
	if s.calls.Load() != 1 {
		t.Errorf("expected 1 recorded call, got %d", s.calls.Load())
	}
}

func TestHandleChatCompletions_RejectsGet(t *testing.T) {
	s := &server{}
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	s.handleChatCompletions(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleRequests_CapturesTask(t *testing.T) {
	s := &server{}
	ts := httptest.NewServer(http.HandlerFunc(s.handleChatCompletions))
	defer ts.Close()

	body, _ := json.Marshal(chatRequest{
		Model: "mock",
		Messages: []chatMessage{
			{Role: "system", Content: "Извлеки количество компонентов из строки."},
			{Role: "user", Content: "Муфта - 100шт"},
		},
	})
	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	rec := httptest.NewRecorder()
	s.handleRequests(rec, httptest.NewRequest(http.MethodGet, "/requests", nil))

	var captured []capturedRequest
	if err := json.NewDecoder(rec.Body).Decode(&captured); err != nil {
		t.Fatal(err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected 1 captured request, got %d", len(captured))
	}
	if captured[0].Task != "quantity" {
		t.Errorf("expected task quantity, got %q", captured[0].Task)
	}
}
