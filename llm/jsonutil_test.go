package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_Plain(t *testing.T) {
	got := ExtractJSON(`{"standard": "BSP"}`)
	assert.JSONEq(t, `{"standard": "BSP"}`, got)
}

func TestExtractJSON_MarkdownFence(t *testing.T) {
	got := ExtractJSON("Вот результат:\n```json\n{\"Dy\": 10}\n```")
	assert.JSONEq(t, `{"Dy": 10}`, got)
}

func TestExtractJSON_TrailingComma(t *testing.T) {
	got := ExtractJSON(`{"a": 1, "b": 2,}`)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &m))
	assert.Len(t, m, 2)
}

func TestExtractJSON_LineComments(t *testing.T) {
	got := ExtractJSON("{\n\"url\": \"http://example.com\", // базовый адрес\n\"n\": 1\n}")

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &m))
	assert.Equal(t, "http://example.com", m["url"])
}

func TestExtractJSON_NoObject(t *testing.T) {
	assert.Empty(t, ExtractJSON("никакого JSON здесь нет"))
	assert.Empty(t, ExtractJSON(""))
}
