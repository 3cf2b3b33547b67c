package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Priority bounds. Requests outside the range are rejected, not clamped.
const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)

// ErrInvalid marks validation failures; the HTTP layer maps it to 400.
var ErrInvalid = errors.New("invalid message")

// Message is the broker wire format: UTF-8 JSON with either Query (single)
// or Text (batch) set.
type Message struct {
	TaskID   string            `json:"task_id"`
	Query    string            `json:"query,omitempty"`
	Text     string            `json:"text,omitempty"`
	Type     Kind              `json:"type"`
	Priority int               `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Input returns the payload text regardless of kind.
func (m *Message) Input() string {
	if m.Type == KindBatch {
		return m.Text
	}
	return m.Query
}

// Validate checks the invariants every delivered message must satisfy.
// A message failing validation is dead: the worker acks and drops it.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return fmt.Errorf("%w: missing task_id", ErrInvalid)
	}
	switch m.Type {
	case KindSingle:
		if strings.TrimSpace(m.Query) == "" {
			return fmt.Errorf("%w: single message missing query", ErrInvalid)
		}
	case KindBatch:
		if strings.TrimSpace(m.Text) == "" {
			return fmt.Errorf("%w: batch message missing text", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalid, m.Type)
	}
	if m.Priority < MinPriority || m.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d out of range [%d,%d]", ErrInvalid, m.Priority, MinPriority, MaxPriority)
	}
	return nil
}

// ParseMessage decodes and validates a broker delivery.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
