// Package task defines the task lifecycle model shared by the producer,
// the worker, and the status API. The three components never call each
// other directly; this package is the contract they communicate through.
package task

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses. Processing is the only non-terminal state.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusError      Status = "error"
	StatusTimeout    Status = "timeout"
	StatusCanceled   Status = "canceled"
)

// IsTerminal reports whether the status permits no further transitions.
// The only allowed exits from processing are a worker writing a terminal
// result, the reclaimer writing timeout, or the client writing canceled.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusError, StatusTimeout, StatusCanceled:
		return true
	}
	return false
}

// Kind distinguishes single-query tasks from multi-line batch tasks.
type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

// ErrorKind is the machine-readable failure classification carried in
// terminal error results.
type ErrorKind string

const (
	ErrValidation            ErrorKind = "validation"
	ErrClassificationUnknown ErrorKind = "classification_unknown"
	ErrExtractionEmpty       ErrorKind = "extraction_empty"
	ErrTransientUpstream     ErrorKind = "transient_upstream"
	ErrCatalogFailure        ErrorKind = "catalog_failure"
	ErrPersistenceFailure    ErrorKind = "persistence_failure"
	ErrTimeoutReclaim        ErrorKind = "timeout_reclaim"
	ErrCanceled              ErrorKind = "canceled"
)

// Envelope is the stored state of a task, keyed by its identifier.
type Envelope struct {
	TaskID    string  `json:"task_id"`
	Kind      Kind    `json:"type"`
	Input     string  `json:"input"`
	Priority  int     `json:"priority"`
	Status    Status  `json:"status"`
	CreatedAt float64 `json:"created_at"`
	UpdatedAt float64 `json:"updated_at"`

	// Result is set once the task reaches completed or partial.
	Result *Result `json:"result,omitempty"`

	// ErrorMessage and ErrorKind describe terminal failures.
	ErrorMessage string    `json:"error,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
}

// Age returns seconds elapsed since the task was created.
func (e *Envelope) Age(now time.Time) float64 {
	return float64(now.Unix()) - e.CreatedAt
}

// ComponentType is the closed set of hydraulic component categories the
// classifier may answer with.
type ComponentType string

const (
	TypeFittings   ComponentType = "fittings"
	TypeAdapters   ComponentType = "adapters"
	TypePlugs      ComponentType = "plugs"
	TypeAdapterTee ComponentType = "adapter-tee"
	TypeBanjo      ComponentType = "banjo"
	TypeBanjoBolt  ComponentType = "banjo-bolt"
	TypeBRS        ComponentType = "brs"
	TypeCoupling   ComponentType = "coupling"

	// TypeUnknown is the out-of-set answer; it is never searchable.
	TypeUnknown ComponentType = "unknown"
)

// ComponentTypes lists the closed set in its authoritative order. The
// order matters: substring fallback in ParseComponentType picks the first
// matching element.
var ComponentTypes = []ComponentType{
	TypeFittings,
	TypeAdapters,
	TypePlugs,
	TypeAdapterTee,
	TypeBanjo,
	TypeBanjoBolt,
	TypeBRS,
	TypeCoupling,
}

// ParseComponentType normalizes a classifier answer into the closed set.
// Exact matches win; otherwise a case-insensitive substring containment
// check in either direction picks the first matching element. Anything
// else is TypeUnknown.
func ParseComponentType(raw string) ComponentType {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, `"'`)
	if s == "" {
		return TypeUnknown
	}
	for _, ct := range ComponentTypes {
		if s == string(ct) {
			return ct
		}
	}
	for _, ct := range ComponentTypes {
		if strings.Contains(s, string(ct)) || strings.Contains(string(ct), s) {
			return ct
		}
	}
	return TypeUnknown
}

// ExtractionResult is the worker's intermediate record: what the oracle
// understood about one query line.
type ExtractionResult struct {
	ComponentType ComponentType  `json:"component_type"`
	ExtractedData map[string]any `json:"extracted_data"`
	Quantity      *int           `json:"quantity,omitempty"`
	OriginalQuery string         `json:"original_query"`
}

// Match is one catalog row returned to the client.
type Match struct {
	Name    string `json:"name"`
	Article string `json:"article"`
	SKey    string `json:"s_key,omitempty"`
}

// Source describes where a result came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceDatabase Source = "database"
	SourceAIOnly   Source = "ai_only"
)

// SingleResult is what clients receive for a single-query task.
type SingleResult struct {
	Query      string            `json:"query"`
	Source     Source            `json:"source"`
	Matches    []Match           `json:"matches"`
	MatchCount int               `json:"match_count"`
	AIResult   *ExtractionResult `json:"ai_result,omitempty"`
	Quantity   *int              `json:"quantity,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

// BatchResult is what clients receive for a batch task.
type BatchResult struct {
	Results        []SingleResult `json:"results"`
	TotalItems     int            `json:"total_items"`
	ProcessedItems int            `json:"processed_items"`
	Timestamp      string         `json:"timestamp"`
}

// Result is the tagged union stored under a terminal task. Exactly one of
// Single or Batch is set, matching the task kind.
type Result struct {
	Type   Kind          `json:"type"`
	Single *SingleResult `json:"single,omitempty"`
	Batch  *BatchResult  `json:"batch,omitempty"`
}
