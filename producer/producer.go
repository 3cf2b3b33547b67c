// Package producer accepts search submissions, records their initial
// state, and enqueues them for the workers. It is the only writer of the
// processing state and the only component that may short-circuit a task
// from cache before it ever reaches the queue.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hydrofind/hydrofind/fingerprint"
	"github.com/hydrofind/hydrofind/metrics"
	"github.com/hydrofind/hydrofind/task"
	"github.com/hydrofind/hydrofind/taskstore"
)

// Publisher is the broker-facing side of the producer.
type Publisher interface {
	Publish(ctx context.Context, msg *task.Message, retryCount int) error
}

// Config toggles producer behavior.
type Config struct {
	// CacheShortcut serves an identical recent query from cache without
	// enqueueing. Workers still probe the cache when this is off.
	CacheShortcut bool
}

// DefaultConfig enables the cache shortcut.
func DefaultConfig() Config {
	return Config{CacheShortcut: true}
}

// Producer wires validation, the task store, and the broker together.
type Producer struct {
	store  *taskstore.Store
	pub    Publisher
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Producer.
func New(store *taskstore.Store, pub Publisher, cfg Config, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{store: store, pub: pub, cfg: cfg, logger: logger, now: time.Now}
}

// Submission is the producer's answer to a client.
type Submission struct {
	TaskID   string
	Status   task.Status
	CacheHit bool
}

// SubmitSingle validates and enqueues one query. On a cache hit a fresh
// task identifier is synthesized around the cached payload and nothing is
// published.
func (p *Producer) SubmitSingle(ctx context.Context, query string, priority int, metadata map[string]string) (*Submission, error) {
	msg := &task.Message{
		TaskID:   uuid.NewString(),
		Query:    query,
		Type:     task.KindSingle,
		Priority: priority,
		Metadata: metadata,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if p.cfg.CacheShortcut {
		if sub, ok := p.tryCache(ctx, msg); ok {
			return sub, nil
		}
	}
	return p.enqueue(ctx, msg, task.KindSingle)
}

// SubmitBatch validates and enqueues a multi-line order text. Batches are
// never served from cache whole; their individual lines may be.
func (p *Producer) SubmitBatch(ctx context.Context, text string, priority int, metadata map[string]string) (*Submission, error) {
	msg := &task.Message{
		TaskID:   uuid.NewString(),
		Text:     text,
		Type:     task.KindBatch,
		Priority: priority,
		Metadata: metadata,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return p.enqueue(ctx, msg, task.KindBatch)
}

// tryCache serves an exact-fingerprint hit as a synthesized completed
// task. Cache failures fall through to the queue; the cache is an
// accelerator, never a gate.
func (p *Producer) tryCache(ctx context.Context, msg *task.Message) (*Submission, bool) {
	fp := fingerprint.Compute(msg.Query)
	entry, err := p.store.GetCachedSearch(ctx, fp)
	if err != nil {
		if !errors.Is(err, taskstore.ErrNotFound) {
			p.logger.Warn("Cache probe failed", "task_id", msg.TaskID, "error", err)
		}
		return nil, false
	}

	result := cloneForCacheHit(entry.Result, msg.Query)
	env := &task.Envelope{
		TaskID:    msg.TaskID,
		Kind:      task.KindSingle,
		Input:     msg.Query,
		Priority:  msg.Priority,
		Status:    task.StatusCompleted,
		CreatedAt: float64(p.now().Unix()),
		Result:    result,
	}
	if err := p.store.PutTask(ctx, env); err != nil {
		p.logger.Warn("Failed to record cache hit", "task_id", msg.TaskID, "error", err)
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("producer").Inc()
	p.logger.Info("Served task from cache", "task_id", msg.TaskID, "fingerprint", fp)
	return &Submission{TaskID: msg.TaskID, Status: task.StatusCompleted, CacheHit: true}, true
}

// enqueue writes the processing envelope, then publishes. A failed publish
// removes the envelope again so no orphan task lingers in the store.
func (p *Producer) enqueue(ctx context.Context, msg *task.Message, kind task.Kind) (*Submission, error) {
	env := &task.Envelope{
		TaskID:    msg.TaskID,
		Kind:      kind,
		Input:     msg.Input(),
		Priority:  msg.Priority,
		Status:    task.StatusProcessing,
		CreatedAt: float64(p.now().Unix()),
	}
	if err := p.store.PutTask(ctx, env); err != nil {
		return nil, fmt.Errorf("record task %s: %w", msg.TaskID, err)
	}

	if err := p.pub.Publish(ctx, msg, 0); err != nil {
		if delErr := p.store.DeleteTask(ctx, msg.TaskID); delErr != nil {
			p.logger.Error("Failed to roll back task after publish failure",
				"task_id", msg.TaskID, "error", delErr)
		}
		return nil, fmt.Errorf("enqueue task %s: %w", msg.TaskID, err)
	}

	p.logger.Info("Enqueued task",
		"task_id", msg.TaskID,
		"kind", kind,
		"priority", msg.Priority)
	return &Submission{TaskID: msg.TaskID, Status: task.StatusProcessing}, nil
}

// cloneForCacheHit stamps a cached payload with the new query and a fresh
// timestamp, marking its source.
func cloneForCacheHit(cached *task.Result, query string) *task.Result {
	if cached == nil || cached.Single == nil {
		return cached
	}
	single := *cached.Single
	single.Query = query
	single.Source = task.SourceCache
	single.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return &task.Result{Type: task.KindSingle, Single: &single}
}
