// Package worker consumes task messages and drives each one through the
// search pipeline: classify, extract, catalog lookup, artifact build,
// result commit. Every message ends in exactly one settled delivery and at
// most one terminal state write; workers never surface errors upward.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hydrofind/hydrofind/broker"
	"github.com/hydrofind/hydrofind/fingerprint"
	"github.com/hydrofind/hydrofind/llm"
	"github.com/hydrofind/hydrofind/metrics"
	"github.com/hydrofind/hydrofind/task"
	"github.com/hydrofind/hydrofind/taskstore"
)

// Oracle is the language-model side of the pipeline.
type Oracle interface {
	Classify(ctx context.Context, query string) (task.ComponentType, error)
	ExtractParams(ctx context.Context, query string, ct task.ComponentType) (map[string]any, error)
	ExtractQuantity(ctx context.Context, query string) (*int, error)
	SplitBatch(ctx context.Context, text string) ([]string, error)
}

// Catalog runs the bounded component search.
type Catalog interface {
	Search(ctx context.Context, ct task.ComponentType, params map[string]any, originalQuery string) ([]task.Match, error)
}

// Artifacts renders completed results to downloadable files.
type Artifacts interface {
	Build(taskID string, result *task.Result) (string, error)
}

// Publisher republishes messages for the retry path.
type Publisher interface {
	Publish(ctx context.Context, msg *task.Message, retryCount int) error
}

// Delivery is one in-flight message; *broker.Delivery satisfies it.
type Delivery interface {
	Message() *task.Message
	Retries() int
	Ack() error
	Nak() error
}

// Config holds the pipeline policy knobs.
type Config struct {
	// PartialResults turns a catalog failure into a partial result with
	// the oracle output preserved instead of a terminal error.
	PartialResults bool

	// MaxRetries bounds republishes for transient failures.
	MaxRetries int

	// BackoffCap limits the exponential retry delay.
	BackoffCap time.Duration
}

// DefaultConfig matches the service contract.
func DefaultConfig() Config {
	return Config{
		PartialResults: true,
		MaxRetries:     3,
		BackoffCap:     30 * time.Second,
	}
}

// Worker processes one message at a time. No mutable state survives
// between messages; instances coordinate only through the task store.
type Worker struct {
	store     *taskstore.Store
	oracle    Oracle
	catalog   Catalog
	artifacts Artifacts
	pub       Publisher
	cfg       Config
	logger    *slog.Logger
	sleep     func(time.Duration)
}

// New wires a Worker.
func New(store *taskstore.Store, oracle Oracle, catalog Catalog, artifacts Artifacts, pub Publisher, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     store,
		oracle:    oracle,
		catalog:   catalog,
		artifacts: artifacts,
		pub:       pub,
		cfg:       cfg,
		logger:    logger,
		sleep:     time.Sleep,
	}
}

// Run polls the consumer until the context ends.
func (w *Worker) Run(ctx context.Context, consumer *broker.Consumer) error {
	w.logger.Info("Worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d, err := consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Empty fetch window or an already-discarded payload.
			continue
		}
		w.Handle(ctx, d)
	}
}

// Handle runs the full pipeline for one delivery and settles it.
func (w *Worker) Handle(ctx context.Context, d Delivery) {
	msg := d.Message()
	if msg == nil || msg.TaskID == "" || strings.TrimSpace(msg.Input()) == "" {
		w.logger.Warn("Dropping invalid message")
		w.ack(d)
		return
	}

	logger := w.logger.With("task_id", msg.TaskID)
	logger.Info("Processing task", "retry_count", d.Retries())

	var out outcome
	if msg.Type == task.KindBatch {
		out = w.runBatch(ctx, msg)
	} else {
		out = w.runSingle(ctx, msg)
	}

	if out.retry {
		w.retry(ctx, d, msg)
		return
	}
	w.commit(ctx, d, out)
}

// outcome is the worker's decision for a delivery: either a terminal
// envelope to commit, or a retry.
type outcome struct {
	env      *task.Envelope
	cacheKey string
	retry    bool
}

// stageFailure is a tagged per-stage result; the pipeline never panics or
// throws, it hands one of these back.
type stageFailure struct {
	kind      task.ErrorKind
	message   string
	retriable bool
}

// commit writes the terminal state and settles the delivery. Persistence
// failure is the only path that requeues; a canceled or already-terminal
// task silently discards the worker's result.
func (w *Worker) commit(ctx context.Context, d Delivery, out outcome) {
	err := w.store.WriteResult(ctx, out.env)
	switch {
	case errors.Is(err, taskstore.ErrCanceled):
		w.logger.Info("Discarding result for canceled task", "task_id", out.env.TaskID)
		w.ack(d)
	case errors.Is(err, taskstore.ErrTerminal):
		w.logger.Info("Discarding result for already-terminal task", "task_id", out.env.TaskID)
		w.ack(d)
	case err != nil:
		w.logger.Error("Failed to persist result, requeueing",
			"task_id", out.env.TaskID, "error", err)
		w.nak(d)
	default:
		metrics.TasksProcessed.WithLabelValues(string(out.env.Status)).Inc()
		if out.cacheKey != "" {
			if err := w.store.PutCachedSearch(ctx, out.cacheKey, out.env.Result); err != nil {
				w.logger.Warn("Failed to cache result", "task_id", out.env.TaskID, "error", err)
			}
		}
		w.logger.Info("Task finished",
			"task_id", out.env.TaskID,
			"status", out.env.Status)
		w.ack(d)
	}
}

func (w *Worker) runSingle(ctx context.Context, msg *task.Message) outcome {
	query := strings.TrimSpace(msg.Query)

	fp := fingerprint.Compute(query)
	if entry, err := w.store.GetCachedSearch(ctx, fp); err == nil {
		metrics.CacheHits.WithLabelValues("worker").Inc()
		return outcome{env: w.envelope(msg, task.KindSingle, task.StatusCompleted, cachedResult(entry.Result, query))}
	}

	res, status, fail := w.pipeline(ctx, query)
	if fail != nil {
		if fail.retriable {
			return outcome{retry: true}
		}
		return outcome{env: w.errorEnvelope(msg, task.KindSingle, fail)}
	}

	result := &task.Result{Type: task.KindSingle, Single: res}
	if len(res.Matches) > 0 {
		w.buildArtifact(ctx, msg.TaskID, result)
	}

	out := outcome{env: w.envelope(msg, task.KindSingle, status, result)}
	if status == task.StatusCompleted {
		// Partials are never cached; a later identical query deserves a
		// full run.
		out.cacheKey = fp
	}
	return out
}

func (w *Worker) runBatch(ctx context.Context, msg *task.Message) outcome {
	lines, err := w.oracle.SplitBatch(ctx, msg.Text)
	if err != nil {
		if llm.IsTransient(err) {
			return outcome{retry: true}
		}
		return outcome{env: w.errorEnvelope(msg, task.KindBatch, &stageFailure{
			kind:    task.ErrExtractionEmpty,
			message: "batch split failed: " + err.Error(),
		})}
	}

	results := make([]task.SingleResult, 0, len(lines))
	processed := 0
	for _, line := range lines {
		res, _, fail := w.pipeline(ctx, line)
		if fail != nil {
			if fail.retriable {
				return outcome{retry: true}
			}
			results = append(results, task.SingleResult{
				Query:     line,
				Source:    task.SourceAIOnly,
				Matches:   []task.Match{},
				Timestamp: timestamp(),
			})
			continue
		}
		results = append(results, *res)
		processed++
	}

	var status task.Status
	switch {
	case processed == len(lines):
		status = task.StatusCompleted
	case processed > 0:
		status = task.StatusPartial
	default:
		return outcome{env: w.errorEnvelope(msg, task.KindBatch, &stageFailure{
			kind:    task.ErrExtractionEmpty,
			message: "no batch lines could be processed",
		})}
	}

	result := &task.Result{
		Type: task.KindBatch,
		Batch: &task.BatchResult{
			Results:        results,
			TotalItems:     len(lines),
			ProcessedItems: processed,
			Timestamp:      timestamp(),
		},
	}
	if anyMatches(results) {
		w.buildArtifact(ctx, msg.TaskID, result)
	}
	return outcome{env: w.envelope(msg, task.KindBatch, status, result)}
}

// pipeline runs classify → extract → quantity → catalog for one query
// line. Stages run strictly in order; the first failure decides the
// line's fate.
func (w *Worker) pipeline(ctx context.Context, query string) (*task.SingleResult, task.Status, *stageFailure) {
	classifyStart := time.Now()
	ct, err := w.oracle.Classify(ctx, query)
	metrics.StageDuration.WithLabelValues("classify").Observe(time.Since(classifyStart).Seconds())
	if err != nil {
		metrics.OracleCalls.WithLabelValues("classify", "error").Inc()
		if llm.IsTransient(err) {
			return nil, "", &stageFailure{kind: task.ErrTransientUpstream, retriable: true}
		}
		return nil, "", &stageFailure{kind: task.ErrClassificationUnknown, message: err.Error()}
	}
	metrics.OracleCalls.WithLabelValues("classify", "ok").Inc()

	if ct == task.TypeUnknown {
		if err := w.store.AppendFailedQuery(ctx, query); err != nil {
			w.logger.Warn("Failed to record unclassifiable query", "error", err)
		}
		return nil, "", &stageFailure{
			kind:    task.ErrClassificationUnknown,
			message: "component-type not determined",
		}
	}

	params, err := w.oracle.ExtractParams(ctx, query, ct)
	if err != nil {
		metrics.OracleCalls.WithLabelValues("extract_params", "error").Inc()
		if llm.IsTransient(err) {
			return nil, "", &stageFailure{kind: task.ErrTransientUpstream, retriable: true}
		}
		return nil, "", &stageFailure{kind: task.ErrExtractionEmpty, message: err.Error()}
	}
	metrics.OracleCalls.WithLabelValues("extract_params", "ok").Inc()
	if params == nil {
		return nil, "", &stageFailure{
			kind:    task.ErrExtractionEmpty,
			message: "extraction returned no parameters",
		}
	}

	// Quantity is optional; failures here never fail the line.
	qty, err := w.oracle.ExtractQuantity(ctx, query)
	if err != nil {
		metrics.OracleCalls.WithLabelValues("extract_quantity", "error").Inc()
		w.logger.Debug("Quantity extraction failed", "error", err)
		qty = nil
	}

	extraction := &task.ExtractionResult{
		ComponentType: ct,
		ExtractedData: params,
		Quantity:      qty,
		OriginalQuery: query,
	}

	metrics.CatalogSearches.WithLabelValues(string(ct)).Inc()
	catalogStart := time.Now()
	matches, err := w.catalog.Search(ctx, ct, params, query)
	metrics.StageDuration.WithLabelValues("catalog").Observe(time.Since(catalogStart).Seconds())
	if err != nil {
		w.logger.Warn("Catalog search failed", "component_type", ct, "error", err)
		if !w.cfg.PartialResults {
			return nil, "", &stageFailure{kind: task.ErrCatalogFailure, message: err.Error()}
		}
		return &task.SingleResult{
			Query:     query,
			Source:    task.SourceAIOnly,
			Matches:   []task.Match{},
			AIResult:  extraction,
			Quantity:  qty,
			Timestamp: timestamp(),
		}, task.StatusPartial, nil
	}

	source := task.SourceDatabase
	if len(matches) == 0 {
		source = task.SourceAIOnly
		matches = []task.Match{}
	}
	return &task.SingleResult{
		Query:      query,
		Source:     source,
		Matches:    matches,
		MatchCount: len(matches),
		AIResult:   extraction,
		Quantity:   qty,
		Timestamp:  timestamp(),
	}, task.StatusCompleted, nil
}

// retry republishes the message with a bumped retry header after an
// exponential backoff, then acknowledges the original. Exhausted retries
// end in a terminal error.
func (w *Worker) retry(ctx context.Context, d Delivery, msg *task.Message) {
	n := d.Retries()
	if n >= w.cfg.MaxRetries {
		w.logger.Warn("Retries exhausted", "task_id", msg.TaskID, "retries", n)
		kind := task.KindSingle
		if msg.Type == task.KindBatch {
			kind = task.KindBatch
		}
		w.commit(ctx, d, outcome{env: w.errorEnvelope(msg, kind, &stageFailure{
			kind:    task.ErrTransientUpstream,
			message: "upstream unavailable after retries",
		})})
		return
	}

	backoff := time.Duration(1<<uint(n)) * time.Second
	if backoff > w.cfg.BackoffCap {
		backoff = w.cfg.BackoffCap
	}
	w.logger.Info("Retrying task",
		"task_id", msg.TaskID,
		"attempt", n+1,
		"backoff", backoff)
	w.sleep(backoff)

	if err := w.pub.Publish(ctx, msg, n+1); err != nil {
		w.logger.Error("Failed to republish, requeueing original",
			"task_id", msg.TaskID, "error", err)
		w.nak(d)
		return
	}
	metrics.TaskRetries.Inc()
	w.ack(d)
}

func (w *Worker) buildArtifact(ctx context.Context, taskID string, result *task.Result) {
	path, err := w.artifacts.Build(taskID, result)
	if err != nil {
		w.logger.Warn("Failed to build artifact", "task_id", taskID, "error", err)
		return
	}
	if err := w.store.SetArtifactPath(ctx, taskID, path); err != nil {
		w.logger.Warn("Failed to record artifact path", "task_id", taskID, "error", err)
	}
}

func (w *Worker) envelope(msg *task.Message, kind task.Kind, status task.Status, result *task.Result) *task.Envelope {
	return &task.Envelope{
		TaskID:    msg.TaskID,
		Kind:      kind,
		Input:     msg.Input(),
		Priority:  msg.Priority,
		Status:    status,
		CreatedAt: float64(time.Now().Unix()),
		Result:    result,
	}
}

func (w *Worker) errorEnvelope(msg *task.Message, kind task.Kind, fail *stageFailure) *task.Envelope {
	env := w.envelope(msg, kind, task.StatusError, nil)
	env.ErrorKind = fail.kind
	env.ErrorMessage = fail.message
	return env
}

func (w *Worker) ack(d Delivery) {
	if err := d.Ack(); err != nil {
		w.logger.Warn("Failed to ack message", "error", err)
	}
}

func (w *Worker) nak(d Delivery) {
	if err := d.Nak(); err != nil {
		w.logger.Warn("Failed to nak message", "error", err)
	}
}

func cachedResult(cached *task.Result, query string) *task.Result {
	if cached == nil || cached.Single == nil {
		return cached
	}
	single := *cached.Single
	single.Query = query
	single.Source = task.SourceCache
	single.Timestamp = timestamp()
	return &task.Result{Type: task.KindSingle, Single: &single}
}

func anyMatches(results []task.SingleResult) bool {
	for _, r := range results {
		if len(r.Matches) > 0 {
			return true
		}
	}
	return false
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
