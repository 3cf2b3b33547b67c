// Package taskstore is the durable key-value state shared by the producer,
// the worker, and the status API. It holds task envelopes, cached search
// results, and artifact references, all with TTLs. Workers and the API
// never talk to each other directly; this store is the rendezvous.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hydrofind/hydrofind/task"
)

// Key namespaces.
const (
	taskKeyPrefix   = "task:"
	searchKeyPrefix = "search:"
	excelKeyPrefix  = "excel:"

	// failedQueriesKey is the ledger of queries the classifier could not
	// place; operators mine it for catalog and prompt gaps.
	failedQueriesKey = "failed_queries"
)

// Sentinel errors.
var (
	// ErrNotFound means the key is absent or expired.
	ErrNotFound = errors.New("taskstore: not found")

	// ErrTerminal means the task already reached a terminal status and the
	// requested transition is not one of the two allowed exits.
	ErrTerminal = errors.New("taskstore: task already terminal")

	// ErrCanceled means the client canceled the task; canceled is sticky,
	// so late worker results are discarded.
	ErrCanceled = errors.New("taskstore: task canceled")
)

// Config holds TTL policy and connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// TaskTTL bounds a task envelope's lifetime. Reads extend the TTL by
	// TaskTTLExtend, capped back at TaskTTL.
	TaskTTL       time.Duration
	TaskTTLExtend time.Duration

	// SearchTTL bounds a cached search, sliding by SearchTTLExtend.
	SearchTTL       time.Duration
	SearchTTLExtend time.Duration

	// ArtifactTTL bounds an artifact reference. Non-sliding.
	ArtifactTTL time.Duration
}

// DefaultConfig returns the TTL policy from the service contract.
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:6379",
		TaskTTL:         time.Hour,
		TaskTTLExtend:   5 * time.Minute,
		SearchTTL:       10 * time.Minute,
		SearchTTLExtend: time.Minute,
		ArtifactTTL:     24 * time.Hour,
	}
}

// Store is a thin, concurrency-safe wrapper over the redis client.
type Store struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New connects a Store. The connection pool is sized by go-redis for the
// anticipated concurrency; no further pooling is needed.
func New(cfg Config, opts ...Option) *Store {
	s := &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// --- Task envelopes ---

// PutTask writes a task envelope under its identifier with a fresh TTL.
// It is the producer's initial write and the worker's commit point.
func (s *Store) PutTask(ctx context.Context, env *task.Envelope) error {
	env.UpdatedAt = float64(s.now().Unix())
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", env.TaskID, err)
	}
	if err := s.rdb.Set(ctx, taskKeyPrefix+env.TaskID, data, s.cfg.TaskTTL).Err(); err != nil {
		return fmt.Errorf("write task %s: %w", env.TaskID, err)
	}
	return nil
}

// GetTask reads a task envelope. A successful read slides the TTL forward
// by TaskTTLExtend, never past the TaskTTL ceiling. An expired key is a
// miss, not a stale read.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Envelope, error) {
	key := taskKeyPrefix + id
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}

	var env task.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}

	s.slideTTL(ctx, key, s.cfg.TaskTTLExtend, s.cfg.TaskTTL)
	return &env, nil
}

// DeleteTask removes a task envelope. The producer uses it to roll back
// the initial write when the broker publish fails, so no orphan task is
// left behind.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, taskKeyPrefix+id).Err()
}

// WriteResult commits a worker's terminal state for a task. Canceled is
// sticky: a late result for a canceled task is discarded with ErrCanceled.
// Any other terminal state also refuses to move (ErrTerminal). A missing
// envelope is written fresh; the worker may outlive the envelope's TTL.
func (s *Store) WriteResult(ctx context.Context, env *task.Envelope) error {
	current, err := s.GetTask(ctx, env.TaskID)
	switch {
	case errors.Is(err, ErrNotFound):
		// Envelope expired mid-flight; the result still stands.
	case err != nil:
		return err
	case current.Status == task.StatusCanceled:
		return ErrCanceled
	case current.Status.IsTerminal():
		return ErrTerminal
	default:
		env.CreatedAt = current.CreatedAt
	}
	return s.PutTask(ctx, env)
}

// MarkTimeout transitions processing → timeout. It is the reclamation
// path and the only place that transition happens.
func (s *Store) MarkTimeout(ctx context.Context, id string) (*task.Envelope, error) {
	env, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if env.Status != task.StatusProcessing {
		return env, nil
	}
	env.Status = task.StatusTimeout
	env.ErrorKind = task.ErrTimeoutReclaim
	env.ErrorMessage = "processing deadline exceeded"
	if err := s.PutTask(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Cancel transitions processing → canceled. Idempotent on terminal
// states: the current envelope is returned unchanged.
func (s *Store) Cancel(ctx context.Context, id string) (*task.Envelope, error) {
	env, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if env.Status.IsTerminal() {
		return env, nil
	}
	env.Status = task.StatusCanceled
	env.ErrorKind = task.ErrCanceled
	env.ErrorMessage = "canceled by client"
	if err := s.PutTask(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// --- Search cache ---

// CachedSearch is the stored payload under a query fingerprint.
type CachedSearch struct {
	Result   *task.Result `json:"result"`
	CachedAt float64      `json:"cached_at"`
}

// PutCachedSearch stores a result under its fingerprint. Partial results
// are never cached: a later identical query deserves a full pipeline run.
func (s *Store) PutCachedSearch(ctx context.Context, fp string, result *task.Result) error {
	entry := CachedSearch{Result: result, CachedAt: float64(s.now().Unix())}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached search: %w", err)
	}
	if err := s.rdb.Set(ctx, searchKeyPrefix+fp, data, s.cfg.SearchTTL).Err(); err != nil {
		return fmt.Errorf("write cached search: %w", err)
	}
	return nil
}

// GetCachedSearch looks a fingerprint up. Only exact key matches can be
// served; a hit slides the TTL by SearchTTLExtend up to the ceiling.
func (s *Store) GetCachedSearch(ctx context.Context, fp string) (*CachedSearch, error) {
	key := searchKeyPrefix + fp
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cached search: %w", err)
	}

	var entry CachedSearch
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cached search: %w", err)
	}

	s.slideTTL(ctx, key, s.cfg.SearchTTLExtend, s.cfg.SearchTTL)
	return &entry, nil
}

// --- Artifact references ---

// SetArtifactPath records where a task's spreadsheet lives.
func (s *Store) SetArtifactPath(ctx context.Context, id, path string) error {
	return s.rdb.Set(ctx, excelKeyPrefix+id, path, s.cfg.ArtifactTTL).Err()
}

// GetArtifactPath resolves a task's spreadsheet location.
func (s *Store) GetArtifactPath(ctx context.Context, id string) (string, error) {
	path, err := s.rdb.Get(ctx, excelKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return path, err
}

// --- Failed-query ledger ---

// AppendFailedQuery records a query the classifier could not place.
func (s *Store) AppendFailedQuery(ctx context.Context, query string) error {
	return s.rdb.RPush(ctx, failedQueriesKey, query).Err()
}

// FailedQueries returns the ledger contents.
func (s *Store) FailedQueries(ctx context.Context) ([]string, error) {
	return s.rdb.LRange(ctx, failedQueriesKey, 0, -1).Result()
}

// --- Maintenance ---

// Sweep scans the store's namespaces and removes stray keys that carry no
// expiry. Redis expires TTL'd keys on its own; the sweep only catches
// entries persisted by older writers. Idempotent.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for _, pattern := range []string{taskKeyPrefix + "*", searchKeyPrefix + "*", excelKeyPrefix + "*"} {
		iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			ttl, err := s.rdb.TTL(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("ttl %s: %w", key, err)
			}
			if ttl == -1*time.Second {
				if err := s.rdb.Del(ctx, key).Err(); err != nil {
					return removed, fmt.Errorf("delete %s: %w", key, err)
				}
				removed++
			}
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("scan %s: %w", pattern, err)
		}
	}
	if removed > 0 {
		s.logger.Info("Swept stray store keys", "removed", removed)
	}
	return removed, nil
}

// Health reports connection liveness and the key count.
type Health struct {
	Alive    bool  `json:"alive"`
	KeyCount int64 `json:"key_count"`
}

// CheckHealth pings the store.
func (s *Store) CheckHealth(ctx context.Context) Health {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return Health{Alive: false}
	}
	count, _ := s.rdb.DBSize(ctx).Result()
	return Health{Alive: true, KeyCount: count}
}

// slideTTL extends a key's remaining TTL by ext without exceeding ceiling.
// Failures are logged, not returned: a read that could not slide its TTL
// is still a good read.
func (s *Store) slideTTL(ctx context.Context, key string, ext, ceiling time.Duration) {
	remaining, err := s.rdb.TTL(ctx, key).Result()
	if err != nil || remaining < 0 {
		return
	}
	extended := remaining + ext
	if extended > ceiling {
		extended = ceiling
	}
	if extended <= remaining {
		return
	}
	if err := s.rdb.Expire(ctx, key, extended).Err(); err != nil {
		s.logger.Warn("Failed to slide TTL", "key", key, "error", err)
	}
}
