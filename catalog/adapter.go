// Package catalog turns a classified, extracted component description into
// a parameterized search over the component reference database and returns
// the matching rows.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/hydrofind/hydrofind/task"
)

// Config holds connection and search settings.
type Config struct {
	DSN          string
	Limit        int
	QueryTimeout time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Limit:        DefaultLimit,
		QueryTimeout: 10 * time.Second,
		MaxOpenConns: 10,
	}
}

// Adapter executes component searches against the catalog database.
type Adapter struct {
	db     *sqlx.DB
	cfg    Config
	logger *slog.Logger
}

// Open connects to the catalog.
func Open(cfg Config, logger *slog.Logger) (*Adapter, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	return NewAdapter(db, cfg, logger), nil
}

// NewAdapter wraps an existing connection pool (tests pass a mock here).
func NewAdapter(db *sqlx.DB, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	return &Adapter{db: db, cfg: cfg, logger: logger}
}

// Close releases the pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Ping reports catalog liveness.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

type matchRow struct {
	Name    string         `db:"name"`
	Article string         `db:"article"`
	SKey    sql.NullString `db:"s_key"`
}

// Search runs the bounded, parameterized search for one extraction. An
// out-of-set component type returns an empty result with no error; the
// pipeline treats that as zero matches, not a failure.
func (a *Adapter) Search(ctx context.Context, ct task.ComponentType, params map[string]any, originalQuery string) ([]task.Match, error) {
	q, ok := Build(ct, params, originalQuery, a.cfg.Limit)
	if !ok {
		a.logger.Debug("Skipping catalog search for out-of-set type", "component_type", ct)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	var rows []matchRow
	if err := a.db.SelectContext(ctx, &rows, a.db.Rebind(q.SQL), q.Args...); err != nil {
		return nil, fmt.Errorf("catalog search %s: %w", ct, err)
	}

	matches := make([]task.Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, task.Match{
			Name:    r.Name,
			Article: r.Article,
			SKey:    r.SKey.String,
		})
	}

	a.logger.Debug("Catalog search finished",
		"component_type", ct,
		"matches", len(matches))
	return matches, nil
}
