package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydrofind/hydrofind/artifact"
	"github.com/hydrofind/hydrofind/broker"
	"github.com/hydrofind/hydrofind/catalog"
	"github.com/hydrofind/hydrofind/config"
	"github.com/hydrofind/hydrofind/httpapi"
	"github.com/hydrofind/hydrofind/llm"
	"github.com/hydrofind/hydrofind/producer"
	"github.com/hydrofind/hydrofind/taskstore"
	"github.com/hydrofind/hydrofind/worker"
)

// sweepInterval is how often stray task-store keys are collected.
const sweepInterval = 10 * time.Minute

// App wires together the transport, storage, and pipeline components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	broker         *broker.Broker

	// Storage
	store   *taskstore.Store
	catalog *catalog.Adapter

	// Pipeline
	oracle  *llm.Gateway
	builder *artifact.Builder

	// API
	httpServer *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp creates an application instance; nothing connects until Start.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Start connects to the infrastructure and launches workers and, when
// withAPI is set, the HTTP server.
func (a *App) Start(ctx context.Context, workers int, withAPI bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.startNATS(runCtx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	b, err := broker.New(runCtx, a.natsConn, brokerConfig(a.cfg), a.logger)
	if err != nil {
		return fmt.Errorf("initialize broker: %w", err)
	}
	a.broker = b

	a.store = taskstore.New(storeConfig(a.cfg), taskstore.WithLogger(a.logger))
	if health := a.store.CheckHealth(runCtx); !health.Alive {
		return fmt.Errorf("task store unreachable at %s", a.cfg.Redis.Addr)
	}

	builder, err := artifact.NewBuilder(a.cfg.Artifact.Dir, a.logger)
	if err != nil {
		return fmt.Errorf("initialize artifact builder: %w", err)
	}
	a.builder = builder

	if workers > 0 {
		cat, err := catalog.Open(catalogConfig(a.cfg), a.logger)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		a.catalog = cat

		client := llm.NewClient(oracleConfig(a.cfg), llm.WithLogger(a.logger))
		a.oracle = llm.NewGateway(client, a.logger)

		if err := a.startWorkers(runCtx, workers); err != nil {
			return err
		}
	}

	if withAPI {
		a.startHTTP(runCtx)
	}

	a.startJanitor(runCtx)

	a.logger.Info("Components initialized")
	return nil
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
		return nil
	}

	a.logger.Info("Starting embedded NATS server")
	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("embedded NATS server failed to start")
	}
	a.embeddedServer = ns

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("connect to embedded NATS: %w", err)
	}
	a.natsConn = conn
	return nil
}

func (a *App) startWorkers(ctx context.Context, n int) error {
	w := worker.New(a.store, a.oracle, a.catalog, a.builder, a.broker, workerConfig(a.cfg), a.logger)

	for i := 0; i < n; i++ {
		consumer, err := a.broker.Consumer(ctx)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}

		a.wg.Add(1)
		go func(id int) {
			defer a.wg.Done()
			a.logger.Info("Worker started", "worker", id)
			if err := w.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("Worker stopped", "worker", id, "error", err)
			}
		}(i)
	}
	return nil
}

func (a *App) startHTTP(ctx context.Context) {
	prod := producer.New(a.store, a.broker, producer.Config{CacheShortcut: a.cfg.HTTP.CacheShortcutEnabled()}, a.logger)

	apiCfg := httpapi.Config{ProcessingTimeout: a.cfg.Worker.ProcessingTimeout}
	api := httpapi.NewServer(a.store, prod, a.broker, apiCfg, a.logger)

	a.httpServer = &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("HTTP server listening", "addr", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", "error", err)
		}
	}()
}

// StartMetricsListener serves /metrics and /healthz for worker-only
// processes, which do not carry the full API surface.
func (a *App) StartMetricsListener(addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if health := a.store.CheckHealth(r.Context()); !health.Alive || !a.broker.Healthy() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"status":%q}`, status)
	})

	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("Metrics listener started", "addr", addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics listener failed", "error", err)
		}
	}()
}

// startJanitor periodically collects task-store keys whose TTL was lost.
func (a *App) startJanitor(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				swept, err := a.store.Sweep(ctx)
				if err != nil {
					a.logger.Warn("Task store sweep failed", "error", err)
				} else if swept > 0 {
					a.logger.Info("Swept stray task store keys", "count", swept)
				}
			}
		}
	}()
}

// Shutdown stops all components, draining in dependency order.
func (a *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("HTTP shutdown incomplete", "error", err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.broker != nil {
		a.broker.Close()
	}
	if a.natsConn != nil {
		a.natsConn.Drain()
		a.natsConn.Close()
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	if a.catalog != nil {
		a.catalog.Close()
	}
	if a.store != nil {
		a.store.Close()
	}

	a.logger.Info("Shutdown complete")
}

// --- config translation ---

func brokerConfig(cfg *config.Config) broker.Config {
	bc := broker.DefaultConfig()
	bc.URL = cfg.NATS.URL
	if cfg.NATS.Stream != "" {
		bc.StreamName = cfg.NATS.Stream
	}
	if cfg.NATS.SubjectBase != "" {
		bc.SubjectBase = cfg.NATS.SubjectBase
	}
	if cfg.NATS.Consumer != "" {
		bc.ConsumerName = cfg.NATS.Consumer
	}
	return bc
}

func storeConfig(cfg *config.Config) taskstore.Config {
	sc := taskstore.DefaultConfig()
	sc.Addr = cfg.Redis.Addr
	sc.Password = cfg.Redis.Password
	sc.DB = cfg.Redis.DB
	if cfg.Redis.TaskTTL > 0 {
		sc.TaskTTL = cfg.Redis.TaskTTL
	}
	if cfg.Redis.SearchTTL > 0 {
		sc.SearchTTL = cfg.Redis.SearchTTL
	}
	if cfg.Redis.ArtifactTTL > 0 {
		sc.ArtifactTTL = cfg.Redis.ArtifactTTL
	}
	return sc
}

func catalogConfig(cfg *config.Config) catalog.Config {
	cc := catalog.DefaultConfig()
	cc.DSN = cfg.Catalog.DSN
	if cfg.Catalog.Limit > 0 {
		cc.Limit = cfg.Catalog.Limit
	}
	if cfg.Catalog.QueryTimeout > 0 {
		cc.QueryTimeout = cfg.Catalog.QueryTimeout
	}
	return cc
}

func oracleConfig(cfg *config.Config) llm.ClientConfig {
	return llm.ClientConfig{
		Provider:    cfg.Oracle.Provider,
		BaseURL:     cfg.Oracle.BaseURL,
		Model:       cfg.Oracle.Model,
		APIKey:      cfg.Oracle.APIKey,
		Temperature: cfg.Oracle.Temperature,
		Timeout:     cfg.Oracle.Timeout,
		MaxTokens:   cfg.Oracle.MaxTokens,
	}
}

func workerConfig(cfg *config.Config) worker.Config {
	wc := worker.DefaultConfig()
	wc.PartialResults = cfg.Worker.PartialResultsEnabled()
	if cfg.Worker.MaxRetries > 0 {
		wc.MaxRetries = cfg.Worker.MaxRetries
	}
	return wc
}
