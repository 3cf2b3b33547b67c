// Package main provides the hydrofind binary entry point.
// HydroFind is an asynchronous search service for hydraulic components:
// natural-language queries are queued, interpreted by a language model,
// matched against the component catalog, and served back with a
// downloadable spreadsheet.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/hydrofind/hydrofind/llm/providers"

	"github.com/hydrofind/hydrofind/broker"
	"github.com/hydrofind/hydrofind/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "hydrofind"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "hydrofind",
		Short: "Hydraulic component search service",
		Long: `HydroFind resolves natural-language hydraulic component requests
against a parts catalog.

Queries enter through the HTTP API, travel through a JetStream work
queue, and are processed by workers that call a language model for
interpretation and PostgreSQL for catalog matching. Results are cached
in Redis and exported as xlsx spreadsheets.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&configPath, &logLevel))
	cmd.AddCommand(workerCmd(&configPath, &logLevel))
	cmd.AddCommand(queueCmd(&configPath, &logLevel))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and worker pool in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath, *logLevel)
			if err != nil {
				return err
			}
			return runServe(cfg, logger, workers)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 2, "Number of pipeline workers (0 for API only)")
	return cmd
}

func workerCmd(configPath, logLevel *string) *cobra.Command {
	var (
		workers     int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run pipeline workers without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath, *logLevel)
			if err != nil {
				return err
			}
			return runWorkers(cfg, logger, workers, metricsAddr)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 2, "Number of pipeline workers")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Listen address for /metrics and /healthz")
	return cmd
}

func queueCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or drain the task queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and consumer state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(*configPath, *logLevel, func(ctx context.Context, b *broker.Broker) error {
				stats, err := b.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("messages:    %d\n", stats.Messages)
				fmt.Printf("pending:     %d\n", stats.Pending)
				fmt.Printf("ack pending: %d\n", stats.AckPending)
				fmt.Printf("consumers:   %d\n", stats.Consumers)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Drop all queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(*configPath, *logLevel, func(ctx context.Context, b *broker.Broker) error {
				if err := b.Purge(ctx); err != nil {
					return err
				}
				fmt.Println("queue purged")
				return nil
			})
		},
	})

	return cmd
}

// setup loads configuration and installs the process logger.
func setup(configPath, logLevel string) (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
		if err == nil {
			err = cfg.ApplyEnv()
		}
		if err == nil {
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.NewLoader(logger).Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, nil
}

func runServe(cfg *config.Config, logger *slog.Logger, workers int) error {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx, workers, true); err != nil {
		return err
	}

	logger.Info("HydroFind ready",
		"version", Version,
		"addr", cfg.HTTP.Addr,
		"workers", workers)

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	app.Shutdown(30 * time.Second)
	return nil
}

func runWorkers(cfg *config.Config, logger *slog.Logger, workers int, metricsAddr string) error {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx, workers, false); err != nil {
		return err
	}
	app.StartMetricsListener(metricsAddr)

	logger.Info("HydroFind workers ready", "version", Version, "workers", workers)

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	app.Shutdown(30 * time.Second)
	return nil
}

// withBroker runs a short administrative action against the queue.
func withBroker(configPath, logLevel string, fn func(context.Context, *broker.Broker) error) error {
	cfg, logger, err := setup(configPath, logLevel)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	b, err := broker.Connect(ctx, brokerConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, b)
}
