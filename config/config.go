// Package config provides configuration loading and management for HydroFind.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete HydroFind configuration
type Config struct {
	NATS     NATSConfig     `yaml:"nats"`
	Redis    RedisConfig    `yaml:"redis"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Worker   WorkerConfig   `yaml:"worker"`
	HTTP     HTTPConfig     `yaml:"http"`
	Artifact ArtifactConfig `yaml:"artifact"`
}

// NATSConfig configures the NATS connection and queue layout
type NATSConfig struct {
	// URL is the NATS server address (default: nats://localhost:4222)
	URL string `yaml:"url"`
	// Embedded runs an in-process JetStream server (development mode)
	Embedded bool `yaml:"embedded"`
	// Stream is the durable JetStream stream name
	Stream string `yaml:"stream"`
	// SubjectBase prefixes the task subjects (single and batch)
	SubjectBase string `yaml:"subject_base"`
	// Consumer is the durable worker consumer name
	Consumer string `yaml:"consumer"`
}

// RedisConfig configures the task store connection and key lifetimes
type RedisConfig struct {
	// Addr is the Redis address (default: localhost:6379)
	Addr string `yaml:"addr"`
	// Password is the Redis password (empty for no auth)
	Password string `yaml:"password"`
	// DB is the Redis database number
	DB int `yaml:"db"`
	// TaskTTL bounds task record lifetime (default: 1h)
	TaskTTL time.Duration `yaml:"task_ttl"`
	// SearchTTL bounds cached search result lifetime (default: 10m)
	SearchTTL time.Duration `yaml:"search_ttl"`
	// ArtifactTTL bounds spreadsheet path lifetime (default: 24h)
	ArtifactTTL time.Duration `yaml:"artifact_ttl"`
}

// OracleConfig configures the language-model client
type OracleConfig struct {
	// Provider selects the backend ("openrouter")
	Provider string `yaml:"provider"`
	// BaseURL overrides the provider endpoint (empty for the default)
	BaseURL string `yaml:"base_url"`
	// Model is the model identifier sent with each request
	Model string `yaml:"model"`
	// APIKey authenticates against the provider
	APIKey string `yaml:"api_key"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
	// MaxTokens caps the completion size (0 for provider default)
	MaxTokens int `yaml:"max_tokens"`
}

// CatalogConfig configures the component database
type CatalogConfig struct {
	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn"`
	// Limit caps the rows returned per search (default: 10)
	Limit int `yaml:"limit"`
	// QueryTimeout bounds a single catalog query
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// WorkerConfig configures pipeline policy
type WorkerConfig struct {
	// MaxRetries bounds redeliveries for transient failures (default: 3)
	MaxRetries int `yaml:"max_retries"`
	// PartialResults degrades to model-only answers when the catalog fails.
	// A pointer so an explicit false in a file layer survives merging.
	PartialResults *bool `yaml:"partial_results"`
	// ProcessingTimeout is the reclamation deadline for stuck tasks
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
}

// PartialResultsEnabled reports the toggle, defaulting to true when unset.
func (c WorkerConfig) PartialResultsEnabled() bool {
	return c.PartialResults == nil || *c.PartialResults
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	// Addr is the listen address (default: :8080)
	Addr string `yaml:"addr"`
	// CacheShortcut serves repeated queries from cache at submit time.
	// A pointer so an explicit false in a file layer survives merging.
	CacheShortcut *bool `yaml:"cache_shortcut"`
}

// CacheShortcutEnabled reports the toggle, defaulting to true when unset.
func (c HTTPConfig) CacheShortcutEnabled() bool {
	return c.CacheShortcut == nil || *c.CacheShortcut
}

// ArtifactConfig configures spreadsheet output
type ArtifactConfig struct {
	// Dir is the directory spreadsheet files are written to
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:         "nats://localhost:4222",
			Stream:      "SEARCH_TASKS",
			SubjectBase: "search.task",
			Consumer:    "search-workers",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			TaskTTL:     time.Hour,
			SearchTTL:   10 * time.Minute,
			ArtifactTTL: 24 * time.Hour,
		},
		Oracle: OracleConfig{
			Provider:    "openrouter",
			Model:       "deepseek/deepseek-chat",
			Temperature: 0.2,
			Timeout:     120 * time.Second,
		},
		Catalog: CatalogConfig{
			DSN:          "postgres://localhost:5432/hydrofind?sslmode=disable",
			Limit:        10,
			QueryTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			MaxRetries:        3,
			PartialResults:    boolPtr(true),
			ProcessingTimeout: 5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr:          ":8080",
			CacheShortcut: boolPtr(true),
		},
		Artifact: ArtifactConfig{
			Dir: "./artifacts",
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.NATS.URL == "" && !c.NATS.Embedded {
		return fmt.Errorf("nats.url is required unless nats.embedded is set")
	}
	if c.NATS.Stream == "" {
		return fmt.Errorf("nats.stream is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Oracle.Model == "" {
		return fmt.Errorf("oracle.model is required")
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 1 {
		return fmt.Errorf("oracle.temperature must be between 0.0 and 1.0, got %f", c.Oracle.Temperature)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive")
	}
	if c.Catalog.Limit <= 0 {
		return fmt.Errorf("catalog.limit must be positive")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be non-negative")
	}
	if c.Worker.ProcessingTimeout <= 0 {
		return fmt.Errorf("worker.processing_timeout must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	// The toggle pointers start nil so that only a key present in the file
	// marks them set; absent keys fall back to the accessor defaults.
	config.Worker.PartialResults = nil
	config.HTTP.CacheShortcut = nil
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return config, nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge overlays non-zero fields from other onto c
func (c *Config) Merge(other *Config) {
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Embedded {
		c.NATS.Embedded = true
	}
	if other.NATS.Stream != "" {
		c.NATS.Stream = other.NATS.Stream
	}
	if other.NATS.SubjectBase != "" {
		c.NATS.SubjectBase = other.NATS.SubjectBase
	}
	if other.NATS.Consumer != "" {
		c.NATS.Consumer = other.NATS.Consumer
	}

	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
	if other.Redis.Password != "" {
		c.Redis.Password = other.Redis.Password
	}
	if other.Redis.DB != 0 {
		c.Redis.DB = other.Redis.DB
	}
	if other.Redis.TaskTTL != 0 {
		c.Redis.TaskTTL = other.Redis.TaskTTL
	}
	if other.Redis.SearchTTL != 0 {
		c.Redis.SearchTTL = other.Redis.SearchTTL
	}
	if other.Redis.ArtifactTTL != 0 {
		c.Redis.ArtifactTTL = other.Redis.ArtifactTTL
	}

	if other.Oracle.Provider != "" {
		c.Oracle.Provider = other.Oracle.Provider
	}
	if other.Oracle.BaseURL != "" {
		c.Oracle.BaseURL = other.Oracle.BaseURL
	}
	if other.Oracle.Model != "" {
		c.Oracle.Model = other.Oracle.Model
	}
	if other.Oracle.APIKey != "" {
		c.Oracle.APIKey = other.Oracle.APIKey
	}
	if other.Oracle.Temperature != 0 {
		c.Oracle.Temperature = other.Oracle.Temperature
	}
	if other.Oracle.Timeout != 0 {
		c.Oracle.Timeout = other.Oracle.Timeout
	}
	if other.Oracle.MaxTokens != 0 {
		c.Oracle.MaxTokens = other.Oracle.MaxTokens
	}

	if other.Catalog.DSN != "" {
		c.Catalog.DSN = other.Catalog.DSN
	}
	if other.Catalog.Limit != 0 {
		c.Catalog.Limit = other.Catalog.Limit
	}
	if other.Catalog.QueryTimeout != 0 {
		c.Catalog.QueryTimeout = other.Catalog.QueryTimeout
	}

	if other.Worker.MaxRetries != 0 {
		c.Worker.MaxRetries = other.Worker.MaxRetries
	}
	if other.Worker.PartialResults != nil {
		c.Worker.PartialResults = other.Worker.PartialResults
	}
	if other.Worker.ProcessingTimeout != 0 {
		c.Worker.ProcessingTimeout = other.Worker.ProcessingTimeout
	}

	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.CacheShortcut != nil {
		c.HTTP.CacheShortcut = other.HTTP.CacheShortcut
	}
	if other.Artifact.Dir != "" {
		c.Artifact.Dir = other.Artifact.Dir
	}
}

func boolPtr(b bool) *bool {
	return &b
}
