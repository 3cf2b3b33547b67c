package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "hydrofind.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/hydrofind"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/hydrofind/config.yaml)
// 3. Project config (hydrofind.yaml in current or parent directories)
// 4. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for hydrofind.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// ApplyEnv overlays HYDROFIND_* environment variables onto the config.
// Environment takes precedence over every file layer.
func (c *Config) ApplyEnv() error {
	setString(&c.NATS.URL, "HYDROFIND_NATS_URL")
	if err := setBool(&c.NATS.Embedded, "HYDROFIND_NATS_EMBEDDED"); err != nil {
		return err
	}
	setString(&c.NATS.Stream, "HYDROFIND_NATS_STREAM")
	setString(&c.NATS.SubjectBase, "HYDROFIND_NATS_SUBJECT_BASE")
	setString(&c.NATS.Consumer, "HYDROFIND_NATS_CONSUMER")

	setString(&c.Redis.Addr, "HYDROFIND_REDIS_ADDR")
	setString(&c.Redis.Password, "HYDROFIND_REDIS_PASSWORD")
	if err := setInt(&c.Redis.DB, "HYDROFIND_REDIS_DB"); err != nil {
		return err
	}
	if err := setSeconds(&c.Redis.TaskTTL, "HYDROFIND_TASK_TTL"); err != nil {
		return err
	}
	if err := setSeconds(&c.Redis.SearchTTL, "HYDROFIND_SEARCH_TTL"); err != nil {
		return err
	}
	if err := setSeconds(&c.Redis.ArtifactTTL, "HYDROFIND_ARTIFACT_TTL"); err != nil {
		return err
	}

	setString(&c.Oracle.APIKey, "HYDROFIND_ORACLE_API_KEY")
	if c.Oracle.APIKey == "" {
		setString(&c.Oracle.APIKey, "OPENROUTER_API_KEY")
	}
	setString(&c.Oracle.BaseURL, "HYDROFIND_ORACLE_BASE_URL")
	setString(&c.Oracle.Model, "HYDROFIND_ORACLE_MODEL")
	if err := setSeconds(&c.Oracle.Timeout, "HYDROFIND_ORACLE_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&c.Oracle.MaxTokens, "HYDROFIND_ORACLE_MAX_TOKENS"); err != nil {
		return err
	}

	setString(&c.Catalog.DSN, "HYDROFIND_CATALOG_DSN")

	if err := setInt(&c.Worker.MaxRetries, "HYDROFIND_MAX_RETRIES"); err != nil {
		return err
	}
	if err := setSeconds(&c.Worker.ProcessingTimeout, "HYDROFIND_PROCESSING_TIMEOUT"); err != nil {
		return err
	}
	if err := setBoolPtr(&c.Worker.PartialResults, "HYDROFIND_PARTIAL_RESULTS"); err != nil {
		return err
	}

	setString(&c.HTTP.Addr, "HYDROFIND_HTTP_ADDR")
	if err := setBoolPtr(&c.HTTP.CacheShortcut, "HYDROFIND_CACHE_SHORTCUT"); err != nil {
		return err
	}
	setString(&c.Artifact.Dir, "HYDROFIND_ARTIFACT_DIR")

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: expected integer, got %q", key, v)
	}
	*dst = n
	return nil
}

func setBoolPtr(dst **bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: expected boolean, got %q", key, v)
	}
	*dst = &b
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: expected boolean, got %q", key, v)
	}
	*dst = b
	return nil
}

// setSeconds reads an integer number of seconds.
func setSeconds(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: expected seconds, got %q", key, v)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}
