// Package config loads entity manager settings from an optional YAML file and
// environment variables.
//
//	ENTITYSTORE_CONFIG: path to a YAML file (optional)
//	ENTITYSTORE_MAX_SYNC_BATCH: largest batch normalized inline (default 100)
//	ENTITYSTORE_EVICTION_DELAY: cache eviction debounce, Go duration (default 5s)
//	ENTITYSTORE_WORKER_CONCURRENCY: normalization goroutines (default 2)
//	ENTITYSTORE_WORKER_QUEUE: pending worker requests (default 32)
//	ENTITYSTORE_LOG_LEVEL: debug|info|warn|error (default info)
//
// Environment variables override values from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvFile              = "ENTITYSTORE_CONFIG"
	EnvMaxSyncBatch      = "ENTITYSTORE_MAX_SYNC_BATCH"
	EnvEvictionDelay     = "ENTITYSTORE_EVICTION_DELAY"
	EnvWorkerConcurrency = "ENTITYSTORE_WORKER_CONCURRENCY"
	EnvWorkerQueue       = "ENTITYSTORE_WORKER_QUEUE"
	EnvLogLevel          = "ENTITYSTORE_LOG_LEVEL"
)

// Config holds the tunables of the entity manager.
type Config struct {
	MaxSyncBatchSize  int           `yaml:"max_sync_batch_size"`
	EvictionDelay     time.Duration `yaml:"eviction_delay"`
	WorkerConcurrency int           `yaml:"worker_concurrency"`
	WorkerQueueSize   int           `yaml:"worker_queue_size"`
	LogLevel          string        `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxSyncBatchSize:  100,
		EvictionDelay:     5 * time.Second,
		WorkerConcurrency: 2,
		WorkerQueueSize:   32,
		LogLevel:          "info",
	}
}

// Load reads the file named by ENTITYSTORE_CONFIG (if set), applies
// environment overrides and validates the result.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an injectable environment lookup.
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Default()
	if path := getenv(EnvFile); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	ints := []struct {
		name   string
		target *int
	}{
		{EnvMaxSyncBatch, &cfg.MaxSyncBatchSize},
		{EnvWorkerConcurrency, &cfg.WorkerConcurrency},
		{EnvWorkerQueue, &cfg.WorkerQueueSize},
	}
	for _, item := range ints {
		raw := strings.TrimSpace(getenv(item.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", item.name, err)
		}
		*item.target = v
	}
	if raw := strings.TrimSpace(getenv(EnvEvictionDelay)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEvictionDelay, err)
		}
		cfg.EvictionDelay = d
	}
	if raw := strings.TrimSpace(getenv(EnvLogLevel)); raw != "" {
		cfg.LogLevel = raw
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.MaxSyncBatchSize < 0 {
		errs = append(errs, fmt.Errorf("max sync batch size must not be negative (got %d)", c.MaxSyncBatchSize))
	}
	if c.EvictionDelay < 0 {
		errs = append(errs, fmt.Errorf("eviction delay must not be negative (got %s)", c.EvictionDelay))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker concurrency must be positive (got %d)", c.WorkerConcurrency))
	}
	if c.WorkerQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("worker queue size must be positive (got %d)", c.WorkerQueueSize))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}
