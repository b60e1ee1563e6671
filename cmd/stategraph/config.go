package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the stategraph.yaml file layout.
type Config struct {
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
	Run   RunDefaults `yaml:"run"`
}

// StoreConfig selects and configures the checkpointer.
type StoreConfig struct {
	// Backend is one of memory, sqlite, mysql, postgres, redis or mongo.
	Backend string `yaml:"backend"`

	// DSN is the SQLite path, the MySQL or PostgreSQL DSN, the Redis address
	// or the MongoDB URI.
	DSN string `yaml:"dsn"`

	// Redis only.
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`

	// MongoDB only.
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RunDefaults are applied to every run unless overridden by flags.
type RunDefaults struct {
	RecursionLimit int            `yaml:"recursion_limit"`
	MaxConcurrency int            `yaml:"max_concurrency"`
	Params         map[string]any `yaml:"params"`
}

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{Backend: "sqlite", DSN: "stategraph.db"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// loadConfig reads path over the defaults. A missing file is an error only
// when required is set.
func loadConfig(path string, required bool) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides cfg with STATEGRAPH_* environment variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("STATEGRAPH_STORE"); v != "" {
		cfg.Store.Backend = v
	}
	if v := getenv("STATEGRAPH_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := getenv("STATEGRAPH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("STATEGRAPH_RECURSION_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STATEGRAPH_RECURSION_LIMIT: %w", err)
		}
		cfg.Run.RecursionLimit = n
	}
	return nil
}
