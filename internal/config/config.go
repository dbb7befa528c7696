package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultListenAddr is the fallback HTTP listen address.
	DefaultListenAddr = ":8090"
	// DefaultSessionTimeout bounds how long a streaming session stays open.
	DefaultSessionTimeout = 10 * time.Minute
	// DefaultLedgerTimeout bounds credit check and deduct calls.
	DefaultLedgerTimeout = 5 * time.Second
	// DefaultExpiryDays is the allocation expiry applied when none is given.
	DefaultExpiryDays = 30
)

// JWTConfig holds token validation settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// RedisConfig holds optional Redis connection settings for the session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// UpstreamConfig points at the model-invocation backend.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base-url"`
	APIKey  string        `yaml:"api-key"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// Config is the full service configuration.
type Config struct {
	Listen         string         `yaml:"listen"`
	DatabaseDSN    string         `yaml:"database-dsn"`
	JWT            JWTConfig      `yaml:"jwt"`
	Redis          RedisConfig    `yaml:"redis"`
	Upstream       UpstreamConfig `yaml:"upstream"`
	Log            LogConfig      `yaml:"log"`
	AdminKeyHash   string         `yaml:"admin-key-hash"`
	SessionTimeout time.Duration  `yaml:"session-timeout"`
	LedgerTimeout  time.Duration  `yaml:"ledger-timeout"`
}

// Load reads a YAML config file and applies environment overrides.
// A missing file is not an error; defaults and environment apply.
func Load(path string) (Config, error) {
	cfg := Config{}

	if strings.TrimSpace(path) != "" {
		data, errRead := os.ReadFile(path)
		if errRead != nil && !os.IsNotExist(errRead) {
			return cfg, fmt.Errorf("config: read %s: %w", path, errRead)
		}
		if errRead == nil {
			if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
			}
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return cfg, fmt.Errorf("config: database-dsn is required")
	}
	return cfg, nil
}

// applyEnv overrides config fields from the environment.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CREDITGATE_LISTEN")); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDITGATE_DATABASE_DSN")); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDITGATE_JWT_SECRET")); v != "" {
		cfg.JWT.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDITGATE_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDITGATE_UPSTREAM_URL")); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDITGATE_UPSTREAM_API_KEY")); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDITGATE_ADMIN_KEY_HASH")); v != "" {
		cfg.AdminKeyHash = v
	}
}

// applyDefaults fills unset fields with defaults.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListenAddr
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = DefaultLedgerTimeout
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = 5 * time.Minute
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
}
