// Package config loads server configuration from defaults, an optional YAML
// file and the environment. Command-line flags are layered on top by the
// caller.
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

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
	StoreHTTP     = "http"
)

type Config struct {
	Listen         string          `yaml:"listen"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	Relay          RelayConfig     `yaml:"relay"`
	Store          StoreConfig     `yaml:"store"`
	Hub            HubConfig       `yaml:"hub"`
	Log            LogConfig       `yaml:"log"`
	Discovery      DiscoveryConfig `yaml:"discovery"`
}

type RelayConfig struct {
	// RedisAddr selects the Redis Streams relay. Empty runs a single
	// instance without a relay.
	RedisAddr string        `yaml:"redis_addr"`
	MaxLen    int           `yaml:"max_len"`
	Block     time.Duration `yaml:"block"`
}

type StoreConfig struct {
	Backend     string        `yaml:"backend"`
	DatabaseURL string        `yaml:"database_url"`
	BoltPath    string        `yaml:"bolt_path"`
	ServiceURL  string        `yaml:"service_url"`
	Timeout     time.Duration `yaml:"timeout"`
	// SaveRetry bounds how long a fetch or save keeps retrying.
	SaveRetry  time.Duration `yaml:"save_retry"`
	MaxRetries uint64        `yaml:"max_retries"`
}

type HubConfig struct {
	HistoryLimit int           `yaml:"history_limit"`
	SendBuffer   int           `yaml:"send_buffer"`
	CacheSize    int           `yaml:"cache_size"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
	LoadTimeout  time.Duration `yaml:"load_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
}

func Default() *Config {
	return &Config{
		Listen: ":8081",
		Relay: RelayConfig{
			MaxLen: 1000,
			Block:  time.Second,
		},
		Store: StoreConfig{
			Backend:    StoreMemory,
			BoltPath:   "collabtext.db",
			Timeout:    10 * time.Second,
			SaveRetry:  10 * time.Second,
			MaxRetries: 5,
		},
		Hub: HubConfig{
			HistoryLimit: 1000,
			SendBuffer:   256,
			CacheSize:    128,
			FlushTimeout: 30 * time.Second,
			LoadTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Discovery: DiscoveryConfig{
			Service: "_collabtext._tcp",
			Domain:  "local.",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any, and
// then the environment. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := applyEnvironment(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) error {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Relay.RedisAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("DOCUMENT_SERVICE_URL"); v != "" {
		cfg.Store.ServiceURL = v
	}
	if v := os.Getenv("COLLAB_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("COLLAB_STORE"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("COLLAB_BOLT_PATH"); v != "" {
		cfg.Store.BoltPath = v
	}
	if v := os.Getenv("COLLAB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("COLLAB_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("COLLAB_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("COLLAB_HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COLLAB_HISTORY_LIMIT: %w", err)
		}
		cfg.Hub.HistoryLimit = n
	}
	if v := os.Getenv("COLLAB_SEND_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COLLAB_SEND_BUFFER: %w", err)
		}
		cfg.Hub.SendBuffer = n
	}
	if v := os.Getenv("COLLAB_SAVE_RETRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COLLAB_SAVE_RETRY: %w", err)
		}
		cfg.Store.SaveRetry = d
	}
	if v := os.Getenv("COLLAB_MDNS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COLLAB_MDNS: %w", err)
		}
		cfg.Discovery.Enabled = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres store requires a database url"))
		}
	case StoreBolt:
		if c.Store.BoltPath == "" {
			errs = append(errs, errors.New("bolt store requires a path"))
		}
	case StoreHTTP:
		if c.Store.ServiceURL == "" {
			errs = append(errs, errors.New("http store requires a document service url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Relay.MaxLen <= 0 {
		errs = append(errs, errors.New("relay max_len must be positive"))
	}
	if c.Relay.Block <= 0 {
		errs = append(errs, errors.New("relay block must be positive"))
	}
	if c.Hub.HistoryLimit <= 0 {
		errs = append(errs, errors.New("hub history_limit must be positive"))
	}
	if c.Hub.SendBuffer <= 0 {
		errs = append(errs, errors.New("hub send_buffer must be positive"))
	}
	if c.Hub.CacheSize <= 0 {
		errs = append(errs, errors.New("hub cache_size must be positive"))
	}
	if c.Discovery.Enabled && c.Discovery.Service == "" {
		errs = append(errs, errors.New("discovery requires a service name"))
	}
	return errors.Join(errs...)
}
