package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

type SourceConfig struct {
	Name             string `yaml:"name"`
	BaseURL          string `yaml:"base_url"`
	Workers          int    `yaml:"workers"`
	PageWorkers      int    `yaml:"page_workers"`
	ItemsPerPage     int    `yaml:"items_per_page"`
	MaxOffset        int    `yaml:"max_offset"`
	RateBackoffSec   int    `yaml:"rate_backoff_sec"`
	RequestDelayMS   int    `yaml:"request_delay_ms"`
	RequestJitterMS  int    `yaml:"request_jitter_ms"`
	DisableDiscovery bool   `yaml:"disable_discovery"` // out-of-band requests only
}

type StoreConfig struct {
	Path    string `yaml:"path"`
	BlobDir string `yaml:"blob_dir"`
}

type ReplicaConfig struct {
	URI              string `yaml:"uri"`
	Database         string `yaml:"database"`
	FlushCount       int    `yaml:"flush_count"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	JitterMS    int `yaml:"jitter_ms"`
}

type SchedulerConfig struct {
	CycleIntervalSec int `yaml:"cycle_interval_sec"`
}

type APIConfig struct {
	Addr              string `yaml:"addr"`
	JWTSecret         string `yaml:"jwt_secret"`
	JWTIssuer         string `yaml:"jwt_issuer"`
	JWTTTLHours       int    `yaml:"jwt_ttl_hours"`
	AdminPasswordHash string `yaml:"admin_password_hash"` // bcrypt
}

type Config struct {
	Store     StoreConfig             `yaml:"store"`
	Replica   ReplicaConfig           `yaml:"replica"`
	Retry     RetryConfig             `yaml:"retry"`
	Scheduler SchedulerConfig         `yaml:"scheduler"`
	API       APIConfig               `yaml:"api"`
	Sources   map[string]SourceConfig `yaml:"sources"`
}

// Load reads the YAML config at path, applies defaults for anything
// unset, then applies MANGAMIRROR_* env overrides on top.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			home = "."
		}
		c.Store.Path = filepath.Join(home, ".mangamirror", "data.db")
	}
	if c.Store.BlobDir == "" {
		c.Store.BlobDir = filepath.Join(filepath.Dir(c.Store.Path), "blobs")
	}
	if c.Replica.FlushCount <= 0 {
		c.Replica.FlushCount = 10
	}
	if c.Replica.FlushIntervalSec <= 0 {
		c.Replica.FlushIntervalSec = 300
	}
	if c.Replica.Database == "" {
		c.Replica.Database = "mangamirror"
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = 500
	}
	if c.Retry.JitterMS < 0 {
		c.Retry.JitterMS = 0
	}
	if c.Scheduler.CycleIntervalSec <= 0 {
		c.Scheduler.CycleIntervalSec = 300
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.API.JWTIssuer == "" {
		c.API.JWTIssuer = "mangamirror"
	}
	if c.API.JWTTTLHours <= 0 {
		c.API.JWTTTLHours = 24
	}
	for name, src := range c.Sources {
		if src.Name == "" {
			src.Name = name
		}
		if src.Workers <= 0 {
			src.Workers = 4
		}
		if src.PageWorkers <= 0 {
			src.PageWorkers = 4
		}
		if src.ItemsPerPage <= 0 {
			src.ItemsPerPage = 20
		}
		if src.MaxOffset <= 0 {
			src.MaxOffset = 3000
		}
		if src.RateBackoffSec <= 0 {
			src.RateBackoffSec = 60
		}
		c.Sources[name] = src
	}
}

func (c *Config) applyEnv() {
	if p := os.Getenv("MANGAMIRROR_DB_PATH"); p != "" {
		c.Store.Path = p
	}
	if p := os.Getenv("MANGAMIRROR_BLOB_DIR"); p != "" {
		c.Store.BlobDir = p
	}
	if u := os.Getenv("MANGAMIRROR_REPLICA_URI"); u != "" {
		c.Replica.URI = u
	}
	if s := os.Getenv("MANGAMIRROR_JWT_SECRET"); s != "" {
		c.API.JWTSecret = s
	}
	if h := os.Getenv("MANGAMIRROR_ADMIN_PASSWORD_HASH"); h != "" {
		c.API.AdminPasswordHash = h
	}
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Replica.FlushIntervalSec) * time.Second
}

func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Scheduler.CycleIntervalSec) * time.Second
}
