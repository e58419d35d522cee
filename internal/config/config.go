package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete ditto configuration
type Config struct {
	Site      Site      `yaml:"site"`
	Server    Server    `yaml:"server"`
	Identity  Identity  `yaml:"identity"`
	Storage   Storage   `yaml:"storage"`
	Cache     Cache     `yaml:"cache"`
	Policy    Policy    `yaml:"policy"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Retention Retention `yaml:"retention"`
	Logging   Logging   `yaml:"logging"`
}

// Site contains instance metadata
type Site struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Domain      string `yaml:"domain"`
}

// Server contains the relay listener settings
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Identity contains the operator's Nostr identity.
// The secret key is never read from the config file; it is loaded from the
// DITTO_NSEC environment variable only.
type Identity struct {
	Npub string `yaml:"npub"`
	Nsec string `yaml:"-"`
}

// Storage contains storage backend settings
type Storage struct {
	SQLitePath        string `yaml:"sqlite_path"`
	QueryLimit        int    `yaml:"query_limit"`
	QueryAuthorsLimit int    `yaml:"query_authors_limit"`
	QueryIDsLimit     int    `yaml:"query_ids_limit"`
}

// Cache contains dedup cache settings
type Cache struct {
	Engine        string `yaml:"engine"` // memory|redis
	RedisURL      string `yaml:"redis_url"`
	DedupCapacity int    `yaml:"dedup_capacity"`
	DedupTTLSecs  int    `yaml:"dedup_ttl_seconds"` // redis engine only
}

// Policy contains moderation policy settings
type Policy struct {
	Enabled      bool  `yaml:"enabled"`
	TimeoutMs    int   `yaml:"timeout_ms"`
	AllowedKinds []int `yaml:"allowed_kinds"` // empty = all kinds allowed
}

// Pipeline contains event pipeline tuning
type Pipeline struct {
	FreshnessSeconds    int `yaml:"freshness_seconds"`   // max age for ephemeral events
	DerivedDeadlineMs   int `yaml:"derived_deadline_ms"` // deadline for derived admin events
	SideEffectTimeoutMs int `yaml:"side_effect_timeout_ms"`
}

// Retention controls pruning of old events
type Retention struct {
	Enabled            bool            `yaml:"enabled"`
	PruneIntervalHours int             `yaml:"prune_interval_hours"`
	Rules              []RetentionRule `yaml:"rules"`
}

// RetentionRule expires events of the listed kinds after a maximum age.
// An empty kind list covers all kinds.
type RetentionRule struct {
	Kinds      []int `yaml:"kinds"`
	MaxAgeDays int   `yaml:"max_age_days"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration fields with sensible defaults
func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}
	if cfg.Storage.QueryLimit == 0 {
		cfg.Storage.QueryLimit = defaults.Storage.QueryLimit
	}
	if cfg.Storage.QueryAuthorsLimit == 0 {
		cfg.Storage.QueryAuthorsLimit = defaults.Storage.QueryAuthorsLimit
	}
	if cfg.Storage.QueryIDsLimit == 0 {
		cfg.Storage.QueryIDsLimit = defaults.Storage.QueryIDsLimit
	}
	if cfg.Cache.Engine == "" {
		cfg.Cache.Engine = defaults.Cache.Engine
	}
	if cfg.Cache.DedupCapacity == 0 {
		cfg.Cache.DedupCapacity = defaults.Cache.DedupCapacity
	}
	if cfg.Cache.DedupTTLSecs == 0 {
		cfg.Cache.DedupTTLSecs = defaults.Cache.DedupTTLSecs
	}
	if cfg.Policy.TimeoutMs == 0 {
		cfg.Policy.TimeoutMs = defaults.Policy.TimeoutMs
	}
	if cfg.Pipeline.FreshnessSeconds == 0 {
		cfg.Pipeline.FreshnessSeconds = defaults.Pipeline.FreshnessSeconds
	}
	if cfg.Pipeline.DerivedDeadlineMs == 0 {
		cfg.Pipeline.DerivedDeadlineMs = defaults.Pipeline.DerivedDeadlineMs
	}
	if cfg.Pipeline.SideEffectTimeoutMs == 0 {
		cfg.Pipeline.SideEffectTimeoutMs = defaults.Pipeline.SideEffectTimeoutMs
	}
	if cfg.Retention.PruneIntervalHours == 0 {
		cfg.Retention.PruneIntervalHours = defaults.Retention.PruneIntervalHours
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) error {
	if nsec := os.Getenv("DITTO_NSEC"); nsec != "" {
		cfg.Identity.Nsec = nsec
	}

	if redisURL := os.Getenv("DITTO_REDIS_URL"); redisURL != "" {
		cfg.Cache.RedisURL = redisURL
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Site: Site{
			Name:        "Ditto",
			Description: "Self-hosted Nostr relay",
			Domain:      "localhost",
		},
		Server: Server{
			Host: "0.0.0.0",
			Port: 7447,
		},
		Identity: Identity{
			Npub: "",
		},
		Storage: Storage{
			SQLitePath:        "./data/ditto.db",
			QueryLimit:        500,
			QueryAuthorsLimit: 500,
			QueryIDsLimit:     500,
		},
		Cache: Cache{
			Engine:        "memory",
			RedisURL:      "",
			DedupCapacity: 1000,
			DedupTTLSecs:  3600,
		},
		Policy: Policy{
			Enabled:      true,
			TimeoutMs:    5000,
			AllowedKinds: []int{},
		},
		Pipeline: Pipeline{
			FreshnessSeconds:    60,
			DerivedDeadlineMs:   1000,
			SideEffectTimeoutMs: 5000,
		},
		Retention: Retention{
			Enabled:            false,
			PruneIntervalHours: 24,
			Rules:              nil,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// validLogLevels defines allowed log levels
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validCacheEngines defines allowed cache engines
var validCacheEngines = map[string]bool{
	"memory": true,
	"redis":  true,
}

// Validate checks if a configuration is valid
func Validate(cfg *Config) error {
	if cfg.Identity.Npub == "" {
		return fmt.Errorf("identity.npub is required")
	}
	if !strings.HasPrefix(cfg.Identity.Npub, "npub1") {
		return fmt.Errorf("identity.npub must start with 'npub1'")
	}

	if cfg.Site.Domain == "" {
		return fmt.Errorf("site.domain is required")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}

	if !validCacheEngines[cfg.Cache.Engine] {
		return fmt.Errorf("invalid cache engine: %s (must be one of: memory, redis)", cfg.Cache.Engine)
	}
	if cfg.Cache.Engine == "redis" && cfg.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when cache.engine is redis")
	}
	if cfg.Cache.DedupCapacity < 1 {
		return fmt.Errorf("cache.dedup_capacity must be positive")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}

	if cfg.Pipeline.FreshnessSeconds < 1 {
		return fmt.Errorf("pipeline.freshness_seconds must be positive")
	}
	if cfg.Pipeline.DerivedDeadlineMs < 1 {
		return fmt.Errorf("pipeline.derived_deadline_ms must be positive")
	}

	for _, kind := range cfg.Policy.AllowedKinds {
		if kind < 0 || kind > 65535 {
			return fmt.Errorf("policy.allowed_kinds contains out-of-range kind: %d", kind)
		}
	}

	if cfg.Retention.Enabled {
		for i, rule := range cfg.Retention.Rules {
			if rule.MaxAgeDays < 0 {
				return fmt.Errorf("retention.rules[%d].max_age_days must not be negative", i)
			}
		}
	}

	return nil
}
