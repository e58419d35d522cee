package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testNpub = "npub1sn0wdenkukak0d9dfczzeacvhkrgz92ak56egt7vdgzn8pv2wfqqhrjdv9"

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
site:
  name: "Test"
  domain: "test.example.com"
identity:
  npub: "`+testNpub+`"
logging:
  level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Identity.Npub != testNpub {
		t.Errorf("expected npub %s, got %s", testNpub, cfg.Identity.Npub)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}

	// Defaults applied for omitted sections
	if cfg.Cache.Engine != "memory" {
		t.Errorf("expected default cache engine memory, got %s", cfg.Cache.Engine)
	}
	if cfg.Cache.DedupCapacity != 1000 {
		t.Errorf("expected default dedup capacity 1000, got %d", cfg.Cache.DedupCapacity)
	}
	if cfg.Pipeline.FreshnessSeconds != 60 {
		t.Errorf("expected default freshness 60, got %d", cfg.Pipeline.FreshnessSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing npub",
			mutate:  func(c *Config) { c.Identity.Npub = "" },
			wantErr: true,
		},
		{
			name:    "npub wrong prefix",
			mutate:  func(c *Config) { c.Identity.Npub = "nsec1abc" },
			wantErr: true,
		},
		{
			name:    "missing domain",
			mutate:  func(c *Config) { c.Site.Domain = "" },
			wantErr: true,
		},
		{
			name:    "out of range port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "bad cache engine",
			mutate:  func(c *Config) { c.Cache.Engine = "memcached" },
			wantErr: true,
		},
		{
			name: "redis without url",
			mutate: func(c *Config) {
				c.Cache.Engine = "redis"
				c.Cache.RedisURL = ""
			},
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "out of range allowed kind",
			mutate:  func(c *Config) { c.Policy.AllowedKinds = []int{70000} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Identity.Npub = testNpub
			tt.mutate(cfg)

			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DITTO_NSEC", "nsec1testsecret")
	t.Setenv("DITTO_REDIS_URL", "redis://localhost:6379")

	path := writeConfig(t, `
site:
  domain: "test.example.com"
identity:
  npub: "`+testNpub+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Identity.Nsec != "nsec1testsecret" {
		t.Errorf("expected nsec from env, got %s", cfg.Identity.Nsec)
	}
	if cfg.Cache.RedisURL != "redis://localhost:6379" {
		t.Errorf("expected redis url from env, got %s", cfg.Cache.RedisURL)
	}
}

func TestGetExampleConfig(t *testing.T) {
	data, err := GetExampleConfig()
	if err != nil {
		t.Fatalf("GetExampleConfig() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty example config")
	}
}
