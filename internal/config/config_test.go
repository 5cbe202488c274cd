package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/repothread/internal/repothread"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Fatalf("expected local backend default, got %q", cfg.Backend.BaseURL)
	}
	if got := cfg.TimeoutFor(repothread.KindConvert); got != 290*time.Second {
		t.Fatalf("expected convert budget 290s, got %v", got)
	}
	if got := cfg.PollInterval(); got != 5*time.Second {
		t.Fatalf("expected poll interval 5s, got %v", got)
	}
	if cfg.Convert.DefaultTweets != repothread.DefaultNumTweets {
		t.Fatalf("expected default tweets %d, got %d", repothread.DefaultNumTweets, cfg.Convert.DefaultTweets)
	}
	if cfg.ModeFor(repothread.KindAnalyze) != repothread.ModeAsync {
		t.Fatalf("expected async analyze mode by default")
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("expected default cors origins, got %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 120
auth:
  enabled: true
  api_key: secret
backend:
  base_url: https://backend.example.com
  analyze_timeout_seconds: 55
  convert_timeout_seconds: 100
  status_timeout_seconds: 10
  analyze_mode: sync
  convert_mode: async
convert:
  default_tweets: 8
poller:
  interval_seconds: 2
  max_wait_seconds: 60
  max_attempts: 20
cors:
  allowed_origins: ["https://app.example.com"]
ratelimit:
  enabled: true
  rps: 0.5
  burst: 2
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Backend.BaseURL != "https://backend.example.com" {
		t.Fatalf("expected backend override, got %q", cfg.Backend.BaseURL)
	}
	if cfg.ModeFor(repothread.KindAnalyze) != repothread.ModeSync {
		t.Fatalf("expected sync analyze mode")
	}
	if got := cfg.TimeoutFor(repothread.KindAnalyze); got != 55*time.Second {
		t.Fatalf("expected analyze budget 55s, got %v", got)
	}
	if got := cfg.PollMaxWait(); got != time.Minute {
		t.Fatalf("expected poll max wait 1m, got %v", got)
	}
	if cfg.Poller.MaxAttempts != 20 || cfg.Convert.DefaultTweets != 8 {
		t.Fatalf("expected poller/convert overrides to apply: %+v", cfg)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Burst != 2 {
		t.Fatalf("expected rate limit overrides: %+v", cfg.RateLimit)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadEnvAliases(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://analysis.internal:8000")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "http://analysis.internal:8000" {
		t.Fatalf("expected API_BASE_URL to apply, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected PORT to apply, got %d", cfg.Server.Port)
	}
}

func TestLoadPrefixedEnvOverride(t *testing.T) {
	t.Setenv("REPOTHREAD_POLLER_INTERVAL_SECONDS", "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval() != time.Second {
		t.Fatalf("expected interval override, got %v", cfg.PollInterval())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080, RequestTimeoutSeconds: 300},
		Backend: BackendConfig{
			BaseURL:               "http://localhost:8000",
			AnalyzeTimeoutSeconds: 290,
			ConvertTimeoutSeconds: 290,
			StatusTimeoutSeconds:  30,
			AnalyzeMode:           "async",
			ConvertMode:           "async",
		},
		Convert: ConvertConfig{DefaultTweets: 14},
		Poller:  PollerConfig{IntervalSeconds: 5},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid request timeout", func(c *Config) { c.Server.RequestTimeoutSeconds = 0 }, "server.request_timeout_seconds"},
		{"missing base url", func(c *Config) { c.Backend.BaseURL = "" }, "backend.base_url"},
		{"invalid convert timeout", func(c *Config) { c.Backend.ConvertTimeoutSeconds = 0 }, "convert_timeout_seconds"},
		{"invalid status timeout", func(c *Config) { c.Backend.StatusTimeoutSeconds = -1 }, "backend.status_timeout_seconds"},
		{"unknown analyze mode", func(c *Config) { c.Backend.AnalyzeMode = "stream" }, "backend.analyze_mode"},
		{"unknown convert mode", func(c *Config) { c.Backend.ConvertMode = "" }, "backend.convert_mode"},
		{"invalid tweets", func(c *Config) { c.Convert.DefaultTweets = 0 }, "convert.default_tweets"},
		{"invalid interval", func(c *Config) { c.Poller.IntervalSeconds = 0 }, "poller.interval_seconds"},
		{"negative max attempts", func(c *Config) { c.Poller.MaxAttempts = -1 }, "poller.max_attempts"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"rate limit without rps", func(c *Config) { c.RateLimit.Enabled = true }, "ratelimit.rps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
