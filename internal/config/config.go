// Package config loads and validates gateway and client configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/repothread/internal/repothread"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Convert   ConvertConfig   `mapstructure:"convert"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Client    ClientConfig    `mapstructure:"client"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BackendConfig points at the external analysis service.
type BackendConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	AnalyzeTimeoutSeconds int    `mapstructure:"analyze_timeout_seconds"`
	ConvertTimeoutSeconds int    `mapstructure:"convert_timeout_seconds"`
	StatusTimeoutSeconds  int    `mapstructure:"status_timeout_seconds"`
	AnalyzeMode           string `mapstructure:"analyze_mode"`
	ConvertMode           string `mapstructure:"convert_mode"`
	ReadyCheck            bool   `mapstructure:"ready_check"`
}

// ConvertConfig holds thread conversion defaults.
type ConvertConfig struct {
	DefaultTweets int `mapstructure:"default_tweets"`
}

// PollerConfig bounds the client-side job poller.
type PollerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	MaxWaitSeconds  int `mapstructure:"max_wait_seconds"`
	MaxAttempts     int `mapstructure:"max_attempts"`
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// CORSConfig lists browser origins allowed to call the gateway.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig throttles job creation requests.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is loaded first when present; existing variables win.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("REPOTHREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.analyze_timeout_seconds", 290)
	v.SetDefault("backend.convert_timeout_seconds", 290)
	v.SetDefault("backend.status_timeout_seconds", 30)
	v.SetDefault("backend.analyze_mode", string(repothread.ModeAsync))
	v.SetDefault("backend.convert_mode", string(repothread.ModeAsync))
	v.SetDefault("backend.ready_check", false)
	v.SetDefault("convert.default_tweets", repothread.DefaultNumTweets)
	v.SetDefault("poller.interval_seconds", 5)
	v.SetDefault("poller.max_wait_seconds", 900)
	v.SetDefault("poller.max_attempts", 0)
	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("cors.allowed_origins", []string{"https://repothread.vercel.app", "http://localhost:3000"})
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("logging.development", true)
}

// bindAliases lets the conventional platform variables override keys.
func bindAliases(v *viper.Viper) error {
	if err := v.BindEnv("server.port", "REPOTHREAD_SERVER_PORT", "PORT"); err != nil {
		return fmt.Errorf("bind server.port: %w", err)
	}
	if err := v.BindEnv("backend.base_url", "REPOTHREAD_BACKEND_BASE_URL", "API_BASE_URL"); err != nil {
		return fmt.Errorf("bind backend.base_url: %w", err)
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must be set")
	}
	if c.Backend.AnalyzeTimeoutSeconds <= 0 || c.Backend.ConvertTimeoutSeconds <= 0 {
		return fmt.Errorf("backend.analyze_timeout_seconds and backend.convert_timeout_seconds must be > 0")
	}
	if c.Backend.StatusTimeoutSeconds <= 0 {
		return fmt.Errorf("backend.status_timeout_seconds must be > 0")
	}
	if !repothread.Mode(c.Backend.AnalyzeMode).Valid() {
		return fmt.Errorf("backend.analyze_mode must be async or sync, got %q", c.Backend.AnalyzeMode)
	}
	if !repothread.Mode(c.Backend.ConvertMode).Valid() {
		return fmt.Errorf("backend.convert_mode must be async or sync, got %q", c.Backend.ConvertMode)
	}
	if c.Convert.DefaultTweets <= 0 {
		return fmt.Errorf("convert.default_tweets must be > 0")
	}
	if c.Poller.IntervalSeconds <= 0 {
		return fmt.Errorf("poller.interval_seconds must be > 0")
	}
	if c.Poller.MaxWaitSeconds < 0 || c.Poller.MaxAttempts < 0 {
		return fmt.Errorf("poller.max_wait_seconds and poller.max_attempts must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("ratelimit.rps must be > 0 when rate limiting is enabled")
	}
	return nil
}

// TimeoutFor converts the per-operation budget into a duration.
func (c Config) TimeoutFor(kind repothread.OperationKind) time.Duration {
	if kind == repothread.KindConvert {
		return time.Duration(c.Backend.ConvertTimeoutSeconds) * time.Second
	}
	return time.Duration(c.Backend.AnalyzeTimeoutSeconds) * time.Second
}

// ModeFor returns the configured result mode for an operation.
func (c Config) ModeFor(kind repothread.OperationKind) repothread.Mode {
	if kind == repothread.KindConvert {
		return repothread.Mode(c.Backend.ConvertMode)
	}
	return repothread.Mode(c.Backend.AnalyzeMode)
}

// StatusTimeout bounds a single job-status lookup.
func (c Config) StatusTimeout() time.Duration {
	return time.Duration(c.Backend.StatusTimeoutSeconds) * time.Second
}

// RequestTimeout bounds a whole inbound request. It must exceed the operation
// budgets so the gateway can answer with its own timeout envelope.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// PollInterval is the fixed spacing between status queries.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSeconds) * time.Second
}

// PollMaxWait is the wall-clock budget for one poll sequence, zero if unbounded.
func (c Config) PollMaxWait() time.Duration {
	return time.Duration(c.Poller.MaxWaitSeconds) * time.Second
}
