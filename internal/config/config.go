// Package config loads the daemon configuration from YAML with FITSYNC_*
// environment overrides.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fitsync/internal/adapters/portal"
	"fitsync/internal/application/retry"
)

// Config holds all fitsync configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Portal  Portal  `yaml:"portal"`
	Cache   Cache   `yaml:"cache"`
	Sync    Sync    `yaml:"sync"`
	Auth    Auth    `yaml:"auth"`
	Notify  Notify  `yaml:"notify"`
	Log     Log     `yaml:"log"`
}

// Server holds local API settings.
type Server struct {
	Addr           string   `yaml:"addr"`
	Env            string   `yaml:"env"`             // "development" | "production"
	CSRFKey        string   `yaml:"csrf_key"`        // 64 hex characters; random per start when empty outside production
	RateLimit      int      `yaml:"rate_limit"`      // requests per second per client IP
	TrustedOrigins []string `yaml:"trusted_origins"` // extra origins allowed to post forms
}

// Storage selects where the cache and queue live.
type Storage struct {
	Driver string `yaml:"driver"` // "sqlite" | "postgres" | "memory"
	DSN    string `yaml:"dsn"`
}

// Portal holds upstream settings.
type Portal struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Cache holds TTL settings.
type Cache struct {
	DefaultTTL time.Duration            `yaml:"default_ttl"`
	TTLs       map[string]time.Duration `yaml:"ttls"`
}

// Sync holds queue replay settings.
type Sync struct {
	Interval       time.Duration `yaml:"interval"` // 0 disables the periodic drain
	StartOnline    bool          `yaml:"start_online"`
	NetworkTimeout time.Duration `yaml:"network_timeout"`
	Retry          RetryConfig   `yaml:"retry"`
}

// RetryConfig holds the bounded retry applied to one network attempt.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"` // 1 = no retry
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

// Auth holds bcrypt hashes of the local API bearer tokens.
type Auth struct {
	MemberTokenHash string `yaml:"member_token_hash"`
	AdminTokenHash  string `yaml:"admin_token_hash"`
}

// Notify holds sync-failure email settings. An empty ResendKey logs instead of sending.
type Notify struct {
	ResendKey string   `yaml:"resend_key"`
	From      string   `yaml:"from"`
	To        []string `yaml:"to"`
}

// Log holds logger settings.
type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: Server{
			Addr:      "127.0.0.1:8787",
			Env:       "development",
			RateLimit: 20,
		},
		Storage: Storage{
			Driver: "sqlite",
			DSN:    "fitsync.db",
		},
		Portal: Portal{
			Timeout: 30 * time.Second,
		},
		Cache: Cache{
			DefaultTTL: 5 * time.Minute,
			TTLs: map[string]time.Duration{
				portal.KeyMembershipDetails: 24 * time.Hour,
				portal.KeyWeeklyWorkout:     time.Hour,
				portal.KeyProgressSummary:   6 * time.Hour,
			},
		},
		Sync: Sync{
			Interval:       time.Minute,
			StartOnline:    true,
			NetworkTimeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 1,
				InitialWait: 500 * time.Millisecond,
				MaxWait:     10 * time.Second,
				Multiplier:  2,
			},
		},
		Notify: Notify{
			From: "Fitsync <noreply@fitsync.local>",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML config file at path over the defaults.
// If the file does not exist, defaults are returned without error.
// If the file contains invalid YAML or unknown fields, an error is returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return &cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadWithEnv loads path, applies FITSYNC_* overrides and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: FITSYNC_ADDR, FITSYNC_ENV, FITSYNC_CSRF_KEY,
// FITSYNC_STORAGE_DRIVER, FITSYNC_STORAGE_DSN, FITSYNC_PORTAL_URL,
// FITSYNC_PORTAL_TOKEN, FITSYNC_PORTAL_TIMEOUT, FITSYNC_SYNC_INTERVAL,
// FITSYNC_START_ONLINE, FITSYNC_MEMBER_TOKEN_HASH, FITSYNC_ADMIN_TOKEN_HASH,
// FITSYNC_RESEND_KEY, FITSYNC_NOTIFY_TO, FITSYNC_LOG_LEVEL, FITSYNC_LOG_FORMAT.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"FITSYNC_ADDR":              &c.Server.Addr,
		"FITSYNC_ENV":               &c.Server.Env,
		"FITSYNC_CSRF_KEY":          &c.Server.CSRFKey,
		"FITSYNC_STORAGE_DRIVER":    &c.Storage.Driver,
		"FITSYNC_STORAGE_DSN":       &c.Storage.DSN,
		"FITSYNC_PORTAL_URL":        &c.Portal.BaseURL,
		"FITSYNC_PORTAL_TOKEN":      &c.Portal.Token,
		"FITSYNC_MEMBER_TOKEN_HASH": &c.Auth.MemberTokenHash,
		"FITSYNC_ADMIN_TOKEN_HASH":  &c.Auth.AdminTokenHash,
		"FITSYNC_RESEND_KEY":        &c.Notify.ResendKey,
		"FITSYNC_LOG_LEVEL":         &c.Log.Level,
		"FITSYNC_LOG_FORMAT":        &c.Log.Format,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"FITSYNC_PORTAL_TIMEOUT": &c.Portal.Timeout,
		"FITSYNC_SYNC_INTERVAL":  &c.Sync.Interval,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: invalid %s %q: %w", name, v, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("FITSYNC_START_ONLINE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid FITSYNC_START_ONLINE %q: %w", v, err)
		}
		c.Sync.StartOnline = b
	}
	if v := os.Getenv("FITSYNC_NOTIFY_TO"); v != "" {
		c.Notify.To = nil
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				c.Notify.To = append(c.Notify.To, addr)
			}
		}
	}
	return nil
}

// Validate checks that config values are usable and reports the first invalid field.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server.addr cannot be empty")
	}
	switch c.Server.Env {
	case "development", "production":
	default:
		return fmt.Errorf("config: server.env must be \"development\" or \"production\", got %q", c.Server.Env)
	}
	if c.Server.CSRFKey != "" {
		if key, err := hex.DecodeString(c.Server.CSRFKey); err != nil || len(key) != 32 {
			return errors.New("config: server.csrf_key must be 64 hex characters (32 bytes)")
		}
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("config: server.rate_limit must be positive, got %d", c.Server.RateLimit)
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("config: storage.driver must be sqlite, postgres or memory, got %q", c.Storage.Driver)
	}

	if c.Portal.BaseURL == "" {
		return errors.New("config: portal.base_url cannot be empty")
	}
	if u, err := url.Parse(c.Portal.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: portal.base_url must be an absolute http(s) url, got %q", c.Portal.BaseURL)
	}
	if c.Portal.Timeout <= 0 {
		return fmt.Errorf("config: portal.timeout must be positive, got %v", c.Portal.Timeout)
	}

	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("config: cache.default_ttl must be non-negative, got %v", c.Cache.DefaultTTL)
	}
	for key, ttl := range c.Cache.TTLs {
		if ttl < 0 {
			return fmt.Errorf("config: cache.ttls.%s must be non-negative, got %v", key, ttl)
		}
	}

	if c.Sync.Interval < 0 {
		return fmt.Errorf("config: sync.interval must be non-negative, got %v", c.Sync.Interval)
	}
	if c.Sync.NetworkTimeout < 0 {
		return fmt.Errorf("config: sync.network_timeout must be non-negative, got %v", c.Sync.NetworkTimeout)
	}
	if c.Sync.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: sync.retry.max_attempts must be at least 1, got %d", c.Sync.Retry.MaxAttempts)
	}
	if c.Sync.Retry.MaxAttempts > 1 {
		if c.Sync.Retry.InitialWait <= 0 {
			return fmt.Errorf("config: sync.retry.initial_wait must be positive when retrying, got %v", c.Sync.Retry.InitialWait)
		}
		if c.Sync.Retry.Multiplier < 1 {
			return fmt.Errorf("config: sync.retry.multiplier must be >= 1, got %v", c.Sync.Retry.Multiplier)
		}
	}

	if c.Production() {
		if c.Auth.MemberTokenHash == "" && c.Auth.AdminTokenHash == "" {
			return errors.New("config: auth.member_token_hash or auth.admin_token_hash is required in production")
		}
		if c.Server.CSRFKey == "" {
			return errors.New("config: server.csrf_key is required in production")
		}
	}
	if c.Notify.ResendKey != "" && len(c.Notify.To) == 0 {
		return errors.New("config: notify.to is required when notify.resend_key is set")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Production reports whether the daemon runs in production mode.
func (c *Config) Production() bool {
	return c.Server.Env == "production"
}

// RetryPolicy converts the retry section to a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	if c.Sync.Retry.MaxAttempts <= 1 {
		return retry.Disabled()
	}
	return retry.Policy{
		MaxAttempts: c.Sync.Retry.MaxAttempts,
		InitialWait: c.Sync.Retry.InitialWait,
		MaxWait:     c.Sync.Retry.MaxWait,
		Multiplier:  c.Sync.Retry.Multiplier,
		Jitter:      0.1,
	}
}

// CSRFKeyBytes decodes server.csrf_key. It returns nil when unset.
// PRE: Validate passed
func (c *Config) CSRFKeyBytes() []byte {
	if c.Server.CSRFKey == "" {
		return nil
	}
	key, _ := hex.DecodeString(c.Server.CSRFKey)
	return key
}
