// Package config loads runtime configuration from the environment.
//
// Values come from environment variables, optionally seeded from a .env file
// in the working directory. Defaults are tuned for local development against
// a backend on localhost.
//
// # Environment Variables
//
//   - PLATFORM: native, web or localhost. Default: native
//   - BACKEND_URL: base URL of the auth/REST backend. Required.
//   - ANON_KEY: public API key sent with every backend request.
//   - JWT_SECRET: when set, access tokens are verified (HS256).
//   - REDIRECT_URL: where auth links send the user. Default: crewcall://auth/callback
//   - DB_PATH: local cache database. Default: data/crewcall.db
//   - DEVICE_SECRET: seals the cached session. Unset stores it unsealed.
//   - RECOVERY_POLICY: corroborate-on-web, always-corroborate or trust-always.
//   - URL_POLL_ATTEMPTS / URL_POLL_INTERVAL: entry URL polling. Default: 20 / 120ms
//   - STORAGE_*: S3-compatible object storage for avatars.
//   - LOG_LEVEL: debug, info, warn or error. Default: info
//   - PORT: web host port. Default: 8080
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sakif/crewcall/internal/platform"
	"github.com/sakif/crewcall/internal/reconciler"
	"github.com/sakif/crewcall/internal/retry"
	"github.com/sakif/crewcall/internal/storage"
)

// Config holds every runtime setting.
type Config struct {
	Platform        string        `mapstructure:"PLATFORM"`
	BackendURL      string        `mapstructure:"BACKEND_URL"`
	AnonKey         string        `mapstructure:"ANON_KEY"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	RedirectURL     string        `mapstructure:"REDIRECT_URL"`
	AppScheme       string        `mapstructure:"APP_SCHEME"`
	DBPath          string        `mapstructure:"DB_PATH"`
	DeviceSecret    string        `mapstructure:"DEVICE_SECRET"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	Port            int           `mapstructure:"PORT"`
	URLPollAttempts int           `mapstructure:"URL_POLL_ATTEMPTS"`
	URLPollInterval time.Duration `mapstructure:"URL_POLL_INTERVAL"`
	RecoveryPolicy  string        `mapstructure:"RECOVERY_POLICY"`
	PaywallEnabled  bool          `mapstructure:"PAYWALL_ENABLED"`
	PriceID         string        `mapstructure:"PRICE_ID"`

	StorageEndpoint  string `mapstructure:"STORAGE_ENDPOINT"`
	StorageBucket    string `mapstructure:"STORAGE_BUCKET"`
	StorageRegion    string `mapstructure:"STORAGE_REGION"`
	StorageAccessKey string `mapstructure:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string `mapstructure:"STORAGE_SECRET_KEY"`
	StoragePublicURL string `mapstructure:"STORAGE_PUBLIC_URL"`
}

var defaults = map[string]any{
	"PLATFORM":           string(platform.Native),
	"BACKEND_URL":        "",
	"ANON_KEY":           "",
	"JWT_SECRET":         "",
	"REDIRECT_URL":       "crewcall://auth/callback",
	"APP_SCHEME":         "crewcall",
	"DB_PATH":            "data/crewcall.db",
	"DEVICE_SECRET":      "",
	"LOG_LEVEL":          "info",
	"PORT":               8080,
	"URL_POLL_ATTEMPTS":  retry.URLPolling.Attempts,
	"URL_POLL_INTERVAL":  retry.URLPolling.Interval,
	"RECOVERY_POLICY":    string(reconciler.CorroborateOnWeb),
	"PAYWALL_ENABLED":    false,
	"PRICE_ID":           "",
	"STORAGE_ENDPOINT":   "",
	"STORAGE_BUCKET":     "avatars",
	"STORAGE_REGION":     "us-east-1",
	"STORAGE_ACCESS_KEY": "",
	"STORAGE_SECRET_KEY": "",
	"STORAGE_PUBLIC_URL": "",
}

// Load reads an optional .env file, then the environment, and validates the
// result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return FromViper(viper.New())
}

// FromViper fills a Config from v after applying defaults and environment
// lookup. Tests pass an instance with explicit values set.
func FromViper(v *viper.Viper) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the client cannot start with.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("config: BACKEND_URL is required")
	}
	if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: BACKEND_URL %q is not an absolute URL", c.BackendURL)
	}
	if _, err := platform.ParseKind(c.Platform); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := reconciler.ParseRecoveryPolicy(c.RecoveryPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.URLPollAttempts < 1 {
		return fmt.Errorf("config: URL_POLL_ATTEMPTS must be at least 1, got %d", c.URLPollAttempts)
	}
	if c.URLPollInterval <= 0 {
		return fmt.Errorf("config: URL_POLL_INTERVAL must be positive, got %s", c.URLPollInterval)
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	if c.DeviceSecret != "" && len(c.DeviceSecret) < 16 {
		return errors.New("config: DEVICE_SECRET must be at least 16 characters")
	}
	if c.PaywallEnabled && c.PriceID == "" {
		return errors.New("config: PRICE_ID is required when PAYWALL_ENABLED is set")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Kind returns the parsed platform. Call after Validate.
func (c *Config) Kind() platform.Kind {
	k, _ := platform.ParseKind(c.Platform)
	return k
}

// Policy returns the parsed recovery policy. Call after Validate.
func (c *Config) Policy() reconciler.RecoveryPolicy {
	p, _ := reconciler.ParseRecoveryPolicy(c.RecoveryPolicy)
	return p
}

// URLPolicy returns the entry URL polling policy.
func (c *Config) URLPolicy() retry.Policy {
	return retry.Policy{Attempts: c.URLPollAttempts, Interval: c.URLPollInterval}
}

// Level returns the slog level for LOG_LEVEL.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

// StorageEnabled reports whether object storage is configured.
func (c *Config) StorageEnabled() bool {
	return c.StorageEndpoint != ""
}

// Storage returns the object storage settings.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Endpoint:  c.StorageEndpoint,
		Region:    c.StorageRegion,
		Bucket:    c.StorageBucket,
		AccessKey: c.StorageAccessKey,
		SecretKey: c.StorageSecretKey,
		PublicURL: c.StoragePublicURL,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL %q: %w", s, err)
	}
	return l, nil
}
