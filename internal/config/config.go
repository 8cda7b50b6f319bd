package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CSHUB_"

// Config holds process configuration. It is built once in cmd/cshub and
// passed down to every component; nothing below cmd reads the environment.
type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080" yaml:"http_addr"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	ConfigFile string `env:"CONFIG" yaml:"-"`

	DB       DBConfig       `yaml:"db"`
	Platform PlatformConfig `yaml:"platform"`
	Keys     KeyConfig      `yaml:"keys"`
	Gate     GateConfig     `yaml:"gate"`
	State    StateConfig    `yaml:"state"`
	Resolve  ResolveConfig  `yaml:"resolve"`
}

// DBConfig selects the token store backend.
type DBConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite" yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `env:"DB_DSN" envDefault:"cshub.db" yaml:"dsn"`
}

// PlatformConfig holds the integration's registration with the platform and
// the token lifetimes used when the platform omits expires_in.
type PlatformConfig struct {
	BaseURL           string        `env:"PLATFORM_BASE_URL" envDefault:"https://services.leadconnectorhq.com" yaml:"base_url"`
	APIVersion        string        `env:"PLATFORM_API_VERSION" envDefault:"2021-07-28" yaml:"api_version"`
	ClientID          string        `env:"CLIENT_ID" yaml:"client_id"`
	ClientSecret      string        `env:"CLIENT_SECRET" yaml:"-"`
	RedirectURI       string        `env:"REDIRECT_URI" yaml:"redirect_uri"`
	InstallURL        string        `env:"INSTALL_URL" yaml:"install_url"`
	InstallSuccessURL string        `env:"INSTALL_SUCCESS_URL" yaml:"install_success_url"`
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s" yaml:"http_timeout"`
	AgencyTokenTTL    int           `env:"AGENCY_TOKEN_TTL_SECONDS" envDefault:"3600" yaml:"agency_token_ttl_seconds"`
	LocationTokenTTL  int           `env:"LOCATION_TOKEN_TTL_SECONDS" envDefault:"900" yaml:"location_token_ttl_seconds"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the platform.
type BreakerConfig struct {
	Disabled     bool          `env:"BREAKER_DISABLED" yaml:"disabled"`
	MaxRequests  uint32        `env:"BREAKER_MAX_REQUESTS" envDefault:"1" yaml:"max_requests"`
	Interval     time.Duration `env:"BREAKER_INTERVAL" envDefault:"60s" yaml:"interval"`
	Timeout      time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s" yaml:"timeout"`
	FailureRatio float64       `env:"BREAKER_FAILURE_RATIO" envDefault:"0.5" yaml:"failure_ratio"`
	MinRequests  uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"5" yaml:"min_requests"`
}

// KeyConfig describes where the encryption key ring comes from.
type KeyConfig struct {
	KeyRing         string `env:"KEYRING" yaml:"-"` // "v1:base64,v2:base64"
	KeyRingFile     string `env:"KEYRING_FILE" yaml:"keyring_file"`
	AgeIdentityFile string `env:"KEYRING_AGE_IDENTITY" yaml:"age_identity_file"`
	ActiveVersion   string `env:"ACTIVE_KEY_VERSION" yaml:"active_version"`
	LegacyKey       string `env:"LEGACY_ENCRYPTION_KEY" yaml:"-"`
}

// GateConfig configures the shared-secret check on internal endpoints.
type GateConfig struct {
	Secret string `env:"INTERNAL_SECRET" yaml:"-"`
	Header string `env:"INTERNAL_SECRET_HEADER" envDefault:"X-Internal-Secret" yaml:"header"`
}

// StateConfig configures CSRF state handling for the install flow.
type StateConfig struct {
	Enforce       bool          `env:"ENFORCE_STATE" envDefault:"true" yaml:"enforce"`
	TTL           time.Duration `env:"STATE_TTL" envDefault:"10m" yaml:"ttl"`
	RedisAddr     string        `env:"REDIS_ADDR" yaml:"redis_addr"`
	RedisPassword string        `env:"REDIS_PASSWORD" yaml:"-"`
	RedisDB       int           `env:"REDIS_DB" yaml:"redis_db"`
}

// ResolveConfig paces and memoizes location-to-company resolution.
type ResolveConfig struct {
	Rate     float64       `env:"RESOLVE_RATE" envDefault:"5" yaml:"rate"`
	Burst    int           `env:"RESOLVE_BURST" envDefault:"1" yaml:"burst"`
	CacheTTL time.Duration `env:"RESOLVE_CACHE_TTL" envDefault:"10m" yaml:"cache_ttl"`
}

// Load parses the environment into a Config, overlays the YAML file named
// by CSHUB_CONFIG when it exists, and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ConfigFile != "" {
		if err := overlayFile(&cfg, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AgencyTTL is the fallback agency token lifetime.
func (p PlatformConfig) AgencyTTL() time.Duration {
	return time.Duration(p.AgencyTokenTTL) * time.Second
}

// LocationTTL is the default location token lifetime.
func (p PlatformConfig) LocationTTL() time.Duration {
	return time.Duration(p.LocationTokenTTL) * time.Second
}
