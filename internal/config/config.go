// ABOUTME: Configuration loading and parsing for the coven session client
// ABOUTME: YAML or TOML files with ${VAR} expansion, duration parsing, and env overrides

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-session/internal/role"
)

const (
	DefaultBaseURL       = "http://localhost:3000/api"
	DefaultTimeout       = 10 * time.Second
	DefaultCheckInterval = 5 * time.Minute
	MaxCheckInterval     = 300 * time.Second
	DefaultAccessTTL     = 24 * time.Hour
	DefaultRefreshBuffer = 5 * time.Minute
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = time.Second
	DefaultLogoutTimeout = 5 * time.Second
	DefaultMetricsPath   = "/metrics"
)

// Environment variables that override file values.
const (
	EnvAPIURL        = "COVEN_API_URL"
	EnvClientID      = "COVEN_CLIENT_ID"
	EnvClientSecret  = "COVEN_CLIENT_SECRET"
	EnvCheckInterval = "COVEN_AUTH_CHECK_INTERVAL"
	EnvPassphrase    = "COVEN_CREDENTIALS_PASSPHRASE"
	EnvConfigPath    = "COVEN_AUTH_CONFIG"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config represents the complete session client configuration
type Config struct {
	API         APIConfig         `yaml:"api" toml:"api"`
	Session     SessionConfig     `yaml:"session" toml:"session"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Permissions PermissionsConfig `yaml:"permissions" toml:"permissions"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// APIConfig describes the identity service
type APIConfig struct {
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	// Variant selects the auth flow: "full" or "simple".
	Variant string `yaml:"variant" toml:"variant"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// SessionConfig holds session timing configuration
type SessionConfig struct {
	CheckInterval time.Duration `yaml:"-" toml:"-"`
	AccessTTL     time.Duration `yaml:"-" toml:"-"`
	RefreshBuffer time.Duration `yaml:"-" toml:"-"`
	RetryDelay    time.Duration `yaml:"-" toml:"-"`
	LogoutTimeout time.Duration `yaml:"-" toml:"-"`

	MaxRetries int `yaml:"max_retries" toml:"max_retries"`
	// DisableRevalidation turns off the periodic token check.
	DisableRevalidation bool `yaml:"disable_revalidation" toml:"disable_revalidation"`

	// Raw string values for unmarshaling
	CheckIntervalRaw string `yaml:"check_interval" toml:"check_interval"`
	AccessTTLRaw     string `yaml:"access_ttl" toml:"access_ttl"`
	RefreshBufferRaw string `yaml:"refresh_buffer" toml:"refresh_buffer"`
	RetryDelayRaw    string `yaml:"retry_delay" toml:"retry_delay"`
	LogoutTimeoutRaw string `yaml:"logout_timeout" toml:"logout_timeout"`
}

// StorageConfig selects the credential store
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	// Path of the credentials file or database; empty means the default location.
	Path string `yaml:"path" toml:"path"`
	// Passphrase seals file-backend values when set.
	Passphrase string `yaml:"passphrase" toml:"passphrase"`
}

// PermissionsConfig overrides the role to feature map
type PermissionsConfig struct {
	ExtendedRoles bool                `yaml:"extended_roles" toml:"extended_roles"`
	Roles         map[string][]string `yaml:"roles" toml:"roles"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a complete configuration that needs no file.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Variant: "full",
			Timeout: DefaultTimeout,
		},
		Session: SessionConfig{
			CheckInterval: DefaultCheckInterval,
			AccessTTL:     DefaultAccessTTL,
			RefreshBuffer: DefaultRefreshBuffer,
			RetryDelay:    DefaultRetryDelay,
			LogoutTimeout: DefaultLogoutTimeout,
			MaxRetries:    DefaultMaxRetries,
		},
		Storage: StorageConfig{Backend: BackendFile},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Path: DefaultMetricsPath},
	}
}

// DefaultPath returns ~/.config/coven/auth.yaml (honoring XDG_CONFIG_HOME).
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "auth.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "coven", "auth.yaml")
}

// Load reads a configuration file and returns a parsed Config. Values the
// file omits keep their defaults. Environment variables in the format
// ${VAR_NAME} are expanded, then the COVEN_* overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads path when it is set, otherwise the file named by
// COVEN_AUTH_CONFIG, otherwise DefaultPath if it exists. With no file at all
// it returns Default with environment overrides applied.
func LoadDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultPath()); err == nil {
		return Load(DefaultPath())
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if err := applyEnv(c); err != nil {
		return fmt.Errorf("applying environment: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv applies the COVEN_* overrides. COVEN_AUTH_CHECK_INTERVAL is in
// seconds; 0 disables periodic re-validation.
func applyEnv(c *Config) error {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		c.API.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.API.ClientSecret = v
	}
	if v := os.Getenv(EnvPassphrase); v != "" {
		c.Storage.Passphrase = v
	}
	if v := os.Getenv(EnvCheckInterval); v != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || secs < 0 {
			return fmt.Errorf("%s must be a non-negative number of seconds, got %q", EnvCheckInterval, v)
		}
		if secs == 0 {
			c.Session.DisableRevalidation = true
		} else {
			c.Session.CheckInterval = time.Duration(secs) * time.Second
		}
	}
	return nil
}

// normalize fills empty values with defaults and clamps the check interval.
func (c *Config) normalize() {
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Variant == "" {
		c.API.Variant = "full"
	}
	if c.Session.CheckInterval > MaxCheckInterval {
		c.Session.CheckInterval = MaxCheckInterval
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Variant != "full" && c.API.Variant != "simple" {
		return fmt.Errorf("api.variant must be full or simple, got %q", c.API.Variant)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}

	if c.Session.MaxRetries < 0 {
		return fmt.Errorf("session.max_retries must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"session.check_interval": c.Session.CheckInterval,
		"session.access_ttl":     c.Session.AccessTTL,
		"session.refresh_buffer": c.Session.RefreshBuffer,
		"session.retry_delay":    c.Session.RetryDelay,
		"session.logout_timeout": c.Session.LogoutTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if !slices.Contains([]string{BackendFile, BackendSQLite, BackendMemory}, c.Storage.Backend) {
		return fmt.Errorf("storage.backend must be file, sqlite, or memory, got %q", c.Storage.Backend)
	}
	if c.Storage.Passphrase != "" && c.Storage.Backend != BackendFile {
		return fmt.Errorf("storage.passphrase is only supported by the file backend")
	}

	if _, err := c.Permissions.FeatureMap(); err != nil {
		return fmt.Errorf("permissions.roles: %w", err)
	}

	if c.Logging.Level != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// FeatureMap returns the default role to feature map with the configured
// roles replaced.
func (p PermissionsConfig) FeatureMap() (role.FeatureMap, error) {
	if len(p.Roles) == 0 {
		return role.DefaultFeatureMap(), nil
	}
	overrides, err := role.FeatureMapFromStrings(p.Roles)
	if err != nil {
		return nil, err
	}
	return role.DefaultFeatureMap().Merge(overrides), nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"api.timeout", cfg.API.TimeoutRaw, &cfg.API.Timeout},
		{"session.check_interval", cfg.Session.CheckIntervalRaw, &cfg.Session.CheckInterval},
		{"session.access_ttl", cfg.Session.AccessTTLRaw, &cfg.Session.AccessTTL},
		{"session.refresh_buffer", cfg.Session.RefreshBufferRaw, &cfg.Session.RefreshBuffer},
		{"session.retry_delay", cfg.Session.RetryDelayRaw, &cfg.Session.RetryDelay},
		{"session.logout_timeout", cfg.Session.LogoutTimeoutRaw, &cfg.Session.LogoutTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
