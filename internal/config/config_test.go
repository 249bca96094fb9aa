// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/coven-session/internal/role"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "auth.yaml", `
api:
  base_url: "https://id.example.com/api/"
  client_id: "coven-cli"
  client_secret: "shh"
  timeout: "3s"
  variant: "simple"

session:
  check_interval: "60s"
  access_ttl: "12h"
  refresh_buffer: "2m"
  max_retries: 5
  retry_delay: "250ms"
  logout_timeout: "2s"

storage:
  backend: "sqlite"
  path: "/tmp/creds.db"

permissions:
  extended_roles: true
  roles:
    user: [chat, settings]

logging:
  level: "DEBUG"
  format: "json"

metrics:
  enabled: true
  addr: "127.0.0.1:9464"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "https://id.example.com/api" {
		t.Errorf("API.BaseURL = %q, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.API.Variant != "simple" {
		t.Errorf("API.Variant = %q, want simple", cfg.API.Variant)
	}
	if cfg.API.Timeout != 3*time.Second {
		t.Errorf("API.Timeout = %v, want 3s", cfg.API.Timeout)
	}
	if cfg.Session.CheckInterval != time.Minute {
		t.Errorf("Session.CheckInterval = %v, want 1m", cfg.Session.CheckInterval)
	}
	if cfg.Session.AccessTTL != 12*time.Hour {
		t.Errorf("Session.AccessTTL = %v, want 12h", cfg.Session.AccessTTL)
	}
	if cfg.Session.RefreshBuffer != 2*time.Minute {
		t.Errorf("Session.RefreshBuffer = %v, want 2m", cfg.Session.RefreshBuffer)
	}
	if cfg.Session.MaxRetries != 5 {
		t.Errorf("Session.MaxRetries = %d, want 5", cfg.Session.MaxRetries)
	}
	if cfg.Session.RetryDelay != 250*time.Millisecond {
		t.Errorf("Session.RetryDelay = %v, want 250ms", cfg.Session.RetryDelay)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.Path != "/tmp/creds.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want lowercased debug", cfg.Logging.Level)
	}
	if !cfg.Permissions.ExtendedRoles {
		t.Error("Permissions.ExtendedRoles should be true")
	}

	fm, err := cfg.Permissions.FeatureMap()
	if err != nil {
		t.Fatalf("FeatureMap() error = %v", err)
	}
	if got := fm[role.User]; len(got) != 2 || got[0] != role.FeatureChat {
		t.Errorf("FeatureMap()[user] = %v, want [chat settings]", got)
	}
	if !fm.Allows(role.Guest, role.FeatureDocumentation) {
		t.Error("roles not named in the file should keep their defaults")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "auth.toml", `
[api]
base_url = "https://id.example.com/api"
client_id = "coven-cli"

[session]
check_interval = "90s"
max_retries = 1

[permissions.roles]
guest = ["documentation"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.ClientID != "coven-cli" {
		t.Errorf("API.ClientID = %q", cfg.API.ClientID)
	}
	if cfg.Session.CheckInterval != 90*time.Second {
		t.Errorf("Session.CheckInterval = %v, want 90s", cfg.Session.CheckInterval)
	}
	if cfg.Session.MaxRetries != 1 {
		t.Errorf("Session.MaxRetries = %d, want 1", cfg.Session.MaxRetries)
	}
	if cfg.Session.RetryDelay != DefaultRetryDelay {
		t.Errorf("Session.RetryDelay = %v, want default", cfg.Session.RetryDelay)
	}
	if got := cfg.Permissions.Roles["guest"]; len(got) != 1 {
		t.Errorf("Permissions.Roles[guest] = %v", got)
	}
}

func TestLoad_OmittedValuesKeepDefaults(t *testing.T) {
	path := writeConfig(t, "auth.yaml", "api:\n  client_id: coven-cli\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := Default()
	if cfg.API.BaseURL != def.API.BaseURL {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, def.API.BaseURL)
	}
	if cfg.Session != def.Session {
		t.Errorf("Session = %+v, want defaults %+v", cfg.Session, def.Session)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
}

func TestLoad_CheckIntervalIsClamped(t *testing.T) {
	path := writeConfig(t, "auth.yaml", "session:\n  check_interval: 1h\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.CheckInterval != MaxCheckInterval {
		t.Errorf("Session.CheckInterval = %v, want %v", cfg.Session.CheckInterval, MaxCheckInterval)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_COVEN_SECRET", "from-env")
	path := writeConfig(t, "auth.yaml", "api:\n  client_secret: \"${TEST_COVEN_SECRET}\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.ClientSecret != "from-env" {
		t.Errorf("API.ClientSecret = %q, want from-env", cfg.API.ClientSecret)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://override.example.com/api")
	t.Setenv(EnvClientID, "env-client")
	t.Setenv(EnvClientSecret, "env-secret")
	t.Setenv(EnvCheckInterval, "120")
	t.Setenv(EnvPassphrase, "hunter2")
	path := writeConfig(t, "auth.yaml", "api:\n  base_url: https://file.example.com/api\n  client_id: file-client\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://override.example.com/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.ClientID != "env-client" || cfg.API.ClientSecret != "env-secret" {
		t.Errorf("API client credentials = %q/%q", cfg.API.ClientID, cfg.API.ClientSecret)
	}
	if cfg.Session.CheckInterval != 2*time.Minute {
		t.Errorf("Session.CheckInterval = %v, want 2m", cfg.Session.CheckInterval)
	}
	if cfg.Storage.Passphrase != "hunter2" {
		t.Errorf("Storage.Passphrase not applied")
	}
}

func TestLoad_EnvCheckInterval(t *testing.T) {
	tests := []struct {
		value    string
		want     time.Duration
		disabled bool
		wantErr  bool
	}{
		{value: "30", want: 30 * time.Second},
		{value: "900", want: MaxCheckInterval},
		{value: "0", want: DefaultCheckInterval, disabled: true},
		{value: "-5", wantErr: true},
		{value: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(EnvCheckInterval, tt.value)
			t.Setenv(EnvConfigPath, "")
			t.Setenv("XDG_CONFIG_HOME", t.TempDir())

			cfg, err := LoadDefault("")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadDefault() error = %v", err)
			}
			if cfg.Session.CheckInterval != tt.want {
				t.Errorf("CheckInterval = %v, want %v", cfg.Session.CheckInterval, tt.want)
			}
			if cfg.Session.DisableRevalidation != tt.disabled {
				t.Errorf("DisableRevalidation = %v, want %v", cfg.Session.DisableRevalidation, tt.disabled)
			}
		})
	}
}

func TestLoadDefault_FindsFileInConfigHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv(EnvConfigPath, "")
	if err := os.MkdirAll(filepath.Join(home, "coven"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "coven", "auth.yaml"), []byte("api:\n  client_id: from-home\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDefault("")
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg.API.ClientID != "from-home" {
		t.Errorf("API.ClientID = %q, want from-home", cfg.API.ClientID)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "auth.yaml", "session:\n  retry_delay: often\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "session.retry_delay") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"relative base url", func(c *Config) { c.API.BaseURL = "localhost:3000" }, "api.base_url"},
		{"unknown variant", func(c *Config) { c.API.Variant = "oidc" }, "api.variant"},
		{"negative retries", func(c *Config) { c.Session.MaxRetries = -1 }, "max_retries"},
		{"negative delay", func(c *Config) { c.Session.RetryDelay = -time.Second }, "retry_delay"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "keychain" }, "storage.backend"},
		{"passphrase on sqlite", func(c *Config) {
			c.Storage.Backend = BackendSQLite
			c.Storage.Passphrase = "x"
		}, "passphrase"},
		{"unknown role", func(c *Config) { c.Permissions.Roles = map[string][]string{"owner": {"chat"}} }, "permissions.roles"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true }, "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
