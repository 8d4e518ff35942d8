// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "127.0.0.1:9000"
  poll_interval: "250ms"

database:
  path: "./test.db"

auth:
  token_ttl: "10m"
  token_capacity: 32
  pairing_required: true

rate_limit:
  max_requests: 3
  window: "30s"
  lockout: "2m"
  max_clients: 64

tasks:
  max_workers: 2
  max_tasks: 10
  retention: "1m"
  skills_dir: "/opt/skills"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.PollInterval)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, 32, cfg.Auth.TokenCapacity)
	assert.True(t, cfg.Auth.PairingRequired)
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Lockout)
	assert.Equal(t, 64, cfg.RateLimit.MaxClients)
	assert.Equal(t, 2, cfg.Tasks.MaxWorkers)
	assert.Equal(t, 10, cfg.Tasks.MaxTasks)
	assert.Equal(t, time.Minute, cfg.Tasks.Retention)
	assert.Equal(t, "/opt/skills", cfg.Tasks.SkillsDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:9100"

[database]
path = "./toml.db"

[rate_limit]
max_requests = 5
window = "15s"

[tasks]
max_workers = 6
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.HTTPAddr)
	assert.Equal(t, "./toml.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 15*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 6, cfg.Tasks.MaxWorkers)
	assert.Equal(t, DefaultLockout, cfg.RateLimit.Lockout)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", "database:\n  path: \":memory:\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultPollInterval, cfg.Server.PollInterval)
	assert.Equal(t, DefaultTokenTTL, cfg.Auth.TokenTTL)
	assert.Equal(t, DefaultTokenCapacity, cfg.Auth.TokenCapacity)
	assert.False(t, cfg.Auth.PairingRequired)
	assert.Equal(t, DefaultMaxRequests, cfg.RateLimit.MaxRequests)
	assert.Equal(t, DefaultWindow, cfg.RateLimit.Window)
	assert.Equal(t, DefaultLockout, cfg.RateLimit.Lockout)
	assert.Equal(t, DefaultMaxClients, cfg.RateLimit.MaxClients)
	assert.Equal(t, DefaultMaxWorkers, cfg.Tasks.MaxWorkers)
	assert.Equal(t, DefaultMaxTasks, cfg.Tasks.MaxTasks)
	assert.Equal(t, DefaultTaskRetention, cfg.Tasks.Retention)
	assert.Equal(t, DefaultSkillsDir, cfg.Tasks.SkillsDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("MIKROCLAW_TEST_TS_KEY", "tskey-auth-abc")
	t.Setenv("MIKROCLAW_TEST_DB", "/var/lib/mikroclaw/test.db")

	path := writeConfig(t, "gateway.yaml", `
database:
  path: "${MIKROCLAW_TEST_DB}"
tailscale:
  enabled: true
  hostname: "router-agent"
  auth_key: "${MIKROCLAW_TEST_TS_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mikroclaw/test.db", cfg.Database.Path)
	assert.Equal(t, "tskey-auth-abc", cfg.Tailscale.AuthKey)
}

func TestLoad_MissingEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
database:
  path: "./x.db"
auth:
  qr_path: "${MIKROCLAW_TEST_DEFINITELY_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.QRPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MIKROCLAW_SERVER_HTTP_ADDR", "127.0.0.1:18000")
	t.Setenv("MIKROCLAW_AUTH_PAIRING_REQUIRED", "true")
	t.Setenv("MIKROCLAW_AUTH_TOKEN_TTL", "90s")
	t.Setenv("MIKROCLAW_RATE_LIMIT_MAX_REQUESTS", "42")
	t.Setenv("MIKROCLAW_TASKS_MAX_WORKERS", "8")
	t.Setenv("MIKROCLAW_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("MIKROCLAW_LOGGING_LEVEL", "warn")

	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "0.0.0.0:1"
database:
  path: "./file.db"
rate_limit:
  max_requests: 3
tasks:
  max_workers: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:18000", cfg.Server.HTTPAddr)
	assert.True(t, cfg.Auth.PairingRequired)
	assert.Equal(t, 90*time.Second, cfg.Auth.TokenTTL)
	assert.Equal(t, 42, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 8, cfg.Tasks.MaxWorkers)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MIKROCLAW_DATABASE_PATH", ":memory:")
	t.Setenv("MIKROCLAW_TASKS_MAX_TASKS", "7")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, 7, cfg.Tasks.MaxTasks)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	t.Setenv("MIKROCLAW_TASKS_MAX_WORKERS", "lots")

	path := writeConfig(t, "gateway.yaml", "database:\n  path: \"./x.db\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment overrides")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
database:
  path: "./x.db"
rate_limit:
  window: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit.window")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", "server: [unterminated\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestParse_FormatFromPath(t *testing.T) {
	cfg, err := Parse("gateway.toml", []byte("[tasks]\nmax_workers = 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Tasks.MaxWorkers)

	cfg, err = Parse("gateway.yaml", []byte("tasks:\n  max_workers: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Tasks.MaxWorkers)

	_, err = Parse("gateway.yaml", []byte("tasks:\n  max_workers: lots\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Database: DatabaseConfig{Path: "./x.db"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "token ttl below one second",
			mutate:  func(c *Config) { c.Auth.TokenTTL = time.Millisecond },
			wantErr: "auth.token_ttl",
		},
		{
			name:    "negative token capacity",
			mutate:  func(c *Config) { c.Auth.TokenCapacity = -1 },
			wantErr: "auth.token_capacity",
		},
		{
			name:    "zero max requests",
			mutate:  func(c *Config) { c.RateLimit.MaxRequests = -5 },
			wantErr: "rate_limit.max_requests",
		},
		{
			name:    "sub-second lockout",
			mutate:  func(c *Config) { c.RateLimit.Lockout = 10 * time.Millisecond },
			wantErr: "rate_limit.lockout",
		},
		{
			name:    "oversized task table",
			mutate:  func(c *Config) { c.Tasks.MaxTasks = maxConfiguredCapacity + 1 },
			wantErr: "tasks.max_tasks",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MIKROCLAW_TEST_A", "alpha")

	assert.Equal(t, "x-alpha-y", expandEnvVars("x-${MIKROCLAW_TEST_A}-y"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
	assert.Equal(t, "--", expandEnvVars("-${MIKROCLAW_TEST_NOPE}-"))
}
