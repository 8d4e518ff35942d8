// ABOUTME: Configuration loading and parsing for mikroclaw
// ABOUTME: Supports YAML or TOML files with env var expansion, envconfig overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultHTTPAddr       = "0.0.0.0:18789"
	DefaultPollInterval   = time.Second
	DefaultTokenTTL       = 300 * time.Second
	DefaultTokenCapacity  = 16
	DefaultMaxRequests    = 10
	DefaultWindow         = 60 * time.Second
	DefaultLockout        = 60 * time.Second
	DefaultMaxClients     = 128
	DefaultMaxWorkers     = 4
	DefaultMaxTasks       = 100
	DefaultTaskRetention  = 300 * time.Second
	DefaultSkillsDir      = "./skills"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultTailscaleHost  = "mikroclaw"
	envPrefix             = "MIKROCLAW"
	tomlExtension         = ".toml"
	maxConfiguredCapacity = 1 << 16
)

// Config represents the complete mikroclaw configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Tasks     TasksConfig     `yaml:"tasks" toml:"tasks"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the gateway listen address and event loop timing
type ServerConfig struct {
	HTTPAddr     string        `yaml:"http_addr" toml:"http_addr" envconfig:"HTTP_ADDR"`
	PollInterval time.Duration `yaml:"-" toml:"-" ignored:"true"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval" envconfig:"POLL_INTERVAL"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" envconfig:"AUTH_KEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir" envconfig:"STATE_DIR"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
}

// DatabaseConfig holds the journal database location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds pairing and bearer token settings
type AuthConfig struct {
	TokenTTL        time.Duration `yaml:"-" toml:"-" ignored:"true"`
	TokenCapacity   int           `yaml:"token_capacity" toml:"token_capacity" envconfig:"TOKEN_CAPACITY"`
	PairingRequired bool          `yaml:"pairing_required" toml:"pairing_required" envconfig:"PAIRING_REQUIRED"`
	QRPath          string        `yaml:"qr_path" toml:"qr_path" envconfig:"QR_PATH"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl" envconfig:"TOKEN_TTL"`
}

// RateLimitConfig holds per-client admission limits
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" toml:"max_requests" envconfig:"MAX_REQUESTS"`
	MaxClients  int           `yaml:"max_clients" toml:"max_clients" envconfig:"MAX_CLIENTS"`
	Window      time.Duration `yaml:"-" toml:"-" ignored:"true"`
	Lockout     time.Duration `yaml:"-" toml:"-" ignored:"true"`

	WindowRaw  string `yaml:"window" toml:"window" envconfig:"WINDOW"`
	LockoutRaw string `yaml:"lockout" toml:"lockout" envconfig:"LOCKOUT"`
}

// TasksConfig holds scheduler sizing and the skills directory
type TasksConfig struct {
	MaxWorkers int           `yaml:"max_workers" toml:"max_workers" envconfig:"MAX_WORKERS"`
	MaxTasks   int           `yaml:"max_tasks" toml:"max_tasks" envconfig:"MAX_TASKS"`
	SkillsDir  string        `yaml:"skills_dir" toml:"skills_dir" envconfig:"SKILLS_DIR"`
	Retention  time.Duration `yaml:"-" toml:"-" ignored:"true"`

	RetentionRaw string `yaml:"retention" toml:"retention" envconfig:"RETENTION"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// MIKROCLAW_<SECTION>_<FIELD> variables override individual fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes data as the contents of a file at path, then applies the
// same expansion, overrides, defaults and validation as Load.
func Parse(path string, data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), tomlExtension) {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// FromEnv builds a Config from defaults and MIKROCLAW_* environment variables only.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
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

// applyEnvOverrides lets MIKROCLAW_<SECTION>_<FIELD> win over file values.
func applyEnvOverrides(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{envPrefix + "_SERVER", &cfg.Server},
		{envPrefix + "_TAILSCALE", &cfg.Tailscale},
		{envPrefix + "_DATABASE", &cfg.Database},
		{envPrefix + "_AUTH", &cfg.Auth},
		{envPrefix + "_RATE_LIMIT", &cfg.RateLimit},
		{envPrefix + "_TASKS", &cfg.Tasks},
		{envPrefix + "_LOGGING", &cfg.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(s.prefix), err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.PollInterval == 0 {
		c.Server.PollInterval = DefaultPollInterval
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = DefaultTailscaleHost
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath()
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Auth.TokenCapacity == 0 {
		c.Auth.TokenCapacity = DefaultTokenCapacity
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = DefaultMaxRequests
	}
	if c.RateLimit.MaxClients == 0 {
		c.RateLimit.MaxClients = DefaultMaxClients
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultWindow
	}
	if c.RateLimit.Lockout == 0 {
		c.RateLimit.Lockout = DefaultLockout
	}
	if c.Tasks.MaxWorkers == 0 {
		c.Tasks.MaxWorkers = DefaultMaxWorkers
	}
	if c.Tasks.MaxTasks == 0 {
		c.Tasks.MaxTasks = DefaultMaxTasks
	}
	if c.Tasks.Retention == 0 {
		c.Tasks.Retention = DefaultTaskRetention
	}
	if c.Tasks.SkillsDir == "" {
		c.Tasks.SkillsDir = DefaultSkillsDir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// DefaultDatabasePath returns ~/.local/share/mikroclaw/mikroclaw.db, honouring XDG_DATA_HOME.
func DefaultDatabasePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "mikroclaw.db"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "mikroclaw", "mikroclaw.db")
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Server.PollInterval < 0 {
		return fmt.Errorf("server.poll_interval must be positive")
	}

	if c.Auth.TokenTTL < time.Second {
		return fmt.Errorf("auth.token_ttl must be at least 1s")
	}
	if c.Auth.TokenCapacity < 1 || c.Auth.TokenCapacity > maxConfiguredCapacity {
		return fmt.Errorf("auth.token_capacity must be between 1 and %d", maxConfiguredCapacity)
	}

	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be at least 1")
	}
	if c.RateLimit.MaxClients < 1 || c.RateLimit.MaxClients > maxConfiguredCapacity {
		return fmt.Errorf("rate_limit.max_clients must be between 1 and %d", maxConfiguredCapacity)
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1s")
	}
	if c.RateLimit.Lockout < time.Second {
		return fmt.Errorf("rate_limit.lockout must be at least 1s")
	}

	if c.Tasks.MaxWorkers < 1 {
		return fmt.Errorf("tasks.max_workers must be at least 1")
	}
	if c.Tasks.MaxTasks < 1 || c.Tasks.MaxTasks > maxConfiguredCapacity {
		return fmt.Errorf("tasks.max_tasks must be between 1 and %d", maxConfiguredCapacity)
	}
	if c.Tasks.Retention < 0 {
		return fmt.Errorf("tasks.retention must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.poll_interval", cfg.Server.PollIntervalRaw, &cfg.Server.PollInterval},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"rate_limit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"rate_limit.lockout", cfg.RateLimit.LockoutRaw, &cfg.RateLimit.Lockout},
		{"tasks.retention", cfg.Tasks.RetentionRaw, &cfg.Tasks.Retention},
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
