// ABOUTME: Builds and encodes the config file written by mikroclaw init
// ABOUTME: Encodes YAML or TOML by file extension and rejects bad answers before anything is written

package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mikroclaw/mikroclaw/internal/config"
)

const initHeader = "# mikroclaw configuration\n# Generated by mikroclaw init\n\n"

// initAnswers are the raw responses collected by runInit.
type initAnswers struct {
	HTTPAddr        string
	PairingRequired bool
	TokenTTL        string
	MaxWorkers      string
	SkillsDir       string
	DatabasePath    string

	Tailscale          bool
	TailscaleHostname  string
	TailscaleAuthKey   string
	TailscaleEphemeral bool
	TailscaleHTTPS     bool

	LogLevel  string
	LogFormat string
}

// newInitConfig turns answers into a Config. Fields init does not ask about
// get their defaults written out so the file documents them.
func newInitConfig(a initAnswers) (*config.Config, error) {
	workers, err := strconv.Atoi(strings.TrimSpace(a.MaxWorkers))
	if err != nil || workers < 1 {
		return nil, fmt.Errorf("max concurrent workers must be a positive integer, got %q", a.MaxWorkers)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:        a.HTTPAddr,
			PollIntervalRaw: config.DefaultPollInterval.String(),
		},
		Database: config.DatabaseConfig{Path: a.DatabasePath},
		Auth: config.AuthConfig{
			TokenTTLRaw:     a.TokenTTL,
			TokenCapacity:   config.DefaultTokenCapacity,
			PairingRequired: a.PairingRequired,
		},
		RateLimit: config.RateLimitConfig{
			MaxRequests: config.DefaultMaxRequests,
			MaxClients:  config.DefaultMaxClients,
			WindowRaw:   config.DefaultWindow.String(),
			LockoutRaw:  config.DefaultLockout.String(),
		},
		Tasks: config.TasksConfig{
			MaxWorkers:   workers,
			MaxTasks:     config.DefaultMaxTasks,
			SkillsDir:    a.SkillsDir,
			RetentionRaw: config.DefaultTaskRetention.String(),
		},
		Logging: config.LoggingConfig{Level: a.LogLevel, Format: a.LogFormat},
	}
	if a.Tailscale {
		cfg.Tailscale = config.TailscaleConfig{
			Enabled:   true,
			Hostname:  a.TailscaleHostname,
			AuthKey:   a.TailscaleAuthKey,
			Ephemeral: a.TailscaleEphemeral,
			HTTPS:     a.TailscaleHTTPS,
		}
	}
	return cfg, nil
}

// encodeConfig encodes cfg as TOML for .toml paths and YAML otherwise,
// matching how config.Load picks the decoder.
func encodeConfig(path string, cfg *config.Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(initHeader)

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encoding TOML config: %w", err)
		}
		return buf.Bytes(), nil
	}

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding YAML config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding YAML config: %w", err)
	}
	return buf.Bytes(), nil
}
