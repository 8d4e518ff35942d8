// Package config handles configuration loading for mikroclaw.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion, then individual fields may be overridden
// through MIKROCLAW_* variables. Missing values fall back to defaults and the
// result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MIKROCLAW_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mikroclaw/gateway.yaml
//  3. ~/.config/mikroclaw/gateway.yaml
//
// When no file exists the gateway runs on defaults plus environment overrides
// (see [FromEnv]).
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// # Environment Overrides
//
// Each section is processed with envconfig under MIKROCLAW_<SECTION>:
//
//	MIKROCLAW_SERVER_HTTP_ADDR=127.0.0.1:18789
//	MIKROCLAW_AUTH_PAIRING_REQUIRED=true
//	MIKROCLAW_RATE_LIMIT_MAX_REQUESTS=30
//	MIKROCLAW_TASKS_MAX_WORKERS=8
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "5m"
//	rate_limit:
//	  window: "60s"
//	  lockout: "1m"
//
// # Defaults
//
//	server.http_addr        0.0.0.0:18789
//	server.poll_interval    1s
//	auth.token_ttl          300s
//	auth.token_capacity     16
//	rate_limit.max_requests 10
//	rate_limit.window       60s
//	rate_limit.lockout      60s
//	rate_limit.max_clients  128
//	tasks.max_workers       4
//	tasks.max_tasks         100
//	tasks.retention         300s
//	tasks.skills_dir        ./skills
package config
