// ABOUTME: Tests for CLI helpers
// ABOUTME: Covers flag parsing, health URL building, init config encoding, pairing output and journal tables

package main

import (
	"bytes"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikroclaw/mikroclaw/internal/config"
	"github.com/mikroclaw/mikroclaw/internal/store"
)

func TestParseFlags(t *testing.T) {
	flags, err := parseFlags([]string{"--event", "auth_failure", "--limit=5"}, "event", "limit")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"event": "auth_failure", "limit": "5"}, flags)

	_, err = parseFlags([]string{"--bogus", "x"}, "event")
	assert.EqualError(t, err, "unknown flag: --bogus")

	_, err = parseFlags([]string{"--event"}, "event")
	assert.EqualError(t, err, "--event requires a value")

	_, err = parseFlags([]string{"stray"}, "event")
	assert.EqualError(t, err, "unexpected argument: stray")
}

func TestParseLimit(t *testing.T) {
	n, err := parseLimit("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = parseLimit("20")
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	_, err = parseLimit("-1")
	assert.Error(t, err)
	_, err = parseLimit("ten")
	assert.Error(t, err)
}

func TestHealthURL(t *testing.T) {
	tests := map[string]string{
		"0.0.0.0:18789":   "http://127.0.0.1:18789/health",
		":18789":          "http://127.0.0.1:18789/health",
		"[::]:18789":      "http://[::1]:18789/health",
		"10.0.0.1:8080":   "http://10.0.0.1:8080/health",
		"router.lan:8080": "http://router.lan:8080/health",
	}
	for addr, want := range tests {
		assert.Equal(t, want, healthURL(addr), addr)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestPairingURI(t *testing.T) {
	u, err := url.Parse(pairingURI("123456", "192.168.88.1:18789"))
	require.NoError(t, err)
	assert.Equal(t, "mikroclaw", u.Scheme)
	assert.Equal(t, "123456", u.Query().Get("code"))
	assert.Equal(t, "192.168.88.1:18789", u.Query().Get("addr"))
}

func TestPrintPairing(t *testing.T) {
	color.NoColor = true
	pngPath := filepath.Join(t.TempDir(), "pair.png")

	var buf bytes.Buffer
	require.NoError(t, printPairing(&buf, "654321", "127.0.0.1:18789", pngPath))

	out := buf.String()
	assert.Contains(t, out, "Pairing code: 654321")
	assert.Contains(t, out, "X-Pairing-Code: 654321")
	assert.Contains(t, out, "QR code saved to "+pngPath)

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPrintHistory(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printHistory(&buf, nil)
	assert.Equal(t, "no finished tasks\n", buf.String())

	buf.Reset()
	printHistory(&buf, []store.TaskRecord{{
		ID: "task_1_ab12cd34", Type: "investigate", Status: "failed",
		Result: "error: device unavailable\nmore", CompletedAt: time.Now(),
	}})
	out := buf.String()
	assert.Contains(t, out, "task_1_ab12cd34")
	assert.Contains(t, out, "error: device unavailable")
	assert.NotContains(t, out, "more")
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	printAudit(&buf, []store.AuditEntry{{
		Event: store.AuditAuthLocked, ClientIP: "10.0.0.9", Detail: "POST /pair", Timestamp: time.Now(),
	}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "auth_locked")
	assert.Contains(t, lines[1], "10.0.0.9")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "short", firstLine("short\nsecond", 60))
	assert.Equal(t, "abcdefg...", firstLine(strings.Repeat("abcdefghij", 3), 10))
}

func initDefaults() initAnswers {
	return initAnswers{
		HTTPAddr:     "0.0.0.0:18789",
		TokenTTL:     "10m",
		MaxWorkers:   "2",
		SkillsDir:    "/flash/skills",
		DatabasePath: "/flash/mikroclaw.db",
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

func TestNewInitConfig_RejectsBadWorkerCount(t *testing.T) {
	for _, v := range []string{"four", "0", "-2", ""} {
		a := initDefaults()
		a.MaxWorkers = v
		_, err := newInitConfig(a)
		assert.Error(t, err, "max workers %q", v)
	}
}

func TestEncodeConfig_LoadsBack(t *testing.T) {
	a := initDefaults()
	a.PairingRequired = true
	a.Tailscale = true
	a.TailscaleHostname = "edge-router"
	a.TailscaleHTTPS = true

	for _, name := range []string{"gateway.yaml", "gateway.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := newInitConfig(a)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), name)
			data, err := encodeConfig(path, cfg)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(data), initHeader))
			require.NoError(t, os.WriteFile(path, data, 0600))

			loaded, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, 10*time.Minute, loaded.Auth.TokenTTL)
			assert.True(t, loaded.Auth.PairingRequired)
			assert.Equal(t, 2, loaded.Tasks.MaxWorkers)
			assert.Equal(t, "/flash/skills", loaded.Tasks.SkillsDir)
			assert.Equal(t, config.DefaultWindow, loaded.RateLimit.Window)
			assert.Equal(t, "edge-router", loaded.Tailscale.Hostname)
			assert.True(t, loaded.Tailscale.HTTPS)
			assert.Equal(t, "json", loaded.Logging.Format)
		})
	}
}

func TestEncodeConfig_InvalidAnswerNotAccepted(t *testing.T) {
	a := initDefaults()
	a.LogLevel = "loud"
	cfg, err := newInitConfig(a)
	require.NoError(t, err)

	data, err := encodeConfig("gateway.yaml", cfg)
	require.NoError(t, err)
	_, err = config.Parse("gateway.yaml", data)
	assert.ErrorContains(t, err, "logging.level")
}
