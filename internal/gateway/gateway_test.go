// ABOUTME: End-to-end tests for the gateway over real HTTP
// ABOUTME: Starts the event loop on a loopback port and drives pairing, tasks and conversation

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikroclaw/mikroclaw/internal/auth"
	"github.com/mikroclaw/mikroclaw/internal/config"
	"github.com/mikroclaw/mikroclaw/internal/store"
)

type runningGateway struct {
	gw      *Gateway
	baseURL string
	dbPath  string
	stop    func() error
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.PollInterval = 10 * time.Millisecond
	cfg.Database.Path = filepath.Join(dir, "mikroclaw.db")
	cfg.Tasks.SkillsDir = filepath.Join(dir, "skills")
	cfg.Tailscale.Enabled = false
	cfg.RateLimit.MaxRequests = 1000
	require.NoError(t, os.MkdirAll(cfg.Tasks.SkillsDir, 0755))
	return cfg
}

func startGateway(t *testing.T, cfg *config.Config, collab Collaborators) *runningGateway {
	t.Helper()

	gw, err := New(cfg, collab, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	select {
	case <-gw.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("gateway exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("gateway did not become ready")
	}

	stopped := false
	var runErr error
	stop := func() error {
		if stopped {
			return runErr
		}
		stopped = true
		cancel()
		select {
		case runErr = <-errCh:
		case <-time.After(10 * time.Second):
			t.Error("gateway did not stop")
		}
		return runErr
	}
	t.Cleanup(func() { _ = stop() })

	return &runningGateway{
		gw:      gw,
		baseURL: "http://" + gw.Addr().String(),
		dbPath:  cfg.Database.Path,
		stop:    stop,
	}
}

func (rg *runningGateway) do(t *testing.T, method, path, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, rg.baseURL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestGateway_HealthAndAddr(t *testing.T) {
	rg := startGateway(t, testConfig(t), Collaborators{})

	require.NotNil(t, rg.gw.Addr())
	_, port, err := net.SplitHostPort(rg.gw.Addr().String())
	require.NoError(t, err)
	assert.NotEqual(t, "0", port)

	resp, body := rg.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.Close, "response must close the connection")
	assert.Equal(t, contentTypeJSON, resp.Header.Get("Content-Type"))

	var health struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, false, health.Components["llm"])
	assert.Equal(t, false, health.Components["conversation"])
}

func TestGateway_ClosesConnectionOnWire(t *testing.T) {
	rg := startGateway(t, testConfig(t), Collaborators{})

	conn, err := net.Dial("tcp", rg.gw.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "GET /health/heartbeat HTTP/1.1\r\nHost: router\r\n\r\n")
	require.NoError(t, err)

	// ReadAll only returns once the server has closed its side.
	raw, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, string(raw), "Connection: close\r\n")
	assert.True(t, strings.HasSuffix(string(raw), `{"heartbeat":"ok"}`))
}

func TestGateway_OversizedBody(t *testing.T) {
	rg := startGateway(t, testConfig(t), Collaborators{})

	resp, body := rg.do(t, http.MethodPost, "/tasks", strings.Repeat("x", MaxBodyBytes+1), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"bad request"}`, string(body))
}

func TestGateway_PairAndRunSkill(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell skills need a POSIX shell")
	}

	cfg := testConfig(t)
	cfg.Auth.PairingRequired = true
	script := "#!/bin/sh\necho interfaces ok\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Tasks.SkillsDir, "check"), []byte(script), 0755))

	rg := startGateway(t, cfg, Collaborators{})

	resp, _ := rg.do(t, http.MethodGet, "/tasks", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := rg.do(t, http.MethodPost, "/pair", "", map[string]string{auth.PairingCodeHeader: rg.gw.PairingCode()})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var paired struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(body, &paired))
	assert.Equal(t, 300, paired.ExpiresIn)
	bearer := map[string]string{"Authorization": "Bearer " + paired.Token}

	resp, body = rg.do(t, http.MethodPost, "/tasks", `{"type":"skill_invoke","params":{"skill":"check"}}`, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var submitted struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &submitted))
	assert.Equal(t, "queued", submitted.Status)

	var task struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	require.Eventually(t, func() bool {
		_, body := rg.do(t, http.MethodGet, "/tasks/"+submitted.TaskID, "", bearer)
		return json.Unmarshal(body, &task) == nil && task.Status == "complete"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "interfaces ok\n", task.Result)

	require.NoError(t, rg.stop())

	journal, err := store.NewSQLiteStore(rg.dbPath)
	require.NoError(t, err)
	defer journal.Close()

	record, err := journal.GetTaskRecord(context.Background(), submitted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "complete", record.Status)
	assert.Equal(t, "skill_invoke", record.Type)

	entries, err := journal.ListAuditLog(context.Background(), store.AuditFilter{})
	require.NoError(t, err)
	var events []store.AuditEvent
	for _, e := range entries {
		events = append(events, e.Event)
	}
	assert.Contains(t, events, store.AuditAuthFailure)
	assert.Contains(t, events, store.AuditPairSuccess)
}

func TestGateway_UnknownTaskTypeFails(t *testing.T) {
	rg := startGateway(t, testConfig(t), Collaborators{})

	_, body := rg.do(t, http.MethodPost, "/tasks", `{"type":"investigate"}`, nil)
	var submitted struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(body, &submitted))

	var task struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	require.Eventually(t, func() bool {
		_, body := rg.do(t, http.MethodGet, "/tasks/"+submitted.TaskID, "", nil)
		return json.Unmarshal(body, &task) == nil && task.Status == "failed"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "unknown task type: investigate", task.Result)
}

type slowPipeline struct {
	entered chan struct{}
	release chan struct{}
}

func (p *slowPipeline) Reply(ctx context.Context, prompt string) (string, error) {
	close(p.entered)
	select {
	case <-p.release:
		return "echo: " + prompt, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestGateway_ConversationDoesNotBlockLoop(t *testing.T) {
	pipeline := &slowPipeline{entered: make(chan struct{}), release: make(chan struct{})}
	rg := startGateway(t, testConfig(t), Collaborators{Pipeline: pipeline})

	type result struct {
		status int
		body   string
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post(rg.baseURL+"/", "text/plain", bytes.NewBufferString("what is my uptime"))
		if err != nil {
			done <- result{}
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		done <- result{resp.StatusCode, string(data)}
	}()

	select {
	case <-pipeline.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("conversation never reached the pipeline")
	}

	// The loop keeps answering while the conversation is pending.
	require.Eventually(t, func() bool {
		resp, _ := rg.do(t, http.MethodGet, "/health/heartbeat", "", nil)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	close(pipeline.release)

	select {
	case r := <-done:
		assert.Equal(t, http.StatusOK, r.status)
		assert.Equal(t, "echo: what is my uptime", r.body)
	case <-time.After(5 * time.Second):
		t.Fatal("conversation never answered")
	}
}

func TestGateway_RunStopsCleanly(t *testing.T) {
	rg := startGateway(t, testConfig(t), Collaborators{})
	assert.NoError(t, rg.stop())

	// Shutdown after Run is a no-op.
	assert.NoError(t, rg.gw.Shutdown(context.Background()))
}

func TestExtractClientIP(t *testing.T) {
	assert.Equal(t, "192.168.88.1", extractClientIP("192.168.88.1:53211"))
	assert.Equal(t, "::1", extractClientIP("[::1]:8080"))
	assert.Equal(t, "pipe", extractClientIP("pipe"))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	key, err := resolveTailscaleAuthKey("tskey-configured")
	require.NoError(t, err)
	assert.Equal(t, "tskey-configured", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/mikroclaw/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/mikroclaw/ts", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, filepath.Join("mikroclaw", "tailscale")))
}
