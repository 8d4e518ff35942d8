// ABOUTME: Request dispatcher applying admission policy then routing to health, pairing, tasks or conversation
// ABOUTME: Every admission decision is made here, one request at a time

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mikroclaw/mikroclaw/internal/auth"
	"github.com/mikroclaw/mikroclaw/internal/dedupe"
	"github.com/mikroclaw/mikroclaw/internal/ratelimit"
	"github.com/mikroclaw/mikroclaw/internal/store"
	"github.com/mikroclaw/mikroclaw/internal/tasks"
)

// Pipeline answers free-form prompts, usually by calling an LLM.
type Pipeline interface {
	Reply(ctx context.Context, prompt string) (string, error)
}

// AuditLogger receives admission decisions worth keeping.
type AuditLogger interface {
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// Components reports which optional collaborators are wired, for /health.
type Components struct {
	Device bool
	LLM    bool
	Memory bool
}

// DispatcherConfig holds the collaborators a Dispatcher routes to.
// Credentials and Limiter are required; the rest are optional.
type DispatcherConfig struct {
	Credentials     *auth.Store
	Limiter         *ratelimit.Limiter
	Scheduler       *tasks.Scheduler
	Submissions     *dedupe.Cache
	Pipeline        Pipeline
	Audit           AuditLogger
	PairingRequired bool
	Components      Components
	Logger          *slog.Logger
}

// Dispatcher classifies requests and applies rate limiting and auth.
type Dispatcher struct {
	creds           *auth.Store
	limiter         *ratelimit.Limiter
	scheduler       *tasks.Scheduler
	submissions     *dedupe.Cache
	pipeline        Pipeline
	audit           AuditLogger
	pairingRequired bool
	components      Components
	logger          *slog.Logger
}

const (
	auditTimeout = 2 * time.Second

	pathHealth    = "/health"
	pathHeartbeat = "/health/heartbeat"
	pathPair      = "/pair"
	pathTasks     = "/tasks"
	prefixTask    = "/tasks/"

	llmErrorMessage = "Error querying LLM. Check configuration."

	// IdempotencyKeyHeader lets a client retry POST /tasks without queueing twice.
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
)

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("dispatcher requires a credential store")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("dispatcher requires a rate limiter")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		creds:           cfg.Credentials,
		limiter:         cfg.Limiter,
		scheduler:       cfg.Scheduler,
		submissions:     cfg.Submissions,
		pipeline:        cfg.Pipeline,
		audit:           cfg.Audit,
		pairingRequired: cfg.PairingRequired,
		components:      cfg.Components,
		logger:          logger.With("component", "dispatcher"),
	}, nil
}

// Handle decides the response for req. A conversation request comes back
// with a deferred step that must run to obtain the final response.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	if req.Malformed || req.Method == "" || !strings.HasPrefix(req.Path, "/") {
		return errorResponse(http.StatusBadRequest, "bad request")
	}

	if req.Method == http.MethodGet {
		switch req.Path {
		case pathHealth:
			return d.handleHealth()
		case pathHeartbeat:
			return jsonResponse(http.StatusOK, map[string]string{"heartbeat": "ok"})
		}
	}

	// AllowRequest also refuses locked clients, so the lockout is told
	// apart here to report retry_after.
	if !d.limiter.AllowRequest(req.ClientIP) {
		if locked, retryAfter := d.limiter.IsLocked(req.ClientIP); locked {
			d.record(ctx, store.AuditAuthLocked, req)
			return lockedResponse(retryAfter)
		}
		d.record(ctx, store.AuditRateLimited, req)
		return errorResponse(http.StatusTooManyRequests, "rate limit exceeded")
	}

	if req.Method == http.MethodPost && req.Path == pathPair {
		return d.handlePair(ctx, req)
	}

	if d.pairingRequired {
		if resp := d.authenticate(ctx, req); resp != nil {
			return resp
		}
	}

	if resp := d.routeTasks(req); resp != nil {
		return resp
	}

	return d.handleConversation(req)
}

// Serve runs Handle and any deferred step inline.
func (d *Dispatcher) Serve(ctx context.Context, req *Request) *Response {
	resp := d.Handle(ctx, req)
	if resp.deferred != nil {
		return resp.deferred(ctx)
	}
	return resp
}

func (d *Dispatcher) handleHealth() *Response {
	components := map[string]any{
		"gateway":      true,
		"tasks":        d.scheduler != nil,
		"conversation": d.pipeline != nil,
		"device":       d.components.Device,
		"llm":          d.components.LLM,
		"memory":       d.components.Memory,
		"tokens_live":  d.creds.Stats().Live,
	}
	if d.scheduler != nil {
		components["workers_running"] = d.scheduler.Stats().Running
	} else {
		components["workers_running"] = 0
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"status":     "ok",
		"components": components,
	})
}

func (d *Dispatcher) handlePair(ctx context.Context, req *Request) *Response {
	code := auth.PairingCodeFrom(req.Header, req.Body)

	token, err := d.creds.ExchangePairingCode(code)
	switch {
	case errors.Is(err, auth.ErrNoFreeSlot):
		d.logger.Warn("pairing rejected: token table full")
		d.record(ctx, store.AuditTokenTableFull, req)
		return errorResponse(http.StatusServiceUnavailable, "no free token slots")
	case errors.Is(err, auth.ErrRandomSourceUnavailable):
		d.logger.Error("pairing failed: cannot generate token", "error", err)
		return errorResponse(http.StatusServiceUnavailable, "token generation failed")
	case err != nil:
		if rerr := d.limiter.RecordAuthFailure(req.ClientIP); rerr != nil {
			d.logger.Warn("auth failure not tracked", "error", rerr)
		}
		d.logger.Info("pairing failed", "error", err)
		d.logger.Debug("pairing failed client", "client_ip", req.ClientIP)
		d.record(ctx, store.AuditPairFailure, req)
		return errorResponse(http.StatusForbidden, "invalid pairing code")
	}

	d.limiter.RecordAuthSuccess(req.ClientIP)
	d.logger.Info("client paired", "token", auth.Redact(token.Value))
	d.record(ctx, store.AuditPairSuccess, req)
	return jsonResponse(http.StatusOK, map[string]any{
		"paired":     true,
		"token":      token.Value,
		"expires_in": int(d.creds.TTL() / time.Second),
	})
}

// authenticate returns a 401 response when the bearer token is missing or
// invalid, or nil when the request may proceed.
func (d *Dispatcher) authenticate(ctx context.Context, req *Request) *Response {
	token, msg := auth.ExtractBearer(req.Header)
	if msg == "" && d.creds.ValidateToken(token) {
		d.limiter.RecordAuthSuccess(req.ClientIP)
		return nil
	}
	if msg == "" {
		msg = "invalid or expired token"
	}

	if err := d.limiter.RecordAuthFailure(req.ClientIP); err != nil {
		d.logger.Warn("auth failure not tracked", "error", err)
	}
	d.logger.Debug("bearer auth failed", "reason", msg, "client_ip", req.ClientIP)
	d.record(ctx, store.AuditAuthFailure, req)
	return errorResponse(http.StatusUnauthorized, "unauthorized")
}

// routeTasks serves the task routes, or returns nil when req is not one.
func (d *Dispatcher) routeTasks(req *Request) *Response {
	if d.scheduler == nil {
		return nil
	}

	if req.Path == pathTasks {
		switch req.Method {
		case http.MethodPost:
			return d.handleSubmit(req)
		case http.MethodGet:
			return d.handleList()
		}
		return nil
	}

	id, ok := strings.CutPrefix(req.Path, prefixTask)
	if !ok {
		return nil
	}
	switch req.Method {
	case http.MethodGet:
		return d.handleGet(id)
	case http.MethodDelete:
		return d.handleCancel(id)
	}
	return nil
}

// submitRequest is the POST /tasks body. When Params is absent the whole
// body is handed to the handler.
type submitRequest struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

func (d *Dispatcher) handleSubmit(req *Request) *Response {
	var body submitRequest
	if err := json.Unmarshal(req.Body, &body); err != nil || body.Type == "" {
		return errorResponse(http.StatusBadRequest, "missing type")
	}

	params := body.Params
	if len(params) == 0 {
		params = req.Body
	}

	key := d.idempotencyKey(req)
	if key != "" {
		if id, ok := d.submissions.Get(key); ok {
			if t, err := d.scheduler.Get(id); err == nil {
				d.logger.Debug("duplicate submission", "task_id", id)
				return jsonResponse(http.StatusOK, map[string]string{"task_id": id, "status": string(t.Status)})
			}
			d.submissions.Forget(key)
		}
	}

	id, err := d.scheduler.Submit(body.Type, params)
	switch {
	case errors.Is(err, tasks.ErrInvalidType):
		return errorResponse(http.StatusBadRequest, "invalid type")
	case errors.Is(err, tasks.ErrParamsTooLarge):
		return errorResponse(http.StatusBadRequest, "params too large")
	case errors.Is(err, tasks.ErrQueueFull), errors.Is(err, tasks.ErrClosed):
		return errorResponse(http.StatusServiceUnavailable, "queue full")
	case err != nil:
		d.logger.Error("submitting task", "error", err)
		return errorResponse(http.StatusInternalServerError, "internal server error")
	}

	if key != "" {
		d.submissions.Put(key, id)
	}
	d.logger.Info("task submitted", "task_id", id, "type", body.Type)
	return jsonResponse(http.StatusOK, map[string]string{"task_id": id, "status": string(tasks.StatusQueued)})
}

// idempotencyKey scopes the client's Idempotency-Key to its IP. Empty when
// the header is absent, too long or no cache is configured.
func (d *Dispatcher) idempotencyKey(req *Request) string {
	if d.submissions == nil {
		return ""
	}
	key := strings.TrimSpace(req.Header.Get(IdempotencyKeyHeader))
	if key == "" || len(key) > maxIdempotencyKeyLen {
		return ""
	}
	return req.ClientIP + "|" + key
}

func (d *Dispatcher) handleList() *Response {
	resp := jsonResponse(http.StatusOK, d.scheduler.List())
	if resp.Status != http.StatusOK {
		return errorResponse(http.StatusInternalServerError, "list failed")
	}
	return resp
}

func (d *Dispatcher) handleGet(id string) *Response {
	t, err := d.scheduler.Get(id)
	if err != nil {
		return errorResponse(http.StatusNotFound, "task not found")
	}
	return jsonResponse(http.StatusOK, t)
}

func (d *Dispatcher) handleCancel(id string) *Response {
	status, err := d.scheduler.Cancel(id)
	if err != nil {
		return errorResponse(http.StatusNotFound, "task not found")
	}
	return jsonResponse(http.StatusOK, map[string]string{"status": string(status)})
}

func (d *Dispatcher) handleConversation(req *Request) *Response {
	prompt := strings.TrimSpace(string(req.Body))
	if prompt == "" {
		return errorResponse(http.StatusBadRequest, "empty request")
	}
	if d.pipeline == nil {
		return errorResponse(http.StatusServiceUnavailable, "conversation unavailable")
	}

	pipeline := d.pipeline
	logger := d.logger
	return &Response{deferred: func(ctx context.Context) *Response {
		reply, err := pipeline.Reply(ctx, prompt)
		if err != nil {
			logger.Error("conversation failed", "error", err)
			return errorResponse(http.StatusBadGateway, llmErrorMessage)
		}
		return textResponse(http.StatusOK, reply)
	}}
}

func (d *Dispatcher) record(ctx context.Context, event store.AuditEvent, req *Request) {
	if d.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	entry := &store.AuditEntry{
		Event:    event,
		ClientIP: req.ClientIP,
		Detail:   req.Method + " " + req.Path,
	}
	if err := d.audit.AppendAuditLog(ctx, entry); err != nil {
		d.logger.Warn("writing audit entry", "event", event, "error", err)
	}
}
