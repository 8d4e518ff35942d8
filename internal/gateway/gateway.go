// ABOUTME: Gateway orchestrator owning the HTTP server, event loop, scheduler and journal
// ABOUTME: Manages TCP or Tailscale listeners and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/mikroclaw/mikroclaw/internal/auth"
	"github.com/mikroclaw/mikroclaw/internal/config"
	"github.com/mikroclaw/mikroclaw/internal/dedupe"
	"github.com/mikroclaw/mikroclaw/internal/handlers"
	"github.com/mikroclaw/mikroclaw/internal/ratelimit"
	"github.com/mikroclaw/mikroclaw/internal/store"
	"github.com/mikroclaw/mikroclaw/internal/tasks"
)

// Collaborators are the optional external services the gateway relays to.
// Any of them may be nil.
type Collaborators struct {
	// Pipeline answers conversation requests. Defaults to a ChatPipeline
	// over Chat when Chat is set.
	Pipeline Pipeline
	Device   handlers.Device
	Chat     handlers.Chatter
	Memory   handlers.Recaller
}

// Gateway orchestrates the mikroclaw server components.
type Gateway struct {
	config      *config.Config
	creds       *auth.Store
	limiter     *ratelimit.Limiter
	scheduler   *tasks.Scheduler
	dispatcher  *Dispatcher
	store       *store.SQLiteStore
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// inbound carries exchanges from HTTP goroutines to the event loop
	inbound chan *exchange

	// done is closed once the event loop has stopped
	done     chan struct{}
	doneOnce sync.Once

	// ready is closed once the listener is bound
	ready chan struct{}
	addr  net.Addr

	shutdownOnce sync.Once
	shutdownErr  error
}

const maxIdempotencyKeys = 1024

// newSubmissionCache keeps an idempotency key at least as long as its task
// is still in the scheduler table.
func newSubmissionCache(ttl time.Duration, scheduler *tasks.Scheduler, opts ...dedupe.Option) *dedupe.Cache {
	live := func(id string) bool {
		_, err := scheduler.Get(id)
		return err == nil
	}
	return dedupe.New(ttl, maxIdempotencyKeys, append(opts, dedupe.WithKeepAlive(live))...)
}

// initStore opens the journal database.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newScheduler builds the handler registry, worker pool and scheduler.
func newScheduler(cfg *config.Config, collab Collaborators, recorder tasks.Recorder, logger *slog.Logger) (*tasks.Scheduler, error) {
	registry := tasks.NewRegistry()
	err := handlers.Register(registry, handlers.Deps{
		Device:    collab.Device,
		Chat:      collab.Chat,
		Memory:    collab.Memory,
		SkillsDir: cfg.Tasks.SkillsDir,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("registering task handlers: %w", err)
	}

	pool := tasks.NewPool(cfg.Tasks.MaxWorkers)
	return tasks.NewScheduler(cfg.Tasks.MaxTasks, pool, registry,
		tasks.WithRetention(cfg.Tasks.Retention),
		tasks.WithRecorder(recorder),
		tasks.WithLogger(logger),
	), nil
}

// New creates a new Gateway instance with the given configuration.
// The only fatal condition besides the journal is an unavailable random source.
func New(cfg *config.Config, collab Collaborators, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	creds, err := auth.NewStore(cfg.Auth.TokenTTL, auth.WithCapacity(cfg.Auth.TokenCapacity))
	if err != nil {
		return nil, fmt.Errorf("creating credential store: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	scheduler, err := newScheduler(cfg, collab, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, cfg.RateLimit.Lockout,
		ratelimit.WithMaxClients(cfg.RateLimit.MaxClients),
		ratelimit.WithLogger(logger),
	)

	pipeline := collab.Pipeline
	if pipeline == nil && collab.Chat != nil {
		pipeline = &ChatPipeline{Chat: collab.Chat}
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Credentials:     creds,
		Limiter:         limiter,
		Scheduler:       scheduler,
		Submissions:     newSubmissionCache(cfg.Tasks.Retention, scheduler),
		Pipeline:        pipeline,
		Audit:           s,
		PairingRequired: cfg.Auth.PairingRequired,
		Components: Components{
			Device: collab.Device != nil,
			LLM:    collab.Chat != nil || collab.Pipeline != nil,
			Memory: collab.Memory != nil,
		},
		Logger: logger,
	})
	if err != nil {
		scheduler.Shutdown()
		_ = s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:     cfg,
		creds:      creds,
		limiter:    limiter,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		store:      s,
		logger:     logger.With("component", "gateway"),
		inbound:    make(chan *exchange),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.httpServer.SetKeepAlivesEnabled(false)

	return gw, nil
}

// PairingCode returns the one-time pairing code clients exchange for a token.
func (g *Gateway) PairingCode() string {
	return g.creds.PairingCode()
}

// Ready is closed once the gateway is listening.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (g *Gateway) Addr() net.Addr {
	select {
	case <-g.ready:
		return g.addr
	default:
		return nil
	}
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", g.config.Server.HTTPAddr,
		)
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// Run starts the HTTP server and runs the event loop until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}
	g.addr = ln.Addr()
	close(g.ready)

	errCh := g.startServer(ln)
	loopErr := g.loop(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if loopErr != nil {
		return loopErr
	}
	return shutdownErr
}

// loop is the event loop. It is the only caller of Dispatcher.Handle and
// Scheduler.Poll while the gateway runs.
func (g *Gateway) loop(ctx context.Context, errCh chan error) error {
	defer g.doneOnce.Do(func() { close(g.done) })

	interval := g.config.Server.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		g.scheduler.Poll()

		select {
		case <-ctx.Done():
			g.logger.Info("context canceled, initiating shutdown")
			return nil
		case err := <-errCh:
			g.logger.Error("server error", "error", err)
			return err
		case ex := <-g.inbound:
			g.serve(ctx, ex)
		case <-g.scheduler.Notify():
		case <-ticker.C:
		}
	}
}

// serve answers one exchange. Deferred work runs in its own goroutine so a
// slow conversation does not hold up the loop.
func (g *Gateway) serve(ctx context.Context, ex *exchange) {
	resp := g.dispatcher.Handle(ctx, ex.req)
	if resp.deferred == nil {
		ex.reply <- resp
		return
	}
	go func() {
		ex.reply <- resp.deferred(ctx)
	}()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "mikroclaw", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.HTTPS {
		return g.createTailscaleTLSListener()
	}
	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, cancels running tasks and releases resources.
// Calls after the first return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.doneOnce.Do(func() { close(g.done) })

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.scheduler.Shutdown()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
