// ABOUTME: Per-client fixed-window rate limiting with escalating auth lockout
// ABOUTME: Bounded client table that fails open for unseen clients once full

package ratelimit

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClientTableFull is returned when an auth failure cannot be recorded
// because the client table has no room for a new entry.
var ErrClientTableFull = errors.New("client table full")

const (
	DefaultMaxRequests = 10
	DefaultWindow      = 60 * time.Second
	DefaultLockout     = 60 * time.Second
	DefaultMaxClients  = 128

	// lockoutThreshold is the failure count at which lockout starts.
	lockoutThreshold = 5
	// maxLockoutMultiplier caps lockout escalation.
	maxLockoutMultiplier = 5
)

// clientRecord is the admission state for one client IP.
type clientRecord struct {
	windowStart  time.Time
	requestCount int
	authFailures int
	lockedUntil  time.Time
}

// Stats reports limiter occupancy.
type Stats struct {
	Clients    int
	MaxClients int
	Locked     int
}

// Limiter tracks request rates and auth failures per client IP.
// Records are created lazily and never evicted.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	lockout     time.Duration
	maxClients  int
	clients     map[string]*clientRecord
	now         func() time.Time
	logger      *slog.Logger
	warnedFull  bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxClients bounds the number of tracked client IPs.
func WithMaxClients(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxClients = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for capacity warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Limiter. Non-positive arguments take the defaults
// (10 requests per 60s window, 60s base lockout).
func New(maxRequests int, window, lockout time.Duration, opts ...Option) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}

	l := &Limiter{
		maxRequests: maxRequests,
		window:      window,
		lockout:     lockout,
		maxClients:  DefaultMaxClients,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.clients = make(map[string]*clientRecord, l.maxClients)
	l.logger = l.logger.With("component", "ratelimit")
	return l
}

// AllowRequest counts a request from ip and reports whether it is admitted.
// Locked clients are always refused. A client that cannot be tracked because
// the table is full is admitted.
func (l *Limiter) AllowRequest(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec := l.recordLocked(ip, now)
	if rec == nil {
		return true
	}

	if now.Before(rec.lockedUntil) {
		return false
	}

	if now.Sub(rec.windowStart) >= l.window {
		rec.windowStart = now
		rec.requestCount = 0
	}
	rec.requestCount++
	return rec.requestCount <= l.maxRequests
}

// RecordAuthFailure counts a failed authentication attempt from ip.
// From the fifth consecutive failure the client is locked out for
// lockout * min(failures-4, 5).
func (l *Limiter) RecordAuthFailure(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec := l.recordLocked(ip, now)
	if rec == nil {
		return ErrClientTableFull
	}

	rec.authFailures++
	if rec.authFailures >= lockoutThreshold {
		multiplier := min(rec.authFailures-(lockoutThreshold-1), maxLockoutMultiplier)
		rec.lockedUntil = now.Add(l.lockout * time.Duration(multiplier))
		l.logger.Warn("client locked out",
			"client_ip", ip,
			"failures", rec.authFailures,
			"locked_for", l.lockout*time.Duration(multiplier),
		)
	}
	return nil
}

// RecordAuthSuccess clears the failure count and any lockout for ip.
func (l *Limiter) RecordAuthSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.clients[ip]
	if !ok {
		return
	}
	rec.authFailures = 0
	rec.lockedUntil = time.Time{}
}

// IsLocked reports whether ip is locked out and, if so, how many whole
// seconds remain (rounded up, at least 1).
func (l *Limiter) IsLocked(ip string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.clients[ip]
	if !ok {
		return false, 0
	}
	remaining := rec.lockedUntil.Sub(l.now())
	if remaining <= 0 {
		return false, 0
	}
	secs := int((remaining + time.Second - 1) / time.Second)
	return true, max(secs, 1)
}

// Stats returns the number of tracked and currently locked clients.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	locked := 0
	for _, rec := range l.clients {
		if now.Before(rec.lockedUntil) {
			locked++
		}
	}
	return Stats{Clients: len(l.clients), MaxClients: l.maxClients, Locked: locked}
}

// recordLocked returns the record for ip, creating it if there is room.
// Returns nil when the table is full.
func (l *Limiter) recordLocked(ip string, now time.Time) *clientRecord {
	if rec, ok := l.clients[ip]; ok {
		return rec
	}
	if len(l.clients) >= l.maxClients {
		if !l.warnedFull {
			l.logger.Warn("client table full, admitting untracked clients", "max_clients", l.maxClients)
			l.warnedFull = true
		}
		return nil
	}
	rec := &clientRecord{windowStart: now}
	l.clients[ip] = rec
	return rec
}
