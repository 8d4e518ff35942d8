// ABOUTME: Credential store for pairing codes and short-lived bearer tokens
// ABOUTME: Holds a bounded table of token digests with lazy expiry reclamation

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Credential store errors
var (
	ErrInvalidCode = errors.New("invalid pairing code")
	ErrNoFreeSlot  = errors.New("no free token slot")
)

const (
	// DefaultTokenTTL is applied when NewStore is given a non-positive TTL.
	DefaultTokenTTL = 300 * time.Second

	// DefaultTokenCapacity bounds the number of live tokens.
	DefaultTokenCapacity = 16
)

// Token is an issued bearer credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Stats reports token table occupancy.
type Stats struct {
	Live     int
	Capacity int
}

// Store issues bearer tokens in exchange for the process pairing code.
// Tokens are kept only as SHA-256 digests.
type Store struct {
	mu       sync.Mutex
	code     string
	ttl      time.Duration
	capacity int
	tokens   map[string]time.Time // sha256(token) -> expires at
	rand     entropy
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the maximum number of live tokens.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEntropy replaces the primary and fallback randomness sources.
// A nil reader disables that source.
func WithEntropy(primary, fallback io.Reader) Option {
	return func(s *Store) {
		s.rand = entropy{primary: primary, fallback: fallback}
	}
}

// NewStore creates a credential store and generates its pairing code.
// It fails only when no entropy source can be read.
func NewStore(ttl time.Duration, opts ...Option) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	s := &Store{
		ttl:      ttl,
		capacity: DefaultTokenCapacity,
		rand:     defaultEntropy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tokens = make(map[string]time.Time, s.capacity)

	code, err := s.rand.digits(PairingCodeLength)
	if err != nil {
		return nil, fmt.Errorf("generating pairing code: %w", err)
	}
	s.code = code

	return s, nil
}

// PairingCode returns the code clients present to obtain a token.
func (s *Store) PairingCode() string {
	return s.code
}

// TTL returns the lifetime of issued tokens.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// ExchangePairingCode issues a new token if code matches the pairing code
// and the table has room once expired entries are reclaimed.
func (s *Store) ExchangePairingCode(code string) (Token, error) {
	if len(code) != len(s.code) || subtle.ConstantTimeCompare([]byte(code), []byte(s.code)) != 1 {
		return Token{}, ErrInvalidCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.reclaimLocked(now)
	if len(s.tokens) >= s.capacity {
		return Token{}, ErrNoFreeSlot
	}

	value, err := s.rand.alphanumeric(TokenLength)
	if err != nil {
		return Token{}, fmt.Errorf("generating token: %w", err)
	}

	tok := Token{Value: value, ExpiresAt: now.Add(s.ttl)}
	s.tokens[digest(value)] = tok.ExpiresAt
	return tok, nil
}

// ValidateToken reports whether token was issued by this store and has not expired.
// An expired entry found here is dropped.
func (s *Store) ValidateToken(token string) bool {
	if token == "" {
		return false
	}

	key := digest(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.tokens[key]
	if !ok {
		return false
	}
	if !s.now().Before(expiresAt) {
		delete(s.tokens, key)
		return false
	}
	return true
}

// Stats returns the number of unexpired tokens and the table capacity.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := 0
	for _, expiresAt := range s.tokens {
		if now.Before(expiresAt) {
			live++
		}
	}
	return Stats{Live: live, Capacity: s.capacity}
}

// reclaimLocked drops every token whose expiry is at or before now.
func (s *Store) reclaimLocked(now time.Time) {
	for key, expiresAt := range s.tokens {
		if !now.Before(expiresAt) {
			delete(s.tokens, key)
		}
	}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
