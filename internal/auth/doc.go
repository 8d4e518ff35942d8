// Package auth provides pairing-code authentication for the mikroclaw gateway.
//
// # Pairing
//
// A [Store] generates a six digit pairing code when it is created. The code is
// printed on the console at startup; a client proves physical access by
// presenting it on POST /pair in the X-Pairing-Code header (or as {"code":...}
// in the body) and receives a bearer token in return.
//
// # Tokens
//
// Tokens are 43 random alphanumeric characters with a fixed TTL (default 300s).
// The store keeps at most a configured number of live tokens (default 16) and
// only ever holds their SHA-256 digests:
//
//	store, err := auth.NewStore(5*time.Minute, auth.WithCapacity(16))
//	tok, err := store.ExchangePairingCode(code)
//	ok := store.ValidateToken(tok.Value)
//
// Expired tokens are reclaimed lazily, on the next exchange or when a
// validation finds them. Live tokens are never evicted; once the table is full
// further exchanges fail with [ErrNoFreeSlot] until one expires.
//
// # Entropy
//
// Randomness comes from crypto/rand with /dev/urandom as a fallback. Only when
// both fail does [NewStore] return [ErrRandomSourceUnavailable], which the
// gateway treats as fatal at startup.
package auth
