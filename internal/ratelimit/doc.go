// Package ratelimit admits or refuses gateway requests per client IP.
//
// Each client gets a fixed window (default 10 requests per 60s) and an auth
// failure counter. Five consecutive failures lock the client out for the base
// lockout; every further failure extends the lockout up to five times the
// base. A successful authentication clears both.
//
// The client table is bounded (default 128 entries) and records are never
// evicted. When it is full, requests from clients that are not already
// tracked are admitted without accounting; this is logged once.
package ratelimit
