// Package gateway is the mikroclaw HTTP control plane.
//
// # Overview
//
// The Gateway owns the HTTP server (plain TCP or a Tailscale tsnet node),
// the credential store, the rate limiter, the task scheduler and the
// journal. A single event loop goroutine makes every admission decision and
// drives the scheduler:
//
//	for {
//	    scheduler.Poll()            // reap, dispatch, expire
//	    wait for: request | worker finished | poll interval | shutdown
//	}
//
// HTTP handler goroutines never touch shared state. ServeHTTP reads the
// request into a Request, hands it to the loop as an exchange and waits
// for the Response.
//
// # Dispatch Order
//
//  1. Malformed request: 400
//  2. GET /health, GET /health/heartbeat: served without rate limiting or auth
//  3. Rate limit exceeded: 429
//  4. Client locked out after repeated auth failures: 429 with retry_after
//  5. POST /pair: pairing code exchange
//  6. Bearer token check when auth.pairing_required is set: 401
//  7. Task routes: POST /tasks, GET /tasks, GET /tasks/{id}, DELETE /tasks/{id}
//  8. Anything else: conversation pipeline, run off the loop
//
// Every response carries Connection: close.
//
// # Journal
//
// Pairing results, bearer auth failures, lockouts and rate-limit rejections
// are appended to the store's audit log. Terminal tasks are written to the
// task history by the scheduler.
package gateway
