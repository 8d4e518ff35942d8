// Package dedupe remembers idempotency keys for a bounded time so a client
// retrying POST /tasks over a flaky link gets the task it already created
// instead of a second one.
package dedupe
