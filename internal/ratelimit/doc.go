// Package ratelimit wraps outbound provider calls with a per-connection
// throttle, bounded retries and a circuit breaker.
//
// Each provider client owns its own Caller. A Caller blocks until the
// connection's minimum call interval has elapsed, retries 408, 429, 5xx and
// network timeouts with capped exponential backoff plus jitter (honoring
// Retry-After), and surfaces terminal failures tagged with the services
// error markers so the worker loop can classify them.
package ratelimit
