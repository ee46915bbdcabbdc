// Package llm provides an OpenRouter-compatible chat client used as the
// scoring source provider.
//
// # Entry Points
//
// New: construct a client from Config.
// Client.CompleteJSON: send system/user prompts, receive a JSON payload.
// Client.ScoreText: providers.Scorer implementation used by score tasks.
// Client.HealthCheck: verify API key and model availability at startup.
// DecodeJSON: tolerant decoding of model output (code fences, prose around
// the object).
//
// # Retry Behaviour
//
// HTTP 408/429/5xx and network timeouts are retried by the client's
// ratelimit.Caller. Empty completions and undecodable bodies are reported as
// malformed so the score handler can apply its own bounded retry.
package llm
