// Package services defines shared utilities consumed by the task handlers and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, kinds, worker IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper and Classify, which map
//     failures onto the transient / ambiguous / malformed / conflict / fatal
//     taxonomy the worker loop acts on.
//
// Use these helpers when wiring new handlers so retries and outcome logging
// stay uniform across task kinds.
package services
