// Package logging assembles structured slog loggers and formatting helpers used
// across animeindex.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so handler code automatically
// tags log lines with task IDs, kinds, subjects, and correlation IDs. The
// console handler renders the task tag ahead of the message so a worker's
// output reads as one line per task event. A no-op logger is provided for
// tests and wiring code that cannot fail.
package logging
