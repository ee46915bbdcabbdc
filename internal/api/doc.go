// Package api defines wire-format types and converters for the ops HTTP
// listener and the CLI's JSON output. It translates queue, catalog and worker
// models into transport-friendly DTOs so consumers do not couple to internal
// types.
//
// # Key Types
//
// Task: transport representation of a queue task with its payload, attempts
// and last outcome.
//
// Work: a catalog work with its external links and attribute values.
//
// WorkerStatus: running state, queue stats, handler health, lanes and the
// last task processed.
//
// # Converters
//
// FromTask: queue.Task -> Task with the payload passed through as raw JSON.
//
// FromWork: catalog.Work -> Work with attributes in name order.
//
// FromStatusSummary: workflow.StatusSummary -> WorkerStatus.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (queue.Status,
// catalog.Provenance) are exposed as lowercase strings. Timestamps use RFC3339
// with milliseconds. Payloads and attribute values are passed through as
// json.RawMessage to avoid double-encoding.
package api
