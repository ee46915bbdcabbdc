// Package queue persists enrichment tasks in SQLite and exposes the claim
// protocol workers use to drive them.
//
// A task is keyed by (subject work id, kind, canonical payload JSON). Enqueue
// is idempotent on that key and applies the freshness and manual-protection
// policies before anything is written, so claiming stays a single conditional
// UPDATE. Tasks move pending -> claimed -> done, or back to pending with an
// exponential available_at backoff, or to failed once the attempt ceiling is
// reached. Claims carry a heartbeat; claims whose heartbeat goes quiet are
// returned to pending by ReclaimStale.
//
// The database is treated as working state, not an archive. Done rows double
// as the record of when a subject was last checked, which drives freshness
// decisions; Prune removes old done and failed rows. Schema changes bump the
// version in schema.go; users delete queue.db to adopt the new schema.
package queue
