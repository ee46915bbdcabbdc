// Package scan finds catalog works that need enrichment and enqueues the
// matching tasks.
//
// A scan walks the catalog in id order, batch by batch, and asks the queue to
// enqueue one task per work and target (source, region or score profile). The
// queue decides whether the request is new, a duplicate of live work, fresh
// enough to skip, or a re-arm of an old result; the scanner only records the
// answer. Works whose target attributes are all manual are skipped before they
// reach the queue.
//
// Only one scan runs at a time per data directory. Run takes a non-blocking
// file lock and returns ErrLocked when another process holds it. Schedule
// drives Run from a cron expression until its context ends.
package scan
