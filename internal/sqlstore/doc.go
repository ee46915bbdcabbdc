// Package sqlstore holds the SQLite plumbing shared by the queue and catalog
// stores: connection setup with WAL and busy timeouts, versioned schema
// bootstrap, SQLITE_BUSY retries, constraint classification, timestamp
// encoding, and database health diagnostics.
package sqlstore
