// Package preflight checks that a worker or scan can start: the data and log
// directories are usable and every source the configured lanes call has
// credentials.
//
// The worker command refuses to start when a check fails; `config validate`
// prints every result.
package preflight
