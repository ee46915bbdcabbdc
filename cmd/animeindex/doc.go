// Command animeindex is the operator CLI for the anime title index.
//
// It runs the queue workers (as a daemon or draining once), the enqueue
// scanner, and the maintenance commands for the queue and the catalog. Every
// command opens the SQLite stores directly; the daemon's ops listener is only
// needed for metrics and remote inspection.
package main
