// Package daemon coordinates the long-running animeindex process.
//
// It wires the worker manager, the cron-driven scan scheduler and the ops HTTP
// listener into a single lifecycle. A flock on the data directory elects one
// primary daemon that runs the scheduler, the ops listener and log retention;
// daemons that find the lock taken run worker lanes only. The ops listener serves
// Prometheus metrics, a liveness probe, queue stats and read-only JSON views
// of tasks and works.
//
// Keep orchestration logic here: task handling lives in the enrich and
// workflow packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
