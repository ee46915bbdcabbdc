// Package metrics exposes the Prometheus instruments shared by the provider
// callers, worker lanes, scanner and queue.
//
// Instruments are registered on the default registry at package init via
// promauto, so importing the package is enough to publish them on the ops
// listener's /metrics route. Record* helpers keep label sets consistent
// across call sites.
package metrics
