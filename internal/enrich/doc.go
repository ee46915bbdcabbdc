// Package enrich implements the task handlers the worker dispatches to.
//
// Each handler owns one task kind:
//
//	resolve-id          Resolver      title -> external id via titlematch
//	fetch-facts         Facts         linked id -> fact attributes
//	check-availability  Availability  linked id + region -> offers
//	generate-score      Scorer        facts -> validated LLM score
//
// Handlers load the subject work from the catalog, call providers through
// the registry (every provider owns its ratelimit.Caller), and write with
// fill-empty semantics unless the payload sets force. Manual values are never
// overwritten by a handler.
//
// BuildRegistry wires provider clients from configuration; NewHandlers
// returns the full handler set for a worker.
package enrich
