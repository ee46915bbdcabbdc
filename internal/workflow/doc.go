// Package workflow runs the worker loop that drains the task queue.
//
// The Manager runs one goroutine per configured lane. Each lane owns a worker
// id and a kind filter; per iteration it reclaims stale claims, claims one
// task, dispatches it to the stage.Handler registered for the task's kind
// while a heartbeat keeps the claim fresh, then completes or fails the task
// according to the error taxonomy in internal/services:
//
//	none       -> complete with the handler's outcome
//	transient  -> fail with backoff (failed once attempts reach the ceiling)
//	ambiguous  -> complete as deferred / not_found
//	malformed  -> complete as malformed
//	conflict   -> complete as duplicate
//	fatal      -> fail permanently
//
// A failing task never stops a lane. Drain mode returns once every lane finds
// the queue empty; daemon mode polls until the context is cancelled. Either
// mode stops when the iteration budget is spent.
package workflow
