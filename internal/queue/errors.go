package queue

import "errors"

// ErrLostClaim is returned when a task transition is attempted by a worker
// that no longer holds the claim (the task was reclaimed or already closed).
var ErrLostClaim = errors.New("task claim no longer held")

// ErrUnknownKind is returned when enqueueing a kind no worker can run.
var ErrUnknownKind = errors.New("unknown task kind")
