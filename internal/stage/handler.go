package stage

import (
	"context"

	"animeindex/internal/queue"
)

// Handler describes the contract the worker needs from each task kind.
//
// Execute returns the outcome recorded on the completed task. A returned
// error is classified by the worker: transient errors are retried with
// backoff, everything else fails the task or closes it with an outcome.
type Handler interface {
	Kind() string
	Execute(context.Context, *queue.Task) (string, error)
	HealthCheck(context.Context) Health
}
