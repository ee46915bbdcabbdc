package stage

import (
	"fmt"
	"strings"

	"animeindex/internal/queue"
	"animeindex/internal/services"
)

// DecodePayload parses a task payload into T.
// On failure it returns a services.ErrValidation so the task fails without
// further attempts.
func DecodePayload[T any](task *queue.Task) (T, error) {
	var payload T
	if task == nil {
		return payload, services.Wrap(services.ErrValidation, "stage", "decode payload", "task missing", nil)
	}
	if err := task.DecodePayload(&payload); err != nil {
		return payload, services.Wrap(
			services.ErrValidation, task.Kind, "decode payload",
			fmt.Sprintf("payload %s is not valid for this task kind; re-enqueue with a corrected payload", strings.TrimSpace(task.PayloadJSON)), err)
	}
	return payload, nil
}
