package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"animeindex/internal/logging"
	"animeindex/internal/metrics"
	"animeindex/internal/queue"
	"animeindex/internal/services"
)

// finish records the task result in the queue. Writes use a context detached
// from cancellation so a result computed just before shutdown is not lost.
func (m *Manager) finish(ctx context.Context, logger *slog.Logger, task *queue.Task, outcome string, execErr error, elapsed time.Duration) {
	category := services.Classify(execErr)
	if execErr != nil && (category == services.CategoryNone || ctx.Err() != nil) {
		logger.Info("task interrupted; claim left for reclaim",
			logging.String(logging.FieldEventType, "task_interrupted"),
			logging.Error(execErr),
		)
		return
	}

	writeCtx := context.WithoutCancel(ctx)
	result := outcome
	var err error
	switch category {
	case services.CategoryNone:
		err = m.store.Complete(writeCtx, task, outcome)
	case services.CategoryTransient:
		var status queue.Status
		status, err = m.store.Fail(writeCtx, task, failureMessage(execErr))
		result = resultRetry
		if status == queue.StatusFailed {
			result = resultFailed
		}
	case services.CategoryAmbiguous:
		result = queue.OutcomeDeferred
		if errors.Is(execErr, services.ErrNotFound) {
			result = queue.OutcomeNotFound
		}
		err = m.store.Complete(writeCtx, task, result)
	case services.CategoryMalformed:
		result = queue.OutcomeMalformed
		err = m.store.Complete(writeCtx, task, result)
	case services.CategoryConflict:
		result = queue.OutcomeDuplicate
		err = m.store.Complete(writeCtx, task, result)
	default:
		result = resultFailed
		err = m.store.FailPermanently(writeCtx, task, failureMessage(execErr))
	}
	if err != nil {
		m.setLastError(err)
		if errors.Is(err, queue.ErrLostClaim) {
			logging.WarnWithContext(logger, "claim lost before the result was recorded", "task_claim_lost",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "raise queue.claim_timeout_seconds if handlers run longer than the claim timeout"),
				logging.String(logging.FieldImpact, "result discarded; the task runs again under its new claim"),
			)
			return
		}
		logging.ErrorWithContext(logger, "failed to record task result", "task_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return
	}

	metrics.RecordTask(task.Kind, result, string(category), elapsed)
	m.record(task, result)

	attrs := append(logging.OutcomeAttrs(task.SubjectID, task.Kind, result, string(category)),
		logging.Duration("task_duration", elapsed),
		logging.Int("attempts", task.Attempts),
	)
	switch {
	case execErr == nil:
		attrs = append(attrs, logging.String(logging.FieldEventType, "task_complete"))
		logger.Info("task completed", logging.Args(attrs...)...)
	case result == resultRetry:
		attrs = append(attrs,
			logging.Error(execErr),
			logging.Time("available_at", task.AvailableAt),
			logging.String(logging.FieldErrorHint, "the task is retried automatically after backoff"),
			logging.String(logging.FieldImpact, "task delayed"),
		)
		logging.WarnWithContext(logger, "task failed; retry scheduled", "task_retry", attrs...)
	case result == resultFailed:
		attrs = append(attrs, logging.Error(execErr))
		hint := "inspect the error, fix the cause and run 'animeindex queue retry'"
		if category == services.CategoryFatal {
			hint = "fix configuration or payload; fatal errors are not retried"
		}
		attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
		logging.ErrorWithContext(logger, "task failed", "task_failed", attrs...)
	default:
		attrs = append(attrs,
			logging.Error(execErr),
			logging.String(logging.FieldEventType, "task_closed"),
		)
		logger.Info("task closed without result", logging.Args(attrs...)...)
	}
}

func failureMessage(err error) string {
	if err == nil {
		return "failed without error detail"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "failed without error detail"
	}
	return message
}
