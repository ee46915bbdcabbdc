package logging

import (
	"context"
	"log/slog"

	"animeindex/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldTaskID is the standardized key for queue task identifiers.
	FieldTaskID = "task_id"
	// FieldKind is the standardized key for task kinds.
	FieldKind = "kind"
	// FieldSubjectID is the standardized key for canonical work identifiers.
	FieldSubjectID = "subject_id"
	// FieldWorkerID is the standardized key for the claiming worker.
	FieldWorkerID = "worker_id"
	// FieldLane names the worker lane inside a process.
	FieldLane = "lane"
	// FieldProvider names the external source being called.
	FieldProvider = "provider"
	// FieldOutcome is the final outcome recorded for a task.
	FieldOutcome = "outcome"
	// FieldErrorCategory is the taxonomy bucket of a failure.
	FieldErrorCategory = "error_category"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags log lines with a stable machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for warnings and errors.
	FieldErrorHint = "error_hint"

	FieldDecisionType   = "decision_type"
	FieldDecisionResult = "decision_result"
	FieldDecisionReason = "decision_reason"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.TaskIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldTaskID, id))
	}
	if kind, ok := services.KindFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldKind, kind))
	}
	if subject, ok := services.SubjectIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldSubjectID, subject))
	}
	if worker, ok := services.WorkerIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorkerID, worker))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
