package workflow

import (
	"context"
	"log/slog"
	"strings"

	"animeindex/internal/logging"
	"animeindex/internal/queue"
	"animeindex/internal/services"
)

func (m *Manager) laneLogger(lane *laneState) *slog.Logger {
	if m.logger == nil {
		return logging.NewNop()
	}
	return m.logger.With(
		logging.String(logging.FieldComponent, "workflow-"+lane.name+"-runner"),
		logging.String(logging.FieldLane, lane.name),
		logging.String(logging.FieldWorkerID, lane.workerID),
		logging.String("kinds", strings.Join(lane.kinds, ",")),
	)
}

func withTaskContext(ctx context.Context, lane *laneState, task *queue.Task, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if task != nil {
		ctx = services.WithTaskID(ctx, task.ID)
		ctx = services.WithSubjectID(ctx, task.SubjectID)
		ctx = services.WithKind(ctx, task.Kind)
	}
	if lane != nil {
		ctx = services.WithWorkerID(ctx, lane.workerID)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}
