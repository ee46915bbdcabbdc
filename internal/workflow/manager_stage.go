package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"animeindex/internal/logging"
	"animeindex/internal/queue"
	"animeindex/internal/services"
	"animeindex/internal/stage"
)

func (m *Manager) processTask(ctx context.Context, lane *laneState, task *queue.Task) {
	requestID := uuid.NewString()
	taskCtx := withTaskContext(ctx, lane, task, requestID)
	logger := logging.WithContext(taskCtx, lane.logger)

	handler, ok := m.handlers[task.Kind]
	if !ok {
		err := services.Wrap(services.ErrConfiguration, "workflow", "dispatch",
			fmt.Sprintf("no handler registered for kind %q", task.Kind), nil)
		m.finish(taskCtx, logger, task, "", err, 0)
		return
	}

	logger.Info("task started",
		logging.String(logging.FieldEventType, "task_start"),
		logging.Int("attempts", task.Attempts),
		logging.Int("priority", task.Priority),
		logging.String("payload", task.PayloadJSON),
	)
	start := time.Now()
	outcome, err := m.executeWithHeartbeat(taskCtx, handler, task)
	m.finish(taskCtx, logger, task, outcome, err, time.Since(start))
}

// executeWithHeartbeat runs the handler while a heartbeat refreshes the
// claim. Losing the claim cancels the handler. A handler panic is returned as
// an error so the lane keeps running.
func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, task *queue.Task) (outcome string, err error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbCtx, hbCancel := context.WithCancel(execCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, task, cancel)
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	defer func() {
		if r := recover(); r != nil {
			outcome = ""
			err = fmt.Errorf("%s handler panic: %v", task.Kind, r)
		}
	}()
	return handler.Execute(execCtx, task)
}
