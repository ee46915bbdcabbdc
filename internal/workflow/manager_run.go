package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"animeindex/internal/logging"
	"animeindex/internal/metrics"
	"animeindex/internal/queue"
)

// Run processes tasks on every lane until mode's stop condition holds, then
// returns what was processed. Claim errors end a lane in drain mode and are
// retried after workflow.error_retry_interval in daemon mode.
func (m *Manager) Run(ctx context.Context, mode Mode) (Summary, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return Summary{}, errors.New("workflow already running")
	}
	m.running = true
	m.summary = Summary{Outcomes: make(map[string]int)}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if err := m.runPreflightChecks(ctx, m.logger); err != nil {
		return Summary{}, err
	}

	start := time.Now()
	gate := newBudget(m.budget)
	m.logger.Info("worker started",
		logging.String("mode", mode.String()),
		logging.Int("lanes", len(m.lanes)),
		logging.Int("budget", m.budget),
		logging.String(logging.FieldEventType, "worker_start"),
	)

	errs := make([]error, len(m.lanes))
	var wg sync.WaitGroup
	for i, lane := range m.lanes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.runLane(ctx, lane, mode, gate)
		}()
	}
	wg.Wait()

	summary := m.snapshot()
	summary.Duration = time.Since(start)
	summary.BudgetSpent = gate.exhausted()
	m.logger.Info("worker stopped",
		logging.Int("processed", summary.Processed),
		logging.Bool("budget_spent", summary.BudgetSpent),
		logging.Duration("duration", summary.Duration),
		logging.String(logging.FieldEventType, "worker_stop"),
	)
	return summary, errors.Join(errs...)
}

func (m *Manager) runLane(ctx context.Context, lane *laneState, mode Mode, gate *budget) error {
	logger := lane.logger
	for {
		if ctx.Err() != nil {
			return nil
		}

		if lane.runReclaimer {
			if _, err := m.heartbeat.ReclaimStale(ctx, logger); err != nil && ctx.Err() == nil {
				logger.Warn("reclaim stale claims failed; stuck tasks may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}

		if !gate.take() {
			logger.Info("iteration budget spent", logging.String(logging.FieldEventType, "budget_spent"))
			return nil
		}
		task, err := m.store.Claim(ctx, lane.workerID, lane.kinds...)
		if err != nil {
			gate.release()
			if ctx.Err() != nil {
				return nil
			}
			m.handleClaimError(ctx, logger, err)
			if mode == ModeDrain {
				return err
			}
			continue
		}
		if task == nil {
			gate.release()
			if mode == ModeDrain {
				logger.Debug("queue drained for lane")
				return nil
			}
			m.waitForTaskOrShutdown(ctx)
			continue
		}

		metrics.TasksClaimed.WithLabelValues(lane.name, task.Kind).Inc()
		m.processTask(ctx, lane, task)
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim queue task",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.errorBackoff):
	}
}

func (m *Manager) waitForTaskOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) record(task *queue.Task, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary.Processed++
	if m.summary.Outcomes == nil {
		m.summary.Outcomes = make(map[string]int)
	}
	m.summary.Outcomes[result]++
	copy := *task
	m.lastTask = &copy
}

func (m *Manager) snapshot() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.summary
	out.Outcomes = make(map[string]int, len(m.summary.Outcomes))
	for k, v := range m.summary.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}

// budget is the process-level iteration cap shared by all lanes. A slot is
// taken before claiming and handed back when nothing was claimed.
type budget struct {
	mu    sync.Mutex
	limit int
	used  int
	hit   bool
}

func newBudget(limit int) *budget {
	return &budget{limit: limit}
}

func (b *budget) take() bool {
	if b.limit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		b.hit = true
		return false
	}
	b.used++
	return true
}

func (b *budget) release() {
	if b.limit <= 0 {
		return
	}
	b.mu.Lock()
	b.used--
	b.mu.Unlock()
}

func (b *budget) exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hit
}
