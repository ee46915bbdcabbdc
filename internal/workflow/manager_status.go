package workflow

import (
	"context"

	"animeindex/internal/logging"
	"animeindex/internal/queue"
	"animeindex/internal/stage"
)

// LaneInfo describes one configured lane.
type LaneInfo struct {
	Name     string
	WorkerID string
	Kinds    []string
}

// StatusSummary represents lightweight worker diagnostics.
type StatusSummary struct {
	Running       bool
	LastError     string
	LastTask      *queue.Task
	Processed     Summary
	QueueStats    map[queue.Status]int
	HandlerHealth map[string]stage.Health
	Lanes         []LaneInfo
}

// Status returns the latest worker information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastTask := m.lastTask
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(m.handlers))
	for kind, handler := range m.handlers {
		health[kind] = handler.HealthCheck(ctx)
	}
	lanes := make([]LaneInfo, 0, len(m.lanes))
	for _, lane := range m.lanes {
		lanes = append(lanes, LaneInfo{Name: lane.name, WorkerID: lane.workerID, Kinds: append([]string(nil), lane.kinds...)})
	}

	summary := StatusSummary{
		Running:       running,
		Processed:     m.snapshot(),
		QueueStats:    stats,
		HandlerHealth: health,
		Lanes:         lanes,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastTask != nil {
		copy := *lastTask
		summary.LastTask = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
