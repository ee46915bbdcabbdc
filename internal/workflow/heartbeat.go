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

// HeartbeatMonitor keeps claims fresh and returns abandoned claims to the queue.
type HeartbeatMonitor struct {
	store             *queue.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	claimTimeout      time.Duration
	now               func() time.Time
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		claimTimeout:      timeout,
		now:               time.Now,
	}
}

// ReclaimStale returns claims older than the claim timeout to pending.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context, logger *slog.Logger) (int64, error) {
	if h.claimTimeout <= 0 {
		return 0, nil
	}
	cutoff := h.now().Add(-h.claimTimeout)
	reclaimed, err := h.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		metrics.ClaimsReclaimed.Add(float64(reclaimed))
		logger.Info("reclaimed stale claims",
			logging.Int64("count", reclaimed),
			logging.Time("cutoff", cutoff),
			logging.String(logging.FieldEventType, "claims_reclaimed"),
		)
	}
	return reclaimed, nil
}

// StartLoop refreshes the task's heartbeat until ctx is cancelled. When the
// claim has been taken over, onLost is called and the loop exits.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, task *queue.Task, onLost func()) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, logging.NewComponentLogger(h.logger, "workflow-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.Heartbeat(ctx, task)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, queue.ErrLostClaim):
				logging.WarnWithContext(logger, "claim lost during execution; cancelling handler", "heartbeat_claim_lost",
					logging.String(logging.FieldErrorHint, "raise queue.claim_timeout_seconds or check for clock skew between workers"),
					logging.String(logging.FieldImpact, "task abandoned by this worker"),
				)
				if onLost != nil {
					onLost()
				}
				return
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
