package workflow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/queue"
	"animeindex/internal/stage"
)

// Manager coordinates queue processing using registered task handlers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	pollInterval time.Duration
	errorBackoff time.Duration
	budget       int
	now          func() time.Time

	heartbeat *HeartbeatMonitor
	handlers  map[string]stage.Handler
	lanes     []*laneState

	mu       sync.RWMutex
	running  bool
	lastErr  error
	lastTask *queue.Task
	summary  Summary
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithLanes replaces the configured lanes.
func WithLanes(lanes []config.Lane) Option {
	return func(m *Manager) {
		m.lanes = buildLanes(lanes)
	}
}

// WithBudget caps the number of tasks one Run processes. Zero means no cap.
func WithBudget(budget int) Option {
	return func(m *Manager) {
		m.budget = budget
	}
}

// WithPollInterval overrides the idle poll interval used in daemon mode.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = interval
	}
}

// WithClock overrides the clock used for stale-claim cutoffs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a worker manager. Every kind claimed by a lane must
// have a handler.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, handlers []stage.Handler, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		pollInterval: cfg.PollInterval(),
		errorBackoff: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		budget:       cfg.Workflow.IterationBudget,
		now:          time.Now,
		handlers:     make(map[string]stage.Handler, len(handlers)),
		lanes:        buildLanes(cfg.Workflow.Lanes),
	}
	for _, handler := range handlers {
		if handler != nil {
			m.handlers[handler.Kind()] = handler
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.lanes) == 0 {
		return nil, fmt.Errorf("workflow: no lanes configured")
	}
	for _, lane := range m.lanes {
		for _, kind := range lane.kinds {
			if _, ok := m.handlers[kind]; !ok {
				return nil, fmt.Errorf("workflow: lane %q claims %s but no handler is registered", lane.name, kind)
			}
		}
		lane.logger = m.laneLogger(lane)
	}
	m.heartbeat = NewHeartbeatMonitor(store, logger, cfg.HeartbeatInterval(), cfg.ClaimTimeout())
	m.heartbeat.now = m.now
	return m, nil
}
