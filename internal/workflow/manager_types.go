package workflow

import (
	"log/slog"
	"time"
)

// Mode selects how lanes react to an empty queue.
type Mode int

const (
	// ModeDrain stops a lane when it finds no claimable task.
	ModeDrain Mode = iota
	// ModeDaemon polls until the context is cancelled.
	ModeDaemon
)

func (m Mode) String() string {
	if m == ModeDaemon {
		return "daemon"
	}
	return "drain"
}

type laneState struct {
	name         string
	kinds        []string
	workerID     string
	logger       *slog.Logger
	runReclaimer bool
}

// Summary reports what a Run processed.
type Summary struct {
	Processed int
	// Outcomes counts finished tasks by outcome; retried and failed tasks
	// are counted under "retry" and "failed".
	Outcomes map[string]int
	Duration time.Duration
	// BudgetSpent reports whether the iteration budget stopped the run.
	BudgetSpent bool
}

const (
	resultRetry  = "retry"
	resultFailed = "failed"
)
