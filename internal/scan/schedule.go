package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"animeindex/internal/logging"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression or descriptor such as "@every 6h".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("schedule is empty")
	}
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// Schedule runs a scan on every tick of expr until ctx is cancelled. Ticks
// that arrive while a scan is still running are skipped.
func (s *Scanner) Schedule(ctx context.Context, expr string) error {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	runner := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	runner.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.Run(ctx); err != nil {
			if errors.Is(err, ErrLocked) {
				s.logger.Info("scan skipped; another scan holds the lock",
					logging.String(logging.FieldEventType, "scan_locked"))
				return
			}
			if ctx.Err() != nil {
				return
			}
			logging.WarnWithContext(s.logger, "scan failed", "scan_failed",
				logging.String(logging.FieldErrorHint, "check catalog and queue database health"),
				logging.Error(err),
			)
		}
	}))

	s.logger.Info("scan scheduler started",
		logging.String("schedule", expr),
		logging.Time("next_run", schedule.Next(time.Now())),
	)
	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()
	s.logger.Info("scan scheduler stopped")
	return nil
}
