package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"animeindex/internal/logging"
	"animeindex/internal/services"
)

// runPreflightChecks asks every handler a lane depends on for its health.
// Missing credentials or providers are fatal at startup rather than failing
// each task later.
func (m *Manager) runPreflightChecks(ctx context.Context, logger *slog.Logger) error {
	seen := make(map[string]bool)
	var failures []string
	for _, lane := range m.lanes {
		for _, kind := range lane.kinds {
			if seen[kind] {
				continue
			}
			seen[kind] = true
			health := m.handlers[kind].HealthCheck(ctx)
			if health.Ready {
				logger.Debug("preflight check passed",
					logging.String(logging.FieldKind, kind),
					logging.String(logging.FieldEventType, "preflight_passed"),
				)
				continue
			}
			logger.Error("preflight check failed",
				logging.String(logging.FieldKind, kind),
				logging.String("detail", health.Detail),
				logging.String(logging.FieldEventType, "preflight_failed"),
				logging.String(logging.FieldErrorHint, "fix the reported issue or remove the kind from the lane, then restart the worker"),
			)
			failures = append(failures, fmt.Sprintf("%s: %s", kind, health.Detail))
		}
	}
	if len(failures) > 0 {
		return services.Wrap(services.ErrConfiguration, "workflow", "preflight", strings.Join(failures, "; "), nil)
	}
	return nil
}
