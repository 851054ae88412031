package workflow

import (
	"context"
	"log/slog"

	"tweetcast/internal/logging"
	"tweetcast/internal/preflight"
)

// RunPreflight logs the readiness of every collaborator and directory. Failed
// checks are reported, not fatal: the affected stage fails its jobs with a
// classified error instead.
func (m *Manager) RunPreflight(ctx context.Context) []preflight.Result {
	logger := m.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	results := preflight.RunAll(ctx, m.cfg)
	logPreflight(logger, results)
	return results
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range results {
		if r.Passed {
			logger.Info("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"),
			logging.String(logging.FieldImpact, "jobs depending on this check will fail"),
		)
	}
}
