package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"tweetcast/internal/logging"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
)

func (m *Manager) executorLogger(ex *executor) *slog.Logger {
	return logging.NewComponentLogger(m.baseLogger, "workflow-"+ex.name+"-executor")
}

// jobLogger derives the per-job logger, applying a logging.component_levels
// override keyed by stage name when one is configured.
func (m *Manager) jobLogger(ctx context.Context, ex *executor) *slog.Logger {
	logger := logging.WithContext(ctx, ex.logger)
	if m.cfg != nil {
		if override := componentOverride(m.cfg.Logging.ComponentLevels, ex.name); override != "" {
			logger = logging.WithLevelOverride(logger, logging.ParseLevel(override))
		}
	}
	return logger
}

func componentOverride(overrides map[string]string, name string) string {
	if len(overrides) == 0 {
		return ""
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for key, value := range overrides {
		if strings.ToLower(strings.TrimSpace(key)) == name {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func withJobContext(ctx context.Context, ex *executor, job *queue.Job, requestID string) context.Context {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobType(ctx, string(job.Type))
	ctx = services.WithStage(ctx, ex.name)
	if id := podcastID(job); id > 0 {
		ctx = services.WithPodcastID(ctx, id)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}

// podcastID reads the podcast id every payload carries.
func podcastID(job *queue.Job) int64 {
	if job == nil || len(job.Payload) == 0 {
		return 0
	}
	var probe struct {
		PodcastID int64 `json:"podcastId"`
	}
	if err := json.Unmarshal(job.Payload, &probe); err != nil {
		return 0
	}
	return probe.PodcastID
}
