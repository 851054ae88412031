package workflow

import (
	"context"

	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/stage"
)

// ExecutorStatus describes one executor.
type ExecutorStatus struct {
	Type        pipeline.JobType `json:"type"`
	Stage       string           `json:"stage"`
	Concurrency int              `json:"concurrency"`
	Active      int              `json:"active"`
	Paused      bool             `json:"paused"`
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                              `json:"running"`
	Owner       string                            `json:"owner"`
	LastError   string                            `json:"lastError,omitempty"`
	LastJob     *queue.Job                        `json:"-"`
	Executors   []ExecutorStatus                  `json:"executors"`
	QueueStats  map[pipeline.JobType]queue.Counts `json:"queueStats"`
	StageHealth map[string]stage.Health           `json:"stageHealth"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastJob := m.lastJob
	executors := make([]*executor, 0, len(m.order))
	for _, jobType := range m.order {
		executors = append(executors, m.executors[jobType])
	}
	m.mu.RUnlock()

	stats, err := m.store.AllCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_stats_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "status omits queue counts"),
		)
	}
	paused, err := m.store.PausedTypes(ctx)
	if err != nil {
		m.logger.Debug("paused types unavailable", logging.Error(err))
	}

	summary := StatusSummary{
		Running:     running,
		Owner:       m.owner,
		QueueStats:  stats,
		StageHealth: make(map[string]stage.Health, len(executors)),
	}
	for _, ex := range executors {
		summary.Executors = append(summary.Executors, ExecutorStatus{
			Type:        ex.jobType,
			Stage:       ex.name,
			Concurrency: ex.policy.Concurrency,
			Active:      int(ex.active.Load()),
			Paused:      containsType(paused, ex.jobType),
		})
		summary.StageHealth[ex.name] = ex.handler.HealthCheck(ctx)
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		copy := *lastJob
		summary.LastJob = &copy
	}
	return summary
}

func containsType(types []pipeline.JobType, target pipeline.JobType) bool {
	for _, t := range types {
		if t == target {
			return true
		}
	}
	return false
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *queue.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
