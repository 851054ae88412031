package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
)

// HeartbeatMonitor extends leases for running jobs and reclaims leases that
// stopped being extended.
type HeartbeatMonitor struct {
	store             *queue.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	leaseTTL          time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, ttl time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &HeartbeatMonitor{
		store:             store,
		logger:            logging.NewComponentLogger(logger, "workflow-heartbeat"),
		heartbeatInterval: interval,
		leaseTTL:          ttl,
	}
}

// ReclaimExpired returns expired active jobs of jobType to waiting, or fails
// them when their attempts are used up.
func (h *HeartbeatMonitor) ReclaimExpired(ctx context.Context, logger *slog.Logger, jobType pipeline.JobType) (queue.ReclaimResult, error) {
	result, err := h.store.ReclaimExpiredLeases(ctx, jobType)
	if err != nil {
		return result, err
	}
	if n := len(result.Requeued) + len(result.Failed); n > 0 {
		logger.Info("reclaimed expired leases",
			logging.String(logging.FieldEventType, "lease_reclaimed"),
			logging.Int("requeued", len(result.Requeued)),
			logging.Int("failed", len(result.Failed)),
		)
	}
	return result, nil
}

// StartLoop extends the lease on jobID every heartbeat interval until ctx is
// cancelled. When the lease turns out to be lost it calls onLost and returns.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID, owner string, onLost func()) {
	defer wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.ExtendLease(ctx, jobID, owner, h.leaseTTL)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrLeaseLost):
				logging.WarnWithContext(logger, "job lease lost; abandoning run", "lease_lost",
					logging.String(logging.FieldErrorHint, "stage ran longer than workflow.lease_timeout without a heartbeat"),
					logging.String(logging.FieldImpact, "another executor owns the job; this result is discarded"),
				)
				if onLost != nil {
					onLost()
				}
				return
			case errors.Is(err, context.Canceled):
				logger.Debug("heartbeat update cancelled")
			default:
				logging.WarnWithContext(logger, "heartbeat update failed", "heartbeat_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
					logging.String(logging.FieldImpact, "lease may expire and the job be retried"),
				)
			}
		}
	}
}

// reclaimExpired runs the reclaimer for ex at most once per heartbeat interval.
func (m *Manager) reclaimExpired(ctx context.Context, ex *executor) {
	now := time.Now()
	if !ex.lastReclaim.IsZero() && now.Sub(ex.lastReclaim) < m.heartbeat.heartbeatInterval {
		return
	}
	ex.lastReclaim = now

	result, err := m.heartbeat.ReclaimExpired(ctx, ex.logger, ex.jobType)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(ex.logger, "reclaim expired leases failed; stuck jobs may remain", "lease_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "orphaned jobs stay active until the next sweep"),
			)
		}
		return
	}
	for _, id := range result.Failed {
		job, err := m.store.Get(ctx, id)
		if err != nil || job == nil {
			continue
		}
		m.publish(ctx, events.JobFailed, job, func(e *events.Event) {
			e.Error = queue.LeaseExpiredReason
			e.ErrorKind = services.KindExhausted
		})
	}
}
