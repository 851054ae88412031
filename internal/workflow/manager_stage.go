package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/stage"
)

// errPanic marks a recovered stage panic.
var errPanic = errors.New("stage panicked")

func (m *Manager) processJob(ex *executor, job *queue.Job) {
	requestID := uuid.NewString()
	ctx := withJobContext(m.jobContext(), ex, job, requestID)
	logger := m.jobLogger(ctx, ex)
	start := time.Now()

	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.Int("attempt", job.Attempts),
		logging.Int("max_attempts", job.MaxAttempts),
		logging.Int("priority", job.Priority),
	)
	m.setLastJob(job)
	m.publish(ctx, events.JobActive, job, nil)
	m.onJobStarted(ctx)

	result, err := m.executeWithHeartbeat(ctx, ex, job, logger)
	if err != nil {
		m.handleJobFailure(ctx, ex, logger, job, err)
		return
	}
	m.completeJob(ctx, ex, logger, job, result, start)
}

// executeWithHeartbeat runs the handler while a heartbeat keeps the lease
// alive. A lost lease cancels the stage context with queue.ErrLeaseLost as
// its cause.
func (m *Manager) executeWithHeartbeat(ctx context.Context, ex *executor, job *queue.Job, logger *slog.Logger) (result any, err error) {
	stageCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	hbCtx, hbCancel := context.WithCancel(stageCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID, m.owner, func() { cancel(queue.ErrLeaseLost) })
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	reporter := stage.NewReporter(func(ctx context.Context, percent int) error {
		return m.store.UpdateProgress(ctx, job.ID, m.owner, percent)
	})

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("stage panic recovered",
				logging.String(logging.FieldEventType, "stage_panic"),
				logging.Any("panic", recovered),
				logging.String("stack", string(debug.Stack())),
				logging.Alert("stage_panic"),
			)
			result = nil
			err = fmt.Errorf("%w: %s: %v", errPanic, ex.name, recovered)
		}
	}()

	result, err = ex.handler.Execute(stageCtx, job, reporter)
	if cause := context.Cause(stageCtx); errors.Is(cause, queue.ErrLeaseLost) {
		return nil, cause
	}
	return result, err
}

func (m *Manager) completeJob(ctx context.Context, ex *executor, logger *slog.Logger, job *queue.Job, result any, start time.Time) {
	encoded, err := pipeline.Encode(result)
	if err != nil {
		m.handleJobFailure(ctx, ex, logger, job, fmt.Errorf("encode %s result: %w", job.Type, err))
		return
	}
	if err := m.store.Complete(ctx, job.ID, m.owner, encoded); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			m.logLostLease(logger, "complete")
			return
		}
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to persist job result", "job_complete_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access; the job is retried after its lease expires"),
		)
		return
	}

	m.trim(ctx, ex, logger, queue.StateCompleted, ex.policy.KeepCompleted)

	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Int("attempt", job.Attempts),
		logging.Duration("job_duration", time.Since(start)),
	)
	completed := *job
	completed.State = queue.StateCompleted
	completed.Progress = 100
	completed.Result = encoded
	m.setLastJob(&completed)
	m.publish(ctx, events.JobCompleted, &completed, nil)
	m.notifyPodcastCompleted(ctx, job, result)
	m.recordOutcome(ctx, false)
}

func (m *Manager) trim(ctx context.Context, ex *executor, logger *slog.Logger, state queue.State, keep int) {
	removed, err := m.store.Trim(ctx, ex.jobType, state, keep)
	if err != nil {
		logging.WarnWithContext(logger, "retention trim failed", "retention_trim_failed",
			logging.Error(err),
			logging.String("state", string(state)),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "old terminal jobs stay until the next trim"),
		)
		return
	}
	if removed > 0 {
		logger.Debug("trimmed terminal jobs",
			logging.String("state", string(state)),
			logging.Int64("removed", removed),
			logging.Int("keep", keep),
		)
	}
}

func (m *Manager) logLostLease(logger *slog.Logger, operation string) {
	logging.WarnWithContext(logger, "job lease lost; result abandoned", "lease_lost",
		logging.String("operation", operation),
		logging.String(logging.FieldErrorHint, "raise workflow.lease_timeout if stages outlive their heartbeat"),
		logging.String(logging.FieldImpact, "the job belongs to the executor that re-leased it"),
	)
}

func (m *Manager) jobContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.jobCtx == nil {
		return context.Background()
	}
	return m.jobCtx
}
