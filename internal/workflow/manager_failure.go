package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
)

// handleJobFailure resolves a failed attempt: the job is delayed per the
// type's backoff while attempts remain, otherwise it fails permanently with
// an ExhaustedError.
func (m *Manager) handleJobFailure(ctx context.Context, ex *executor, logger *slog.Logger, job *queue.Job, stageErr error) {
	if errors.Is(stageErr, queue.ErrLeaseLost) {
		m.logLostLease(logger, "execute")
		return
	}
	if ctx.Err() != nil && errors.Is(stageErr, context.Canceled) {
		logger.Info("job interrupted by shutdown; lease left to expire",
			logging.String(logging.FieldEventType, "job_interrupted"),
			logging.Int("attempt", job.Attempts),
		)
		return
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = ex.policy.MaxAttempts
	}
	kind := services.Kind(stageErr)

	if job.Attempts < maxAttempts {
		delay := ex.policy.Delay(job.Attempts)
		runAt := m.store.Now().Add(delay)
		reason := failureReason(stageErr)
		if err := m.store.Retry(ctx, job.ID, m.owner, reason, runAt); err != nil {
			m.persistFailureError(logger, err)
			return
		}
		logging.WarnWithContext(logger, "job attempt failed; retry scheduled", "job_retry",
			logging.Error(stageErr),
			logging.String(logging.FieldErrorKind, kind),
			logging.Int("attempt", job.Attempts),
			logging.Int("max_attempts", maxAttempts),
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldErrorHint, hintFor(kind)),
			logging.String(logging.FieldImpact, "job is delayed and will run again"),
		)
		m.setLastError(stageErr)
		m.publish(ctx, events.JobRetrying, job, func(e *events.Event) {
			e.Error = reason
			e.ErrorKind = kind
		})
		return
	}

	exhausted := &services.ExhaustedError{
		JobID:    job.ID,
		JobType:  string(job.Type),
		Attempts: job.Attempts,
		Cause:    stageErr,
	}
	reason := failureReason(exhausted)
	if err := m.store.Fail(ctx, job.ID, m.owner, reason); err != nil {
		m.persistFailureError(logger, err)
		return
	}
	m.trim(ctx, ex, logger, queue.StateFailed, ex.policy.KeepFailed)

	logging.ErrorWithContext(logger, "job failed permanently", "job_failed",
		logging.Error(exhausted),
		logging.String(logging.FieldErrorKind, kind),
		logging.Int("attempts", job.Attempts),
		logging.Alert("job_failure"),
		logging.String(logging.FieldErrorHint, hintFor(kind)),
	)
	m.setLastError(exhausted)
	failed := *job
	failed.State = queue.StateFailed
	failed.FailureReason = reason
	m.setLastJob(&failed)
	m.publish(ctx, events.JobFailed, &failed, func(e *events.Event) {
		e.Error = reason
		e.ErrorKind = services.KindExhausted
	})
	m.notifyJobFailed(ctx, job, exhausted)
	m.recordOutcome(ctx, true)
}

func (m *Manager) persistFailureError(logger *slog.Logger, err error) {
	if errors.Is(err, queue.ErrLeaseLost) {
		m.logLostLease(logger, "resolve failure")
		return
	}
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to persist job failure", "job_failure_persist_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access; the job is retried after its lease expires"),
	)
}

// failureReason prefixes the error message with its classification.
func failureReason(err error) string {
	if err == nil {
		return services.KindInternal + ": failed without error detail"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = "failed without error detail"
	}
	return fmt.Sprintf("%s: %s", services.Kind(err), message)
}

func hintFor(kind string) string {
	switch kind {
	case services.KindValidation:
		return "payload was rejected; enqueue a corrected job"
	case services.KindNotFound:
		return "referenced podcast, user or tweet is missing from the repository"
	case services.KindCollaborator:
		return "external service failed; check its status and credentials"
	case services.KindConfiguration:
		return "fix the collaborator settings in config.toml and restart"
	default:
		return "inspect the job failure reason and daemon log"
	}
}
