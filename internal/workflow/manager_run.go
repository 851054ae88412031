package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
)

// Start launches one leasing loop per configured executor. Job contexts are
// detached from ctx so in-flight jobs survive until Shutdown decides
// otherwise.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.order) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	jobCtx, jobCancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.jobCtx = jobCtx
	m.jobCancel = jobCancel
	m.running = true

	executors := make([]*executor, 0, len(m.order))
	for _, jobType := range m.order {
		executors = append(executors, m.executors[jobType])
	}
	m.loops.Add(len(executors))
	m.mu.Unlock()

	if m.bus != nil {
		unsubscribe, err := m.bus.Subscribe(func(_ context.Context, event events.Event) {
			if jobType, err := pipeline.ParseType(event.JobType); err == nil {
				m.Notify(jobType)
			}
		}, events.JobQueued)
		if err != nil {
			logging.WarnWithContext(m.logger, "event bus subscription failed; executors fall back to polling", "bus_subscribe_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check events.nats_url connectivity"),
				logging.String(logging.FieldImpact, "jobs enqueued by other processes start after the poll interval"),
			)
		} else {
			m.mu.Lock()
			m.unsubscribe = unsubscribe
			m.mu.Unlock()
		}
	}

	for _, ex := range executors {
		ex.logger.Info("executor started",
			logging.String(logging.FieldEventType, "executor_start"),
			logging.Int("concurrency", ex.policy.Concurrency),
			logging.Int("max_attempts", ex.policy.MaxAttempts),
		)
		go m.runExecutor(runCtx, ex)
	}
	return nil
}

// Notify wakes the executor for jobType. Producers call it after enqueue.
func (m *Manager) Notify(jobType pipeline.JobType) {
	m.mu.RLock()
	ex := m.executors[jobType]
	m.mu.RUnlock()
	if ex != nil {
		ex.signal()
	}
}

// Shutdown stops leasing on every executor and waits for in-flight jobs until
// ctx is done. Jobs still running then are cancelled; their leases expire and
// are reclaimed on the next start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	jobCancel := m.jobCancel
	unsubscribe := m.unsubscribe
	m.running = false
	m.cancel = nil
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
	m.loops.Wait()

	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		jobCancel()
		return nil
	case <-ctx.Done():
		logging.WarnWithContext(m.logger, "shutdown timeout reached; cancelling in-flight jobs", "shutdown_timeout",
			logging.String(logging.FieldErrorHint, "raise workflow.shutdown_timeout if stages routinely need longer"),
			logging.String(logging.FieldImpact, "interrupted jobs are retried after their lease expires"),
		)
		jobCancel()
		<-drained
		return fmt.Errorf("workflow shutdown: %w", ctx.Err())
	}
}

// Stop shuts down with the configured shutdown timeout.
func (m *Manager) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout())
	defer cancel()
	_ = m.Shutdown(ctx)
}

func (m *Manager) runExecutor(ctx context.Context, ex *executor) {
	defer m.loops.Done()
	logger := ex.logger

	for {
		select {
		case ex.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		m.reclaimExpired(ctx, ex)

		job, err := m.store.Lease(ctx, ex.jobType, m.owner, m.cfg.LeaseTTL())
		if err != nil {
			<-ex.slots
			if ctx.Err() != nil {
				return
			}
			if m.handleLeaseError(ctx, ex, err) {
				return
			}
			continue
		}
		ex.storeFailures = 0
		if job == nil {
			<-ex.slots
			m.waitForWork(ctx, ex)
			continue
		}

		logger.Debug("job leased",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("attempt", job.Attempts),
			logging.Int("priority", job.Priority),
		)
		m.inflight.Add(1)
		ex.active.Add(1)
		go func() {
			defer func() {
				ex.active.Add(-1)
				<-ex.slots
				ex.signal()
				m.inflight.Done()
			}()
			m.processJob(ex, job)
		}()
	}
}

// handleLeaseError backs off after a store failure. It reports true once the
// consecutive failure limit is reached and the executor must stop.
func (m *Manager) handleLeaseError(ctx context.Context, ex *executor, err error) bool {
	m.setLastError(err)
	ex.storeFailures++
	ex.logger.Error("failed to lease next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_lease_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
		logging.Int("consecutive_failures", ex.storeFailures),
		logging.Int("failure_limit", m.failureLimit),
	)
	if ex.storeFailures >= m.failureLimit {
		fatal := fmt.Errorf("%s executor: %d consecutive store failures: %w", ex.jobType, ex.storeFailures, err)
		logging.ErrorWithContext(ex.logger, "executor giving up after repeated store failures", "executor_fatal",
			logging.Error(fatal),
			logging.Alert("executor_fatal"),
			logging.String(logging.FieldErrorHint, "inspect the queue database; the daemon will exit"),
		)
		m.reportFatal(fatal)
		return true
	}
	select {
	case <-ctx.Done():
	case <-time.After(m.retryDelay):
	}
	return false
}

func (m *Manager) waitForWork(ctx context.Context, ex *executor) {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-ex.wake:
	case <-timer.C:
	}
}
