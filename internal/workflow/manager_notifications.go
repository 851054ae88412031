package workflow

import (
	"context"
	"errors"
	"time"

	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/notifications"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
)

func (m *Manager) publish(ctx context.Context, eventType events.Type, job *queue.Job, mutate func(*events.Event)) {
	if m.bus == nil || job == nil {
		return
	}
	event := events.Event{
		Type:      eventType,
		JobID:     job.ID,
		JobType:   string(job.Type),
		PodcastID: podcastID(job),
		Attempts:  job.Attempts,
	}
	if eventType == events.JobCompleted {
		event.Result = job.Result
	}
	if mutate != nil {
		mutate(&event)
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "event publish failed", "event_publish_failed",
			logging.Error(err),
			logging.String("type", string(eventType)),
			logging.String(logging.FieldErrorHint, "check the event bus connection"),
			logging.String(logging.FieldImpact, "listeners miss this transition; the orchestrator sweep catches up"),
		)
	}
}

func (m *Manager) notifyJobFailed(ctx context.Context, job *queue.Job, jobErr error) {
	m.sendNotification(ctx, notifications.EventJobFailed, notifications.Payload{
		"jobId":   job.ID,
		"jobType": string(job.Type),
		"error":   jobErr,
	})
}

func (m *Manager) notifyPodcastCompleted(ctx context.Context, job *queue.Job, result any) {
	if job.Type != pipeline.AssemblePodcast {
		return
	}
	res, ok := result.(pipeline.AssemblePodcastResult)
	if !ok || res.AlreadyCompleted {
		return
	}
	payload, err := pipeline.Decode[pipeline.AssemblePodcastPayload](job.Payload)
	if err != nil {
		return
	}
	m.sendNotification(ctx, notifications.EventPodcastCompleted, notifications.Payload{
		"title":    payload.Metadata.Title,
		"audioUrl": res.AudioURL,
		"duration": time.Duration(res.Duration * float64(time.Second)),
	})
}

// onJobStarted announces the start of a busy period once per drain cycle.
func (m *Manager) onJobStarted(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	m.mu.Lock()
	if m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = true
	m.queueStart = time.Now()
	m.queueDone = 0
	m.queueFailed = 0
	m.mu.Unlock()

	counts, err := m.store.AllCounts(ctx)
	if err != nil {
		m.logStatsUnavailable(err, "start notification will not be sent")
		return
	}
	m.sendNotification(ctx, notifications.EventQueueStarted, notifications.Payload{"count": pendingWork(counts)})
}

// recordOutcome tallies a finished job and announces the end of the busy
// period once no work remains in any queue.
func (m *Manager) recordOutcome(ctx context.Context, failed bool) {
	if m.notifier == nil {
		return
	}
	m.mu.Lock()
	if failed {
		m.queueFailed++
	} else {
		m.queueDone++
	}
	m.mu.Unlock()

	counts, err := m.store.AllCounts(ctx)
	if err != nil {
		m.logStatsUnavailable(err, "completion notification will not be sent")
		return
	}
	if pendingWork(counts) > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	processed := m.queueDone
	failures := m.queueFailed
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	m.sendNotification(ctx, notifications.EventQueueCompleted, notifications.Payload{
		"processed": processed,
		"failed":    failures,
		"duration":  time.Since(start),
	})
}

func (m *Manager) sendNotification(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logger := logging.WithContext(ctx, m.logger)
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, notification skipped", logging.String("event", string(event)))
			return
		}
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

func (m *Manager) logStatsUnavailable(err error, impact string) {
	if errors.Is(err, context.Canceled) {
		m.logger.Debug("daemon shutting down, queue counts unavailable")
		return
	}
	logging.WarnWithContext(m.logger, "queue counts unavailable; notification skipped", "queue_stats_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
		logging.String(logging.FieldImpact, impact),
	)
}

func pendingWork(counts map[pipeline.JobType]queue.Counts) int {
	total := 0
	for _, c := range counts {
		total += c.Waiting + c.Active + c.Delayed
	}
	return total
}
