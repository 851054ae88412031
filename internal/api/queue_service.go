package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
)

// CleanLimit caps how many jobs of each terminal state one Clean call removes.
const CleanLimit = 1000

// DefaultCleanGrace is used when callers do not pass a grace period.
const DefaultCleanGrace = 24 * time.Hour

// JobStore abstracts the queue persistence the producer side needs.
type JobStore interface {
	Insert(ctx context.Context, spec queue.NewJob) (*queue.Job, bool, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	Counts(ctx context.Context, jobType pipeline.JobType) (queue.Counts, error)
	AllCounts(ctx context.Context) (map[pipeline.JobType]queue.Counts, error)
	Pause(ctx context.Context, jobType pipeline.JobType) error
	Resume(ctx context.Context, jobType pipeline.JobType) error
	IsPaused(ctx context.Context, jobType pipeline.JobType) (bool, error)
	PausedTypes(ctx context.Context) ([]pipeline.JobType, error)
	Clean(ctx context.Context, jobType pipeline.JobType, cutoff time.Time, limit int) ([]string, error)
	Now() time.Time
	Close() error
}

// Workers is the executor side that QueueService wakes and drains.
type Workers interface {
	Notify(jobType pipeline.JobType)
	Shutdown(ctx context.Context) error
}

// EnqueueOptions tunes a single enqueue.
type EnqueueOptions struct {
	// Priority overrides the type's default priority when set.
	Priority *int
	// DedupeKey returns the existing live job with the same key instead of
	// inserting another.
	DedupeKey string
}

// QueueService exposes producer operations returning API DTOs.
type QueueService struct {
	store   JobStore
	workers Workers
	bus     events.Bus
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option customizes a QueueService.
type Option func(*QueueService)

// WithWorkers lets Enqueue wake the matching executor and CloseAll drain it.
func WithWorkers(workers Workers) Option {
	return func(s *QueueService) { s.workers = workers }
}

// WithBus publishes job.queued for every new job.
func WithBus(bus events.Bus) Option {
	return func(s *QueueService) { s.bus = bus }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *QueueService) { s.logger = logger }
}

// NewQueueService constructs a QueueService around the provided store.
func NewQueueService(store JobStore, opts ...Option) *QueueService {
	if store == nil {
		return nil
	}
	svc := &QueueService{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = logging.NewComponentLogger(svc.logger, "queue-service")
	return svc
}

// Enqueue validates payload against the type's schema and stores a waiting
// job. Nothing is written when validation fails.
func (s *QueueService) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts EnqueueOptions) (JobHandle, error) {
	t, err := pipeline.ParseType(jobType)
	if err != nil {
		return JobHandle{}, err
	}
	decoded, err := pipeline.DecodePayload(t, payload)
	if err != nil {
		return JobHandle{}, err
	}
	policy, ok := pipeline.PolicyFor(t)
	if !ok {
		return JobHandle{}, services.Wrap(services.ErrConfiguration, "queue", "enqueue", "no policy for "+string(t), nil)
	}
	priority := int(policy.DefaultPriority)
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return JobHandle{}, services.NewValidationError(string(t)+" payload", []string{"malformed JSON: " + err.Error()})
	}

	job, created, err := s.store.Insert(ctx, queue.NewJob{
		Type:        t,
		Priority:    priority,
		Payload:     compact.Bytes(),
		MaxAttempts: policy.MaxAttempts,
		DedupeKey:   strings.TrimSpace(opts.DedupeKey),
	})
	if err != nil {
		return JobHandle{}, fmt.Errorf("enqueue %s: %w", t, err)
	}

	logger := s.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobType, string(t)),
		logging.Int64(logging.FieldPodcastID, decoded.Podcast()),
	)
	if !created {
		logger.Info("dedupe key matched live job",
			logging.String(logging.FieldEventType, "job_enqueue_deduped"),
			logging.String("dedupe_key", opts.DedupeKey),
			logging.String("state", string(job.State)),
		)
		return NewHandle(job, true), nil
	}
	logger.Info("job enqueued",
		logging.String(logging.FieldEventType, "job_enqueued"),
		logging.Int("priority", priority),
	)
	if s.workers != nil {
		s.workers.Notify(t)
	}
	if s.bus != nil {
		event := events.Event{
			Type:      events.JobQueued,
			JobID:     job.ID,
			JobType:   string(t),
			PodcastID: decoded.Podcast(),
			Timestamp: job.CreatedAt,
		}
		if err := s.bus.Publish(ctx, event); err != nil {
			logging.WarnWithContext(logger, "job.queued publish failed", "event_publish_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the event bus connection"),
				logging.String(logging.FieldImpact, "remote executors wake on their poll interval instead"),
			)
		}
	}
	return NewHandle(job, false), nil
}

// GetJob returns one job. A job stored under a different type is reported as
// missing.
func (s *QueueService) GetJob(ctx context.Context, jobType, id string) (JobView, error) {
	t, err := pipeline.ParseType(jobType)
	if err != nil {
		return JobView{}, err
	}
	id = strings.TrimSpace(id)
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return JobView{}, fmt.Errorf("get job: %w", err)
	}
	if job == nil || job.Type != t {
		return JobView{}, services.NotFound("queue", string(t)+" job", id)
	}
	return FromJob(job, s.store.Now()), nil
}

// Counts returns the state breakdown for one type.
func (s *QueueService) Counts(ctx context.Context, jobType string) (QueueCounts, error) {
	t, err := pipeline.ParseType(jobType)
	if err != nil {
		return QueueCounts{}, err
	}
	counts, err := s.store.Counts(ctx, t)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("count %s jobs: %w", t, err)
	}
	paused, err := s.store.IsPaused(ctx, t)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("read pause flag: %w", err)
	}
	return FromCounts(t, counts, paused), nil
}

// AllCounts returns the state breakdown for every type in pipeline order.
func (s *QueueService) AllCounts(ctx context.Context) (QueueStatsResponse, error) {
	counts, err := s.store.AllCounts(ctx)
	if err != nil {
		return QueueStatsResponse{}, fmt.Errorf("count jobs: %w", err)
	}
	paused, err := s.store.PausedTypes(ctx)
	if err != nil {
		return QueueStatsResponse{}, fmt.Errorf("read pause flags: %w", err)
	}
	return QueueStatsResponse{Queues: CountsSlice(counts, paused)}, nil
}

// Pause stops new leases for jobType on every executor sharing the store.
func (s *QueueService) Pause(ctx context.Context, jobType string) error {
	t, err := pipeline.ParseType(jobType)
	if err != nil {
		return err
	}
	if err := s.store.Pause(ctx, t); err != nil {
		return fmt.Errorf("pause %s: %w", t, err)
	}
	s.logger.Info("queue paused",
		logging.String(logging.FieldEventType, "queue_paused"),
		logging.String(logging.FieldJobType, string(t)),
	)
	return nil
}

// Resume clears the pause flag and wakes the executor.
func (s *QueueService) Resume(ctx context.Context, jobType string) error {
	t, err := pipeline.ParseType(jobType)
	if err != nil {
		return err
	}
	if err := s.store.Resume(ctx, t); err != nil {
		return fmt.Errorf("resume %s: %w", t, err)
	}
	if s.workers != nil {
		s.workers.Notify(t)
	}
	s.logger.Info("queue resumed",
		logging.String(logging.FieldEventType, "queue_resumed"),
		logging.String(logging.FieldJobType, string(t)),
	)
	return nil
}

// Clean removes completed and failed jobs finished more than grace ago, at
// most CleanLimit per state.
func (s *QueueService) Clean(ctx context.Context, jobType string, grace time.Duration) (CleanResult, error) {
	t, err := pipeline.ParseType(jobType)
	if err != nil {
		return CleanResult{}, err
	}
	if grace < 0 {
		return CleanResult{}, services.NewValidationError("clean", []string{"grace must not be negative"})
	}
	removed, err := s.store.Clean(ctx, t, s.store.Now().Add(-grace), CleanLimit)
	if err != nil {
		return CleanResult{}, fmt.Errorf("clean %s: %w", t, err)
	}
	if removed == nil {
		removed = []string{}
	}
	s.logger.Info("queue cleaned",
		logging.String(logging.FieldEventType, "queue_cleaned"),
		logging.String(logging.FieldJobType, string(t)),
		logging.Duration("grace", grace),
		logging.Int("removed", len(removed)),
	)
	return CleanResult{JobType: string(t), Removed: removed, Count: len(removed)}, nil
}

// CloseAll stops leasing, waits for in-flight jobs until ctx is done and then
// closes the store. Later calls return the first result.
func (s *QueueService) CloseAll(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.workers != nil {
			if err := s.workers.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("drain workers: %w", err))
			}
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue store: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info("queue service closed",
			logging.String(logging.FieldEventType, "queue_closed"),
			logging.Bool("clean", s.closeErr == nil),
		)
	})
	return s.closeErr
}
