package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tweetcast/internal/api"
	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/podcasts"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
)

const (
	defaultSweepInterval = 5 * time.Second
	sweepBatch           = 100
)

// Enqueuer is the producer API used for next-stage jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts api.EnqueueOptions) (api.JobHandle, error)
}

// JobStore is the subset of the queue store the orchestrator reads.
type JobStore interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
	Unchained(ctx context.Context, limit int) ([]*queue.Job, error)
	MarkChained(ctx context.Context, id string) error
}

// Repository is the subset of the podcast repository used to build payloads.
type Repository interface {
	GetPodcast(ctx context.Context, id int64) (*podcasts.Podcast, error)
	GetUser(ctx context.Context, id int64) (*podcasts.User, error)
	PodcastTweets(ctx context.Context, podcastID int64) ([]podcasts.Tweet, error)
	MarkFailed(ctx context.Context, podcastID int64) (bool, error)
}

// Orchestrator enqueues the next stage for each finished job.
type Orchestrator struct {
	store        JobStore
	enqueuer     Enqueuer
	repo         Repository
	bus          events.Bus
	logger       *slog.Logger
	interval     time.Duration
	defaultVoice string

	// handleMu serializes event and sweep handling of the same job.
	handleMu sync.Mutex

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithBus subscribes the orchestrator to lifecycle events.
func WithBus(bus events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithSweepInterval sets how often the store is scanned for unchained jobs.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.interval = interval
		}
	}
}

// WithDefaultVoice sets the voice used when the user has no preference.
func WithDefaultVoice(voice string) Option {
	return func(o *Orchestrator) { o.defaultVoice = voice }
}

// New builds an orchestrator.
func New(store JobStore, enqueuer Enqueuer, repo Repository, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		enqueuer: enqueuer,
		repo:     repo,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		interval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start subscribes to job events and begins the periodic sweep. The first
// sweep runs immediately so work left by a previous process resumes.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return errors.New("orchestrator already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	if o.bus != nil {
		unsubscribe, err := o.bus.Subscribe(func(_ context.Context, event events.Event) {
			o.handleEvent(runCtx, event)
		}, events.JobCompleted, events.JobFailed)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe orchestrator: %w", err)
		}
		o.unsubscribe = unsubscribe
	}
	o.cancel = cancel
	o.wg.Add(1)
	go o.sweepLoop(runCtx)

	o.logger.Info("orchestrator started",
		logging.String(logging.FieldEventType, "orchestrator_started"),
		logging.Duration("sweep_interval", o.interval),
		logging.Bool("event_driven", o.bus != nil),
	)
	return nil
}

// Stop unsubscribes and waits for the sweep loop to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	unsubscribe := o.unsubscribe
	o.cancel = nil
	o.unsubscribe = nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		if _, err := o.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(o.logger, "orchestrator sweep failed", "orchestrator_sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue and podcast database access"),
				logging.String(logging.FieldImpact, "next stages are enqueued on a later sweep"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep handles every terminal job that has not been chained yet and returns
// how many were marked chained.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	handled := 0
	for {
		jobs, err := o.store.Unchained(ctx, sweepBatch)
		if err != nil {
			return handled, err
		}
		progressed := 0
		var errs []error
		for _, job := range jobs {
			if err := o.Handle(ctx, job); err != nil {
				errs = append(errs, err)
				continue
			}
			progressed++
		}
		handled += progressed
		if len(errs) > 0 {
			return handled, errors.Join(errs...)
		}
		if len(jobs) < sweepBatch || progressed == 0 {
			return handled, nil
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, event events.Event) {
	if ctx.Err() != nil {
		return
	}
	job, err := o.store.Get(ctx, event.JobID)
	if err != nil || job == nil {
		if err != nil {
			o.logger.Debug("event job lookup failed; sweep will retry",
				logging.String(logging.FieldJobID, event.JobID),
				logging.Error(err),
			)
		}
		return
	}
	if err := o.Handle(ctx, job); err != nil && ctx.Err() == nil {
		logger := o.jobLogger(ctx, job)
		logging.WarnWithContext(logger, "chaining failed; sweep will retry", "chain_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, "check the podcast record and queue database"),
			logging.String(logging.FieldImpact, "next stage is delayed until the next sweep"),
		)
	}
}

// Handle chains one terminal job and marks it chained. Non-terminal and
// already chained jobs are ignored.
func (o *Orchestrator) Handle(ctx context.Context, job *queue.Job) error {
	if job == nil || !job.State.Terminal() || job.ChainedAt != nil {
		return nil
	}
	o.handleMu.Lock()
	defer o.handleMu.Unlock()

	current, err := o.store.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if current == nil || current.ChainedAt != nil {
		return nil
	}
	job = current

	podcastID := podcastIDOf(job)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobType(ctx, string(job.Type))
	if podcastID > 0 {
		ctx = services.WithPodcastID(ctx, podcastID)
	}
	logger := o.jobLogger(ctx, job)

	switch job.State {
	case queue.StateFailed:
		err = o.markFailed(ctx, logger, podcastID, job.FailureReason)
	case queue.StateCompleted:
		err = o.chainCompleted(ctx, logger, job, podcastID)
	}
	if permanent(err) {
		logging.ErrorWithContext(logger, "cannot chain next stage", "chain_abandoned",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, "the podcast or its records are missing or invalid; enqueue the next stage manually"),
		)
		if markErr := o.markFailed(ctx, logger, podcastID, err.Error()); markErr != nil {
			return markErr
		}
		err = nil
	}
	if err != nil {
		return err
	}
	return o.store.MarkChained(ctx, job.ID)
}

func (o *Orchestrator) chainCompleted(ctx context.Context, logger *slog.Logger, job *queue.Job, podcastID int64) error {
	next, ok := job.Type.Next()
	if !ok {
		logger.Debug("final stage completed; nothing to chain")
		return nil
	}
	if podcastID <= 0 {
		logger.Warn("completed job has no podcast id; not chaining",
			logging.String(logging.FieldEventType, "chain_skipped"),
			logging.String(logging.FieldErrorHint, "enqueue the next stage manually"),
			logging.String(logging.FieldImpact, "pipeline stops for this job"),
		)
		return nil
	}

	var (
		payload any
		err     error
	)
	switch job.Type {
	case pipeline.FetchTweets:
		payload, err = o.analyzePayload(job, podcastID)
	case pipeline.AnalyzeEmotions:
		payload, err = o.audioPayload(ctx, job, podcastID)
	case pipeline.GenerateAudio:
		payload, err = o.assemblePayload(ctx, job, podcastID)
	}
	if errors.Is(err, errNothingToChain) {
		return o.markFailed(ctx, logger, podcastID, err.Error())
	}
	if err != nil {
		return err
	}
	return o.enqueue(ctx, logger, next, podcastID, payload)
}

var errNothingToChain = errors.New("stage produced no posts")

func (o *Orchestrator) analyzePayload(job *queue.Job, podcastID int64) (any, error) {
	result, err := pipeline.Decode[pipeline.FetchTweetsResult](job.Result)
	if err != nil {
		return nil, err
	}
	if len(result.TweetIDs) == 0 {
		return nil, errNothingToChain
	}
	return pipeline.AnalyzeEmotionsPayload{PodcastID: podcastID, TweetIDs: result.TweetIDs}, nil
}

func (o *Orchestrator) audioPayload(ctx context.Context, job *queue.Job, podcastID int64) (any, error) {
	result, err := pipeline.Decode[pipeline.AnalyzeEmotionsResult](job.Result)
	if err != nil {
		return nil, err
	}
	podcast, err := o.repo.GetPodcast(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	user, err := o.repo.GetUser(ctx, podcast.UserID)
	if err != nil {
		return nil, err
	}
	tweets, err := o.repo.PodcastTweets(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	emotions := make(map[string]pipeline.Emotion, len(result.Results))
	for _, r := range result.Results {
		emotions[r.TweetID] = r.EmotionType
	}
	segments := BuildScript(ScriptInput{
		Podcast:      podcast,
		User:         user,
		Tweets:       tweets,
		Emotions:     emotions,
		DefaultVoice: o.defaultVoice,
	})
	if countTweetSegments(segments) == 0 {
		return nil, errNothingToChain
	}
	return pipeline.GenerateAudioPayload{PodcastID: podcastID, Segments: segments}, nil
}

func (o *Orchestrator) assemblePayload(ctx context.Context, job *queue.Job, podcastID int64) (any, error) {
	result, err := pipeline.Decode[pipeline.GenerateAudioResult](job.Result)
	if err != nil {
		return nil, err
	}
	if len(result.AudioFiles) == 0 {
		return nil, errNothingToChain
	}
	source, err := pipeline.Decode[pipeline.GenerateAudioPayload](job.Payload)
	if err != nil {
		return nil, err
	}
	podcast, err := o.repo.GetPodcast(ctx, podcastID)
	if err != nil {
		return nil, err
	}
	user, err := o.repo.GetUser(ctx, podcast.UserID)
	if err != nil {
		return nil, err
	}
	segments := source.Segments
	if len(segments) > len(result.AudioFiles) {
		segments = segments[:len(result.AudioFiles)]
	}
	return pipeline.AssemblePodcastPayload{
		PodcastID:  podcastID,
		AudioFiles: result.AudioFiles,
		Metadata: pipeline.PodcastMetadata{
			Title:       EpisodeTitle(podcast),
			Description: podcast.Description,
			Author:      AuthorName(user),
			Chapters:    Chapters(segments),
		},
	}, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, logger *slog.Logger, next pipeline.JobType, podcastID int64, payload any) error {
	raw, err := pipeline.Encode(payload)
	if err != nil {
		return err
	}
	handle, err := o.enqueuer.Enqueue(ctx, string(next), raw, api.EnqueueOptions{DedupeKey: DedupeKey(podcastID, next)})
	if err != nil {
		return fmt.Errorf("enqueue %s for podcast %d: %w", next, podcastID, err)
	}
	logger.Info("next stage enqueued",
		logging.String(logging.FieldEventType, "stage_chained"),
		logging.String("next_job_type", string(next)),
		logging.String("next_job_id", handle.JobID),
		logging.Bool("existing", handle.Existing),
	)
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, logger *slog.Logger, podcastID int64, reason string) error {
	if podcastID <= 0 {
		return nil
	}
	changed, err := o.repo.MarkFailed(ctx, podcastID)
	if errors.Is(err, services.ErrNotFound) {
		logger.Debug("podcast missing; nothing to mark failed")
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		logger.Warn("podcast marked failed",
			logging.String(logging.FieldEventType, "podcast_failed"),
			logging.String("reason", reason),
			logging.String(logging.FieldErrorHint, "inspect the failed job and enqueue a new fetch to retry"),
			logging.String(logging.FieldImpact, "no audio is produced for this podcast"),
		)
	}
	return nil
}

func (o *Orchestrator) jobLogger(ctx context.Context, job *queue.Job) *slog.Logger {
	return logging.WithContext(ctx, o.logger).With(logging.String("job_state", string(job.State)))
}

// DedupeKey identifies the single live job of jobType for a podcast.
func DedupeKey(podcastID int64, jobType pipeline.JobType) string {
	return fmt.Sprintf("podcast:%d:%s", podcastID, jobType)
}

func podcastIDOf(job *queue.Job) int64 {
	var payload struct {
		PodcastID int64 `json:"podcastId"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return 0
	}
	return payload.PodcastID
}

func countTweetSegments(segments []pipeline.Segment) int {
	n := 0
	for _, seg := range segments {
		if seg.Type == pipeline.SegmentTweet {
			n++
		}
	}
	return n
}

// permanent reports errors that repeating the chain step cannot fix.
func permanent(err error) bool {
	return errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrValidation)
}
