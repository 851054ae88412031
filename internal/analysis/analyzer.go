package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"tweetcast/internal/classifier"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/podcasts"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
	"tweetcast/internal/stage"
)

const (
	stageName          = "analysis"
	defaultParallelism = 4
)

// Classifier labels post text.
type Classifier interface {
	Classify(ctx context.Context, text string) (classifier.Classification, error)
}

// Repository is the subset of the podcast repository the stage uses.
type Repository interface {
	GetTweet(ctx context.Context, id string) (*podcasts.Tweet, error)
	SetTweetEmotion(ctx context.Context, id, emotion string, confidence float64) error
}

// Analyzer runs analyze_emotions jobs.
type Analyzer struct {
	classifier  Classifier
	repo        Repository
	parallelism int
	logger      *slog.Logger
}

// New builds an Analyzer. A parallelism below one uses the default of four.
func New(c Classifier, repo Repository, parallelism int, logger *slog.Logger) *Analyzer {
	if parallelism < 1 {
		parallelism = defaultParallelism
	}
	return &Analyzer{
		classifier:  c,
		repo:        repo,
		parallelism: parallelism,
		logger:      logging.NewComponentLogger(logger, "analyzer"),
	}
}

// Execute classifies every post in the payload. Results keep input order.
func (a *Analyzer) Execute(ctx context.Context, job *queue.Job, progress stage.Progress) (any, error) {
	payload, err := stage.DecodePayload[pipeline.AnalyzeEmotionsPayload](job)
	if err != nil {
		return nil, err
	}
	if err := progress.Report(ctx, 10); err != nil {
		return nil, err
	}

	results := make([]pipeline.EmotionResult, len(payload.TweetIDs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.parallelism)
	for i, id := range payload.TweetIDs {
		group.Go(func() error {
			result, err := a.classify(groupCtx, id)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := progress.Report(ctx, 50); err != nil {
		return nil, err
	}

	for _, result := range results {
		if err := a.repo.SetTweetEmotion(ctx, result.TweetID, string(result.EmotionType), result.Confidence); err != nil {
			return nil, fmt.Errorf("store emotion for %s: %w", result.TweetID, err)
		}
	}
	if err := progress.Report(ctx, 90); err != nil {
		return nil, err
	}

	logging.WithContext(ctx, a.logger).Info("emotions analyzed",
		logging.String(logging.FieldEventType, "emotions_analyzed"),
		logging.Int("analyzed", len(results)),
		logging.Any("distribution", distribution(results)),
	)
	if err := progress.Report(ctx, 100); err != nil {
		return nil, err
	}
	return pipeline.AnalyzeEmotionsResult{Analyzed: len(results), Results: results}, nil
}

func (a *Analyzer) classify(ctx context.Context, id string) (pipeline.EmotionResult, error) {
	tweet, err := a.repo.GetTweet(ctx, id)
	if err != nil {
		return pipeline.EmotionResult{}, err
	}
	label, err := a.classifier.Classify(ctx, tweet.Text)
	if err != nil {
		if services.Kind(err) == services.KindInternal {
			err = services.Collaborator(stageName, "classify", err)
		}
		return pipeline.EmotionResult{}, err
	}
	emotion := label.Emotion
	if !emotion.Valid() {
		emotion = pipeline.EmotionNeutral
	}
	indicators := label.Indicators
	if indicators == nil {
		indicators = []string{}
	}
	return pipeline.EmotionResult{
		TweetID:     id,
		EmotionType: emotion,
		Confidence:  min(max(label.Confidence, 0), 1),
		Indicators:  indicators,
	}, nil
}

// HealthCheck reports whether the stage has its collaborators.
func (a *Analyzer) HealthCheck(context.Context) stage.Health {
	if a == nil || a.classifier == nil {
		return stage.Unhealthy(stageName, "classifier not configured")
	}
	if a.repo == nil {
		return stage.Unhealthy(stageName, "podcast repository not configured")
	}
	return stage.Healthy(stageName)
}

func distribution(results []pipeline.EmotionResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		counts[string(r.EmotionType)]++
	}
	return counts
}

