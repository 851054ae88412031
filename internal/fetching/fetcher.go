package fetching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/podcasts"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
	"tweetcast/internal/stage"
	"tweetcast/internal/twitter"
)

const (
	stageName      = "fetching"
	usageAction    = "fetch_tweets"
	postsPerCredit = 10
)

// TweetSource returns posts for a query.
type TweetSource interface {
	Fetch(ctx context.Context, q twitter.Query) ([]twitter.Tweet, error)
}

// Repository is the subset of the podcast repository the stage writes to.
type Repository interface {
	GetPodcast(ctx context.Context, id int64) (*podcasts.Podcast, error)
	GetUser(ctx context.Context, id int64) (*podcasts.User, error)
	CacheTweet(ctx context.Context, tweet podcasts.Tweet) (bool, error)
	LinkTweets(ctx context.Context, podcastID int64, tweetIDs []string) error
	SetTweetCount(ctx context.Context, podcastID int64, count int) error
	LogUsage(ctx context.Context, userID int64, action string, credits int) error
}

// Fetcher runs fetch_tweets jobs.
type Fetcher struct {
	source TweetSource
	repo   Repository
	logger *slog.Logger
}

// New builds a Fetcher.
func New(source TweetSource, repo Repository, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		repo:   repo,
		logger: logging.NewComponentLogger(logger, "fetcher"),
	}
}

// Execute gathers, filters, caches and links posts for the job's podcast.
func (f *Fetcher) Execute(ctx context.Context, job *queue.Job, progress stage.Progress) (any, error) {
	payload, err := stage.DecodePayload[pipeline.FetchTweetsPayload](job)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, f.logger)

	podcast, err := f.repo.GetPodcast(ctx, payload.PodcastID)
	if err != nil {
		return nil, err
	}
	user, err := f.repo.GetUser(ctx, podcast.UserID)
	if err != nil {
		return nil, err
	}
	if err := progress.Report(ctx, 10); err != nil {
		return nil, err
	}

	query := buildQuery(payload, user.TwitterUsername)
	fetched, err := f.source.Fetch(ctx, query)
	if err != nil {
		if services.Kind(err) == services.KindInternal {
			err = services.Collaborator(stageName, "fetch posts", err)
		}
		return nil, err
	}
	kept := Apply(payload.Filters, fetched)
	logger.Info("posts fetched",
		logging.String(logging.FieldEventType, "posts_fetched"),
		logging.String("source_type", string(payload.SourceType)),
		logging.Int("fetched", len(fetched)),
		logging.Int("kept", len(kept)),
	)
	if err := progress.Report(ctx, 50); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(kept))
	cachedCount := 0
	for _, tweet := range kept {
		inserted, err := f.repo.CacheTweet(ctx, toCached(tweet))
		if err != nil {
			return nil, fmt.Errorf("cache post %s: %w", tweet.ID, err)
		}
		if inserted {
			cachedCount++
		}
		ids = append(ids, tweet.ID)
	}
	if err := f.repo.LinkTweets(ctx, podcast.ID, ids); err != nil {
		return nil, err
	}
	if err := progress.Report(ctx, 90); err != nil {
		return nil, err
	}

	if err := f.repo.SetTweetCount(ctx, podcast.ID, len(ids)); err != nil {
		return nil, err
	}
	if credits := Credits(len(ids)); credits > 0 {
		if err := f.repo.LogUsage(ctx, user.ID, usageAction, credits); err != nil {
			return nil, err
		}
	}
	if err := progress.Report(ctx, 100); err != nil {
		return nil, err
	}
	logger.Debug("posts cached",
		logging.Int("linked", len(ids)),
		logging.Int("newly_cached", cachedCount),
	)
	return pipeline.FetchTweetsResult{TweetIDs: ids, Count: len(ids)}, nil
}

// HealthCheck reports whether the stage has its collaborators.
func (f *Fetcher) HealthCheck(context.Context) stage.Health {
	switch {
	case f == nil || f.source == nil:
		return stage.Unhealthy(stageName, "post source not configured")
	case f.repo == nil:
		return stage.Unhealthy(stageName, "podcast repository not configured")
	}
	return stage.Healthy(stageName)
}

// Credits bills one credit per started block of ten posts.
func Credits(posts int) int {
	if posts <= 0 {
		return 0
	}
	return (posts + postsPerCredit - 1) / postsPerCredit
}

func buildQuery(payload pipeline.FetchTweetsPayload, owner string) twitter.Query {
	q := twitter.Query{
		Kind:  twitter.SourceKind(payload.SourceType),
		Value: strings.TrimSpace(payload.SourceValue),
		Owner: owner,
	}
	if f := payload.Filters; f != nil {
		q.ExcludeRetweets = !f.IncludeRetweets
		q.ExcludeReplies = !f.IncludeReplies
		if r := f.DateRange; r != nil {
			start, end := r.Start, r.End
			q.Start, q.End = &start, &end
		}
	}
	return q
}

func toCached(tweet twitter.Tweet) podcasts.Tweet {
	created := tweet.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return podcasts.Tweet{
		ID:             tweet.ID,
		AuthorUsername: tweet.AuthorUsername,
		Text:           tweet.Text,
		CreatedAt:      created,
		LikeCount:      tweet.LikeCount,
		RetweetCount:   tweet.RetweetCount,
	}
}
