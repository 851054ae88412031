package podcasts

import (
	"context"
	"errors"
	"strings"

	"tweetcast/internal/config"
	"tweetcast/internal/services"
)

const stageName = "podcasts"

// Repository is the podcast data surface shared by the stage routines, the
// orchestrator and the daemon.
type Repository interface {
	CreateUser(ctx context.Context, user NewUser) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	CreatePodcast(ctx context.Context, podcast NewPodcast) (*Podcast, error)
	GetPodcast(ctx context.Context, id int64) (*Podcast, error)

	// CacheTweet inserts the tweet when no row with its id exists and reports
	// whether it did. Cached emotion columns are never overwritten.
	CacheTweet(ctx context.Context, tweet Tweet) (bool, error)
	GetTweet(ctx context.Context, id string) (*Tweet, error)
	SetTweetEmotion(ctx context.Context, id, emotion string, confidence float64) error

	// LinkTweets replaces the podcast's tweet links with ids in order.
	LinkTweets(ctx context.Context, podcastID int64, tweetIDs []string) error
	PodcastTweets(ctx context.Context, podcastID int64) ([]Tweet, error)
	SetTweetCount(ctx context.Context, podcastID int64, count int) error

	// CompletePodcast records the final audio. When the podcast was already
	// completed nothing changes and alreadyCompleted is true.
	CompletePodcast(ctx context.Context, podcastID int64, audioURL string, durationSeconds int) (alreadyCompleted bool, err error)
	// MarkFailed moves a processing podcast to failed and reports whether it did.
	MarkFailed(ctx context.Context, podcastID int64) (bool, error)

	LogUsage(ctx context.Context, userID int64, action string, credits int) error
	Usage(ctx context.Context, userID int64) ([]UsageEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open selects the Postgres repository when a DSN is configured and the
// SQLite repository under the data directory otherwise.
func Open(ctx context.Context, cfg *config.Config) (Repository, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "open", "config is required", nil)
	}
	if dsn := strings.TrimSpace(cfg.Storage.PostgresDSN); dsn != "" {
		return OpenPostgres(ctx, dsn)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return OpenSQLite(cfg.PodcastDBPath())
}

func validateNewUser(user NewUser) error {
	if strings.TrimSpace(user.TwitterUsername) == "" {
		return services.NewValidationError("user", []string{"twitterUsername is required"})
	}
	return nil
}

func validateNewPodcast(podcast NewPodcast) error {
	var problems []string
	if podcast.UserID <= 0 {
		problems = append(problems, "userId must be positive")
	}
	if strings.TrimSpace(podcast.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(podcast.SourceType) == "" {
		problems = append(problems, "sourceType is required")
	}
	if strings.TrimSpace(podcast.SourceIdentifier) == "" {
		problems = append(problems, "sourceIdentifier is required")
	}
	return services.NewValidationError("podcast", problems)
}

func validateTweet(tweet Tweet) error {
	if strings.TrimSpace(tweet.ID) == "" {
		return errors.New("cache tweet: id is required")
	}
	return nil
}

func podcastNotFound(id int64) error {
	return services.NotFound(stageName, "podcast", id)
}
