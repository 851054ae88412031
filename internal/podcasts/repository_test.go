package podcasts_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"tweetcast/internal/podcasts"
	"tweetcast/internal/services"
	"tweetcast/internal/testsupport"
)

// repositories returns the SQLite repository and, when TWEETCAST_TEST_POSTGRES_DSN
// is set, a Postgres repository too.
func repositories(t *testing.T) map[string]podcasts.Repository {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	repos := map[string]podcasts.Repository{
		"sqlite": testsupport.MustOpenRepository(t, cfg),
	}
	if dsn := os.Getenv("TWEETCAST_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := podcasts.OpenPostgres(context.Background(), dsn)
		if err != nil {
			t.Fatalf("OpenPostgres: %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		repos["postgres"] = pg
	}
	return repos
}

func TestCompletePodcastOnlyOnce(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, podcast := testsupport.SeedPodcast(t, repo, "username", "nasa")
			if podcast.Status != podcasts.StatusProcessing {
				t.Fatalf("new podcast status = %q, want processing", podcast.Status)
			}

			already, err := repo.CompletePodcast(ctx, podcast.ID, "https://cdn/podcasts/1/final.mp3", 90)
			if err != nil {
				t.Fatalf("CompletePodcast: %v", err)
			}
			if already {
				t.Fatal("first completion reported already completed")
			}

			already, err = repo.CompletePodcast(ctx, podcast.ID, "https://cdn/other.mp3", 10)
			if err != nil {
				t.Fatalf("second CompletePodcast: %v", err)
			}
			if !already {
				t.Fatal("second completion should report already completed")
			}

			got, err := repo.GetPodcast(ctx, podcast.ID)
			if err != nil {
				t.Fatalf("GetPodcast: %v", err)
			}
			if got.Status != podcasts.StatusCompleted || got.AudioURL != "https://cdn/podcasts/1/final.mp3" || got.DurationSeconds != 90 {
				t.Fatalf("completed podcast regressed: %+v", got)
			}

			failed, err := repo.MarkFailed(ctx, podcast.ID)
			if err != nil {
				t.Fatalf("MarkFailed: %v", err)
			}
			if failed {
				t.Fatal("completed podcast must not be marked failed")
			}
		})
	}
}

func TestMarkFailedFromProcessing(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, podcast := testsupport.SeedPodcast(t, repo, "hashtag", "golang")

			failed, err := repo.MarkFailed(ctx, podcast.ID)
			if err != nil || !failed {
				t.Fatalf("MarkFailed = %v, %v", failed, err)
			}
			got, _ := repo.GetPodcast(ctx, podcast.ID)
			if got.Status != podcasts.StatusFailed {
				t.Fatalf("status = %q, want failed", got.Status)
			}
		})
	}
}

func TestMissingRecordsAreNotFound(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := repo.GetPodcast(ctx, 999999); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("GetPodcast missing: %v", err)
			}
			if _, err := repo.GetUser(ctx, 999999); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("GetUser missing: %v", err)
			}
			if _, err := repo.GetTweet(ctx, "nope"); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("GetTweet missing: %v", err)
			}
			if _, err := repo.CompletePodcast(ctx, 999999, "x", 1); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("CompletePodcast missing: %v", err)
			}
			if _, err := repo.CreatePodcast(ctx, podcasts.NewPodcast{
				UserID: 999999, Title: "t", SourceType: "username", SourceIdentifier: "x",
			}); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("CreatePodcast for missing user: %v", err)
			}
		})
	}
}

func TestCreatePodcastValidation(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.CreatePodcast(context.Background(), podcasts.NewPodcast{})
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr *services.ValidationError
			if !errors.As(err, &verr) || len(verr.Problems) != 4 {
				t.Fatalf("expected four problems, got %v", err)
			}
		})
	}
}

func TestTweetCacheAndLinks(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, podcast := testsupport.SeedPodcast(t, repo, "timeline", "home")
			created := time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)
			suffix := name + "-" + time.Now().Format("150405.000000000")

			ids := []string{"c-" + suffix, "a-" + suffix, "b-" + suffix}
			for i, id := range ids {
				inserted, err := repo.CacheTweet(ctx, podcasts.Tweet{
					ID:             id,
					AuthorUsername: "author",
					Text:           "post " + id,
					CreatedAt:      created,
					LikeCount:      i * 10,
				})
				if err != nil || !inserted {
					t.Fatalf("CacheTweet %s = %v, %v", id, inserted, err)
				}
			}

			if err := repo.SetTweetEmotion(ctx, ids[0], "excited", 0.876); err != nil {
				t.Fatalf("SetTweetEmotion: %v", err)
			}
			inserted, err := repo.CacheTweet(ctx, podcasts.Tweet{ID: ids[0], AuthorUsername: "other", Text: "changed"})
			if err != nil {
				t.Fatalf("CacheTweet again: %v", err)
			}
			if inserted {
				t.Fatal("cached tweet must not be replaced")
			}
			cached, err := repo.GetTweet(ctx, ids[0])
			if err != nil {
				t.Fatalf("GetTweet: %v", err)
			}
			if cached.Text != "post "+ids[0] || cached.EmotionType != "excited" || cached.EmotionConfidence != 0.88 {
				t.Fatalf("unexpected cached tweet: %+v", cached)
			}
			if !cached.CreatedAt.Equal(created) {
				t.Fatalf("created_at = %v, want %v", cached.CreatedAt, created)
			}

			if err := repo.LinkTweets(ctx, podcast.ID, append(ids, ids[1], " ")); err != nil {
				t.Fatalf("LinkTweets: %v", err)
			}
			if err := repo.LinkTweets(ctx, podcast.ID, ids); err != nil {
				t.Fatalf("LinkTweets again: %v", err)
			}
			linked, err := repo.PodcastTweets(ctx, podcast.ID)
			if err != nil {
				t.Fatalf("PodcastTweets: %v", err)
			}
			if len(linked) != len(ids) {
				t.Fatalf("linked %d tweets, want %d", len(linked), len(ids))
			}
			for i, tweet := range linked {
				if tweet.ID != ids[i] {
					t.Fatalf("link order %d = %s, want %s", i, tweet.ID, ids[i])
				}
			}

			if err := repo.SetTweetCount(ctx, podcast.ID, len(ids)); err != nil {
				t.Fatalf("SetTweetCount: %v", err)
			}
			got, _ := repo.GetPodcast(ctx, podcast.ID)
			if got.TweetCount != len(ids) {
				t.Fatalf("tweet count = %d", got.TweetCount)
			}
		})
	}
}

func TestUsageLog(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user, _ := testsupport.SeedPodcast(t, repo, "url", "https://x.com/a/status/1")
			if user.SubscriptionTier != "free" {
				t.Fatalf("default tier = %q", user.SubscriptionTier)
			}
			if err := repo.LogUsage(ctx, user.ID, "fetch_tweets", 2); err != nil {
				t.Fatalf("LogUsage: %v", err)
			}
			if err := repo.LogUsage(ctx, user.ID, "assemble_podcast", 1); err != nil {
				t.Fatalf("LogUsage: %v", err)
			}
			entries, err := repo.Usage(ctx, user.ID)
			if err != nil {
				t.Fatalf("Usage: %v", err)
			}
			if len(entries) != 2 || entries[0].Action != "fetch_tweets" || entries[0].CreditsUsed != 2 {
				t.Fatalf("unexpected usage: %+v", entries)
			}
		})
	}
}

func TestOpenSelectsSQLiteByDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	repo, err := podcasts.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer repo.Close()
	if _, ok := repo.(*podcasts.SQLiteRepository); !ok {
		t.Fatalf("expected sqlite repository, got %T", repo)
	}
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := os.Stat(cfg.PodcastDBPath()); err != nil {
		t.Fatalf("expected podcast db file: %v", err)
	}
}
