package fetching_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tweetcast/internal/fetching"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/services"
	"tweetcast/internal/stage"
	"tweetcast/internal/testsupport"
	"tweetcast/internal/twitter"
)

type fakeSource struct {
	tweets []twitter.Tweet
	err    error
	got    twitter.Query
}

func (f *fakeSource) Fetch(_ context.Context, q twitter.Query) ([]twitter.Tweet, error) {
	f.got = q
	return f.tweets, f.err
}

func posts(n int) []twitter.Tweet {
	base := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	out := make([]twitter.Tweet, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, twitter.Tweet{
			ID:             fmt.Sprintf("%d-%d", time.Now().UnixNano(), i),
			AuthorUsername: "nasa",
			Text:           fmt.Sprintf("post number %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			LikeCount:      i * 10,
		})
	}
	return out
}

func TestExecuteCachesLinksAndBills(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	repo := testsupport.MustOpenRepository(t, cfg)
	user, podcast := testsupport.SeedPodcast(t, repo, "timeline", "home")

	source := &fakeSource{tweets: posts(12)}
	fetcher := fetching.New(source, repo, logging.NewNop())
	job := testsupport.NewJob(t, pipeline.FetchTweets, pipeline.FetchTweetsPayload{
		PodcastID: podcast.ID, SourceType: pipeline.SourceTimeline, SourceValue: "home",
	})
	progress := &testsupport.ProgressRecorder{}

	out, err := fetcher.Execute(context.Background(), job, progress)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result, ok := out.(pipeline.FetchTweetsResult)
	if !ok {
		t.Fatalf("unexpected result type %T", out)
	}
	if result.Count != 12 || len(result.TweetIDs) != 12 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := progress.Values(); fmt.Sprint(got) != "[10 50 90 100]" {
		t.Fatalf("progress = %v", got)
	}
	if source.got.Kind != twitter.SourceTimeline || source.got.Owner != "listener" {
		t.Fatalf("unexpected query: %+v", source.got)
	}

	ctx := context.Background()
	linked, err := repo.PodcastTweets(ctx, podcast.ID)
	if err != nil {
		t.Fatalf("PodcastTweets: %v", err)
	}
	for i, tweet := range linked {
		if tweet.ID != result.TweetIDs[i] {
			t.Fatalf("link %d = %s, want %s", i, tweet.ID, result.TweetIDs[i])
		}
	}
	got, _ := repo.GetPodcast(ctx, podcast.ID)
	if got.TweetCount != 12 {
		t.Fatalf("tweet_count = %d", got.TweetCount)
	}
	usage, _ := repo.Usage(ctx, user.ID)
	if len(usage) != 1 || usage[0].Action != "fetch_tweets" || usage[0].CreditsUsed != 2 {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	// A retried fetch relinks the same posts without duplicating them.
	if _, err := fetcher.Execute(ctx, job, stage.Discard); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	linked, _ = repo.PodcastTweets(ctx, podcast.ID)
	if len(linked) != 12 {
		t.Fatalf("relinked %d posts, want 12", len(linked))
	}
}

func TestExecuteErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	repo := testsupport.MustOpenRepository(t, cfg)
	_, podcast := testsupport.SeedPodcast(t, repo, "hashtag", "go")

	missing := testsupport.NewJob(t, pipeline.FetchTweets, pipeline.FetchTweetsPayload{
		PodcastID: podcast.ID + 100, SourceType: pipeline.SourceHashtag, SourceValue: "go",
	})
	if _, err := fetching.New(&fakeSource{}, repo, nil).Execute(context.Background(), missing, stage.Discard); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing podcast, got %v", err)
	}

	job := testsupport.NewJob(t, pipeline.FetchTweets, pipeline.FetchTweetsPayload{
		PodcastID: podcast.ID, SourceType: pipeline.SourceHashtag, SourceValue: "go",
	})
	broken := &fakeSource{err: errors.New("connection reset")}
	_, err := fetching.New(broken, repo, nil).Execute(context.Background(), job, stage.Discard)
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestApplyFilters(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tweets := []twitter.Tweet{
		{ID: "1", Text: "plain", LikeCount: 50, CreatedAt: start.Add(time.Hour)},
		{ID: "2", Text: "a retweet", LikeCount: 50, IsRetweet: true, CreatedAt: start.Add(time.Hour)},
		{ID: "3", Text: "a reply", LikeCount: 50, IsReply: true, CreatedAt: start.Add(time.Hour)},
		{ID: "4", Text: "unpopular", LikeCount: 1, CreatedAt: start.Add(time.Hour)},
		{ID: "5", Text: "too late", LikeCount: 50, CreatedAt: start.Add(72 * time.Hour)},
		{ID: "6", Text: "Contains SPOILER text", LikeCount: 50, CreatedAt: start.Add(time.Hour)},
		{ID: "1", Text: "duplicate id", LikeCount: 50, CreatedAt: start.Add(time.Hour)},
		{ID: "7", Text: "  ", LikeCount: 50, CreatedAt: start.Add(time.Hour)},
	}
	tests := []struct {
		name    string
		filters *pipeline.Filters
		want    string
	}{
		{name: "no filters", filters: nil, want: "[1 2 3 4 5 6]"},
		{
			name: "everything",
			filters: &pipeline.Filters{
				MinimumLikes:    10,
				DateRange:       &pipeline.DateRange{Start: start, End: start.Add(24 * time.Hour)},
				ExcludeKeywords: []string{"spoiler", " "},
			},
			want: "[1]",
		},
		{
			name:    "include retweets and replies",
			filters: &pipeline.Filters{IncludeRetweets: true, IncludeReplies: true},
			want:    "[1 2 3 4 5 6]",
		},
		{name: "defaults exclude retweets and replies", filters: &pipeline.Filters{}, want: "[1 4 5 6]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var ids []string
			for _, tweet := range fetching.Apply(tc.filters, tweets) {
				ids = append(ids, tweet.ID)
			}
			if got := fmt.Sprint(ids); got != tc.want {
				t.Fatalf("kept %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCredits(t *testing.T) {
	for posts, want := range map[int]int{0: 0, 1: 1, 10: 1, 11: 2, 25: 3} {
		if got := fetching.Credits(posts); got != want {
			t.Fatalf("Credits(%d) = %d, want %d", posts, got, want)
		}
	}
}
