package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"tweetcast/internal/analysis"
	"tweetcast/internal/api"
	"tweetcast/internal/assembly"
	"tweetcast/internal/audio"
	"tweetcast/internal/classifier"
	"tweetcast/internal/events"
	"tweetcast/internal/fetching"
	"tweetcast/internal/logging"
	"tweetcast/internal/orchestrator"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/podcasts"
	"tweetcast/internal/queue"
	"tweetcast/internal/synthesis"
	"tweetcast/internal/testsupport"
	"tweetcast/internal/twitter"
	"tweetcast/internal/workflow"
)

type fakeSource struct {
	tweets []twitter.Tweet
}

func (f *fakeSource) Fetch(context.Context, twitter.Query) ([]twitter.Tweet, error) {
	return f.tweets, nil
}

type fakeSynth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string, _ pipeline.VoiceParams, dest string) error {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(text), 0o644)
}

type fakeAssembler struct {
	mu     sync.Mutex
	inputs []string
	meta   audio.Metadata
}

func (f *fakeAssembler) Concatenate(_ context.Context, inputs []string, dest string) error {
	f.mu.Lock()
	f.inputs = append([]string(nil), inputs...)
	f.mu.Unlock()
	return os.WriteFile(dest, []byte(strings.Join(inputs, "\n")), 0o644)
}

func (f *fakeAssembler) Tag(_ context.Context, src, dest string, meta audio.Metadata) error {
	f.mu.Lock()
	f.meta = meta
	f.mu.Unlock()
	return copyFile(src, dest)
}

func (f *fakeAssembler) Normalize(_ context.Context, src, dest string) error {
	return copyFile(src, dest)
}

func (f *fakeAssembler) Probe(context.Context, string) (float64, error) {
	return 0, errors.New("ffprobe unavailable")
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

type pipelineHarness struct {
	store    *queue.Store
	repo     *podcasts.SQLiteRepository
	svc      *api.QueueService
	manager  *workflow.Manager
	synth    *fakeSynth
	assemble *fakeAssembler
}

func newPipelineHarness(t *testing.T, tweets []twitter.Tweet) *pipelineHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAutoChain())
	store := testsupport.MustOpenStore(t, cfg)
	repo := testsupport.MustOpenRepository(t, cfg)
	bus := events.NewLocal(logging.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	h := &pipelineHarness{
		store:    store,
		repo:     repo,
		synth:    &fakeSynth{},
		assemble: &fakeAssembler{},
	}
	stages := workflow.StageSet{
		FetchTweets:     fetching.New(&fakeSource{tweets: tweets}, repo, nil),
		AnalyzeEmotions: analysis.New(classifier.NewLexicon(), repo, 4, nil),
		GenerateAudio:   synthesis.New(h.synth, cfg.Paths.AudioDir, nil),
		AssemblePodcast: assembly.New(h.assemble, repo, cfg.Paths.AudioDir, cfg.Assembly.PublicBaseURL, nil),
	}
	opts := []workflow.ManagerOption{workflow.WithBus(bus)}
	for _, jobType := range pipeline.Types() {
		opts = append(opts, workflow.WithPolicy(fastPolicy(t, jobType, 3, 2)))
	}
	h.manager = startManager(t, cfg, store, stages, opts...)
	h.svc = api.NewQueueService(store, api.WithWorkers(h.manager), api.WithBus(bus))

	orch := orchestrator.New(store, h.svc, repo, nil,
		orchestrator.WithBus(bus),
		orchestrator.WithSweepInterval(200*time.Millisecond),
		orchestrator.WithDefaultVoice(cfg.Speech.DefaultVoice),
	)
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("orchestrator Start: %v", err)
	}
	t.Cleanup(orch.Stop)
	return h
}

func (h *pipelineHarness) waitPodcast(t *testing.T, id int64, want podcasts.Status) *podcasts.Podcast {
	t.Helper()
	var got *podcasts.Podcast
	waitFor(t, 15*time.Second, "podcast "+string(want), func() bool {
		p, err := h.repo.GetPodcast(context.Background(), id)
		if err != nil {
			return false
		}
		got = p
		return p.Status == want
	})
	return got
}

func TestPipelineProducesPodcastEndToEnd(t *testing.T) {
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	tweets := []twitter.Tweet{
		{ID: "e2e-1", AuthorUsername: "nasa", Text: "Launch day! This is amazing 🚀", CreatedAt: created, LikeCount: 500},
		{ID: "e2e-2", AuthorUsername: "esa", Text: "Unfortunately the probe was lost", CreatedAt: created.Add(time.Minute), LikeCount: 80},
		{ID: "e2e-3", AuthorUsername: "bot", Text: "low effort", CreatedAt: created.Add(2 * time.Minute), LikeCount: 1},
	}
	h := newPipelineHarness(t, tweets)
	ctx := context.Background()
	user, podcast := testsupport.SeedPodcast(t, h.repo, "hashtag", "space")

	payload, _ := json.Marshal(pipeline.FetchTweetsPayload{
		PodcastID:   podcast.ID,
		SourceType:  pipeline.SourceHashtag,
		SourceValue: "space",
		Filters:     &pipeline.Filters{MinimumLikes: 10},
	})
	high := int(pipeline.PriorityHigh)
	handle, err := h.svc.Enqueue(ctx, "fetch_tweets", payload, api.EnqueueOptions{Priority: &high})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := h.waitPodcast(t, podcast.ID, podcasts.StatusCompleted)
	if done.AudioURL != assembly.PublicURL("https://cdn.example.test", podcast.ID) {
		t.Fatalf("audio url = %q", done.AudioURL)
	}
	if done.TweetCount != 2 {
		t.Fatalf("tweet count = %d, want 2 after the likes filter", done.TweetCount)
	}
	// intro, two posts, one transition, outro
	if done.DurationSeconds != 5*assembly.FallbackSecondsPerFile {
		t.Fatalf("duration = %d", done.DurationSeconds)
	}

	fetchView, err := h.svc.GetJob(ctx, "fetch_tweets", handle.JobID)
	if err != nil || fetchView.State != "completed" || fetchView.Progress != 100 {
		t.Fatalf("fetch job = %+v, %v", fetchView, err)
	}
	for _, jobType := range pipeline.Types() {
		waitFor(t, 5*time.Second, string(jobType)+" completed", func() bool {
			counts, err := h.svc.Counts(ctx, string(jobType))
			return err == nil && counts.Completed == 1 && counts.Failed == 0
		})
	}

	cached, err := h.repo.GetTweet(ctx, "e2e-1")
	if err != nil || cached.EmotionType != string(pipeline.EmotionExcited) {
		t.Fatalf("cached emotion = %+v, %v", cached, err)
	}
	h.assemble.mu.Lock()
	inputs := len(h.assemble.inputs)
	meta := h.assemble.meta
	h.assemble.mu.Unlock()
	if inputs != 5 || meta.Title != "Morning Digest" || len(meta.Chapters) != 4 {
		t.Fatalf("assembler saw %d inputs, meta %+v", inputs, meta)
	}

	usage, err := h.repo.Usage(ctx, user.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	actions := make([]string, 0, len(usage))
	for _, entry := range usage {
		actions = append(actions, entry.Action)
	}
	if strings.Join(actions, ",") != "fetch_tweets,assemble_podcast" {
		t.Fatalf("usage actions = %v", actions)
	}
}

func TestPipelineMarksPodcastFailedWhenSynthesisExhausts(t *testing.T) {
	h := newPipelineHarness(t, []twitter.Tweet{{ID: "f-1", AuthorUsername: "nasa", Text: "hello there"}})
	h.synth.mu.Lock()
	h.synth.err = errors.New("voice service down")
	h.synth.mu.Unlock()
	ctx := context.Background()
	_, podcast := testsupport.SeedPodcast(t, h.repo, "username", "nasa")

	payload, _ := json.Marshal(pipeline.FetchTweetsPayload{
		PodcastID:   podcast.ID,
		SourceType:  pipeline.SourceUsername,
		SourceValue: "nasa",
	})
	if _, err := h.svc.Enqueue(ctx, "fetch_tweets", payload, api.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h.waitPodcast(t, podcast.ID, podcasts.StatusFailed)
	counts, err := h.svc.Counts(ctx, "generate_audio")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Failed != 1 {
		t.Fatalf("generate_audio counts = %+v", counts)
	}
	h.synth.mu.Lock()
	calls := h.synth.calls
	h.synth.mu.Unlock()
	if calls != 3 {
		t.Fatalf("synthesizer called %d times, want one per attempt", calls)
	}
	assembleCounts, _ := h.svc.Counts(ctx, "assemble_podcast")
	if assembleCounts.Waiting+assembleCounts.Completed != 0 {
		t.Fatalf("assembly must not run after a failed synthesis: %+v", assembleCounts)
	}
}
