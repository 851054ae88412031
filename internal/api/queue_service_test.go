package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tweetcast/internal/api"
	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
	"tweetcast/internal/testsupport"
)

type fakeWorkers struct {
	mu       sync.Mutex
	notified []pipeline.JobType
	shutdown int
	err      error
}

func (f *fakeWorkers) Notify(jobType pipeline.JobType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, jobType)
}

func (f *fakeWorkers) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown++
	return f.err
}

func newService(t *testing.T, opts ...api.Option) (*api.QueueService, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return api.NewQueueService(store, opts...), store
}

const fetchPayload = `{"podcastId": 7, "sourceType": "hashtag", "sourceValue": "golang"}`

func TestEnqueueThenGetJob(t *testing.T) {
	workers := &fakeWorkers{}
	bus := events.NewLocal(logging.NewNop())
	t.Cleanup(func() { _ = bus.Close() })
	queued := make(chan events.Event, 1)
	if _, err := bus.Subscribe(func(_ context.Context, e events.Event) { queued <- e }, events.JobQueued); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	svc, _ := newService(t, api.WithWorkers(workers), api.WithBus(bus))
	ctx := context.Background()

	handle, err := svc.Enqueue(ctx, "fetch_tweets", json.RawMessage(fetchPayload), api.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if handle.JobID == "" || handle.JobType != "fetch_tweets" || handle.Status != api.StatusQueued {
		t.Fatalf("unexpected handle: %+v", handle)
	}
	if string(handle.Data) != `{"podcastId":7,"sourceType":"hashtag","sourceValue":"golang"}` {
		t.Fatalf("payload not echoed compactly: %s", handle.Data)
	}

	view, err := svc.GetJob(ctx, "fetch_tweets", handle.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if view.State != "waiting" || view.AttemptsMade != 0 || view.Progress != 0 {
		t.Fatalf("new job view = %+v", view)
	}
	if view.MaxAttempts != 3 || view.Priority != int(pipeline.PriorityMedium) || view.Timestamp == 0 {
		t.Fatalf("policy defaults not applied: %+v", view)
	}

	if len(workers.notified) != 1 || workers.notified[0] != pipeline.FetchTweets {
		t.Fatalf("workers notified = %v", workers.notified)
	}
	select {
	case e := <-queued:
		if e.JobID != handle.JobID || e.PodcastID != 7 {
			t.Fatalf("unexpected queued event: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected job.queued event")
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "transcode", json.RawMessage(`{}`), api.EnqueueOptions{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown type error = %v", err)
	}

	_, err = svc.Enqueue(ctx, "generate_audio", json.RawMessage(`{"podcastId":0,"segments":[]}`), api.EnqueueOptions{})
	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("expected every problem reported, got %v", verr.Problems)
	}

	counts, err := store.AllCounts(ctx)
	if err != nil {
		t.Fatalf("AllCounts: %v", err)
	}
	for jobType, c := range counts {
		if c.Total() != 0 {
			t.Fatalf("rejected enqueue wrote %s rows: %+v", jobType, c)
		}
	}
}

func TestEnqueuePriorityAndDedupe(t *testing.T) {
	workers := &fakeWorkers{}
	svc, _ := newService(t, api.WithWorkers(workers))
	ctx := context.Background()
	payload := json.RawMessage(`{"podcastId":3,"tweetIds":["1","2"]}`)

	high := 10
	first, err := svc.Enqueue(ctx, "analyze_emotions", payload, api.EnqueueOptions{Priority: &high, DedupeKey: "podcast:3:analyze_emotions"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := svc.Enqueue(ctx, "analyze_emotions", payload, api.EnqueueOptions{DedupeKey: "podcast:3:analyze_emotions"})
	if err != nil {
		t.Fatalf("Enqueue duplicate: %v", err)
	}
	if second.JobID != first.JobID || !second.Existing {
		t.Fatalf("duplicate key should return the live job: %+v vs %+v", second, first)
	}
	if len(workers.notified) != 1 {
		t.Fatalf("dedupe hit must not wake workers: %v", workers.notified)
	}
	view, err := svc.GetJob(ctx, "analyze_emotions", first.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if view.Priority != 10 {
		t.Fatalf("priority = %d, want 10", view.Priority)
	}

	assemble, err := svc.Enqueue(ctx, "assemble_podcast", json.RawMessage(`{"podcastId":3,"audioFiles":["a.mp3"],"metadata":{"title":"t","author":"a"}}`), api.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue assemble: %v", err)
	}
	assembleView, _ := svc.GetJob(ctx, "assemble_podcast", assemble.JobID)
	if assembleView.Priority != int(pipeline.PriorityLow) {
		t.Fatalf("assemble default priority = %d", assembleView.Priority)
	}
}

func TestGetJobTypeMismatchIsNotFound(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	handle, err := svc.Enqueue(ctx, "fetch_tweets", json.RawMessage(fetchPayload), api.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := svc.GetJob(ctx, "analyze_emotions", handle.JobID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("type mismatch error = %v", err)
	}
	if _, err := svc.GetJob(ctx, "fetch_tweets", "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing id error = %v", err)
	}
	if _, err := svc.GetJob(ctx, "nope", handle.JobID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown type error = %v", err)
	}
}

func TestCountsPauseResume(t *testing.T) {
	workers := &fakeWorkers{}
	svc, _ := newService(t, api.WithWorkers(workers))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := svc.Enqueue(ctx, "fetch_tweets", json.RawMessage(fetchPayload), api.EnqueueOptions{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := svc.Pause(ctx, "fetch_tweets"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	counts, err := svc.Counts(ctx, "fetch_tweets")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Waiting != 2 || !counts.Paused {
		t.Fatalf("counts = %+v", counts)
	}

	stats, err := svc.AllCounts(ctx)
	if err != nil {
		t.Fatalf("AllCounts: %v", err)
	}
	if len(stats.Queues) != 4 || stats.Queues[0].JobType != "fetch_tweets" || stats.Queues[1].Paused {
		t.Fatalf("stats = %+v", stats)
	}

	if err := svc.Resume(ctx, "fetch_tweets"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	counts, _ = svc.Counts(ctx, "fetch_tweets")
	if counts.Paused {
		t.Fatal("resume did not clear pause flag")
	}
	if got := workers.notified[len(workers.notified)-1]; got != pipeline.FetchTweets {
		t.Fatalf("resume should wake executor, last notify %q", got)
	}
	if err := svc.Pause(ctx, "unknown"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("pause unknown type = %v", err)
	}
}

func TestCleanRemovesOnlyFinishedJobsPastGrace(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	finished := testsupport.MustInsert(t, store, pipeline.FetchTweets, 5, fetchPayload)
	leased, err := store.Lease(ctx, pipeline.FetchTweets, "owner", time.Minute)
	if err != nil || leased == nil || leased.ID != finished.ID {
		t.Fatalf("Lease: %v, %v", leased, err)
	}
	if err := store.Complete(ctx, finished.ID, "owner", []byte(`{"count":0}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	waiting := testsupport.MustInsert(t, store, pipeline.FetchTweets, 5, fetchPayload)

	result, err := svc.Clean(ctx, "fetch_tweets", time.Hour)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if result.Count != 0 {
		t.Fatalf("grace should protect recent jobs, removed %v", result.Removed)
	}

	result, err = svc.Clean(ctx, "fetch_tweets", 0)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if result.Count != 1 || result.Removed[0] != finished.ID {
		t.Fatalf("clean removed %v, want [%s]", result.Removed, finished.ID)
	}
	if job, _ := store.Get(ctx, waiting.ID); job == nil {
		t.Fatal("waiting job must survive clean")
	}
	if _, err := svc.Clean(ctx, "fetch_tweets", -time.Second); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("negative grace error = %v", err)
	}
}

func TestCloseAllDrainsOnce(t *testing.T) {
	workers := &fakeWorkers{err: context.DeadlineExceeded}
	svc, store := newService(t, api.WithWorkers(workers))

	err := svc.CloseAll(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("CloseAll = %v", err)
	}
	if again := svc.CloseAll(context.Background()); again != err {
		t.Fatalf("second CloseAll = %v, want first result", again)
	}
	if workers.shutdown != 1 {
		t.Fatalf("workers drained %d times", workers.shutdown)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("store should be closed")
	}
}
