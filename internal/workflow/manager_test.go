package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/notifications"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
	"tweetcast/internal/stage"
	"tweetcast/internal/testsupport"
	"tweetcast/internal/workflow"
)

func TestStartRequiresStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, nil)
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected start without stages to fail")
	}
}

func TestExecutorLeasesByPriorityThenEnqueueOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.MustInsert(t, store, pipeline.FetchTweets, 5, `{"podcastId":1,"marker":"medium-1"}`)
	testsupport.MustInsert(t, store, pipeline.FetchTweets, 1, `{"podcastId":1,"marker":"low"}`)
	testsupport.MustInsert(t, store, pipeline.FetchTweets, 10, `{"podcastId":1,"marker":"high"}`)
	testsupport.MustInsert(t, store, pipeline.FetchTweets, 5, `{"podcastId":1,"marker":"medium-2"}`)

	var (
		mu    sync.Mutex
		order []string
	)
	handler := handlerFunc(func(_ context.Context, job *queue.Job, _ stage.Progress) (any, error) {
		mu.Lock()
		order = append(order, marker(job))
		mu.Unlock()
		return map[string]string{"ok": "yes"}, nil
	})
	startManager(t, cfg, store, workflow.StageSet{FetchTweets: handler},
		workflow.WithPolicy(fastPolicy(t, pipeline.FetchTweets, 3, 1)))

	waitFor(t, 10*time.Second, "four jobs", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	})
	want := "high,medium-1,medium-2,low"
	mu.Lock()
	got := strings.Join(order, ",")
	mu.Unlock()
	if got != want {
		t.Fatalf("lease order = %s, want %s", got, want)
	}
}

func TestFailingTwiceThenSucceedingCompletesWithThreeAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.MustInsert(t, store, pipeline.AnalyzeEmotions, 5, `{"podcastId":1,"tweetIds":["a"]}`)

	var calls atomic.Int32
	handler := handlerFunc(func(ctx context.Context, _ *queue.Job, progress stage.Progress) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errFlaky
		}
		if err := progress.Report(ctx, 50); err != nil {
			return nil, err
		}
		return pipeline.AnalyzeEmotionsResult{Analyzed: 1}, nil
	})
	startManager(t, cfg, store, workflow.StageSet{AnalyzeEmotions: handler},
		workflow.WithPolicy(fastPolicy(t, pipeline.AnalyzeEmotions, 3, 1)))

	done := waitForState(t, store, job.ID, queue.StateCompleted)
	if done.Attempts != 3 || done.Progress != 100 {
		t.Fatalf("attempts=%d progress=%d, want 3 and 100", done.Attempts, done.Progress)
	}
	result, err := pipeline.Decode[pipeline.AnalyzeEmotionsResult](done.Result)
	if err != nil || result.Analyzed != 1 {
		t.Fatalf("stored result = %+v, %v", result, err)
	}
	if done.FailureReason != "" {
		t.Fatalf("completed job kept failure reason %q", done.FailureReason)
	}
}

func TestFailingTwiceWithTwoAttemptsFailsPermanently(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &notifierStub{}
	bus := events.NewLocal(logging.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	failed := make(chan events.Event, 1)
	if _, err := bus.Subscribe(func(_ context.Context, e events.Event) { failed <- e }, events.JobFailed); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var calls atomic.Int32
	handler := handlerFunc(func(context.Context, *queue.Job, stage.Progress) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errFlaky
		}
		return "unreachable", nil
	})
	// max_attempts is fixed on the job at enqueue time.
	job, _, err := store.Insert(context.Background(), queue.NewJob{
		Type:        pipeline.AnalyzeEmotions,
		Priority:    10,
		Payload:     []byte(`{"podcastId":2,"tweetIds":["b"]}`),
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	startManager(t, cfg, store, workflow.StageSet{AnalyzeEmotions: handler},
		workflow.WithPolicy(fastPolicy(t, pipeline.AnalyzeEmotions, 2, 1)),
		workflow.WithNotifier(notifier),
		workflow.WithBus(bus))

	got := waitForState(t, store, job.ID, queue.StateFailed)
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
	if !strings.HasPrefix(got.FailureReason, "exhausted_retries: ") || !strings.Contains(got.FailureReason, errFlaky.Error()) {
		t.Fatalf("failure reason = %q", got.FailureReason)
	}

	select {
	case e := <-failed:
		if e.JobID != job.ID || e.PodcastID != 2 || e.ErrorKind != "exhausted_retries" {
			t.Fatalf("unexpected failed event: %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected job.failed event")
	}
	waitFor(t, 5*time.Second, "failure notification", func() bool {
		return notifier.count(notifications.EventJobFailed) == 1
	})
}

func TestNotFoundAndValidationErrorsAreRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "not found", err: services.NotFound("analyze_emotions", "podcast", 3)},
		{name: "validation", err: services.NewValidationError("payload", []string{"tweetIds is empty"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			store := testsupport.MustOpenStore(t, cfg)
			job := testsupport.MustInsert(t, store, pipeline.AnalyzeEmotions, 5, `{"podcastId":3,"tweetIds":["c"]}`)

			var calls atomic.Int32
			handler := handlerFunc(func(context.Context, *queue.Job, stage.Progress) (any, error) {
				calls.Add(1)
				return nil, tt.err
			})
			startManager(t, cfg, store, workflow.StageSet{AnalyzeEmotions: handler},
				workflow.WithPolicy(fastPolicy(t, pipeline.AnalyzeEmotions, 3, 1)))

			got := waitForState(t, store, job.ID, queue.StateFailed)
			if got.Attempts != 3 || calls.Load() != 3 {
				t.Fatalf("attempts=%d calls=%d, want 3 and 3", got.Attempts, calls.Load())
			}
			if !strings.HasPrefix(got.FailureReason, "exhausted_retries: ") {
				t.Fatalf("failure reason = %q", got.FailureReason)
			}
		})
	}
}

func TestConcurrencyCapLimitsActiveJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency("generate_audio", 2))
	store := testsupport.MustOpenStore(t, cfg)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, testsupport.MustInsert(t, store, pipeline.GenerateAudio, 5, `{"podcastId":1}`).ID)
	}

	release := make(chan struct{})
	var active, peak atomic.Int32
	handler := handlerFunc(func(context.Context, *queue.Job, stage.Progress) (any, error) {
		now := active.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		<-release
		active.Add(-1)
		return pipeline.GenerateAudioResult{}, nil
	})
	startManager(t, cfg, store, workflow.StageSet{GenerateAudio: handler})

	waitFor(t, 5*time.Second, "two active jobs", func() bool { return active.Load() == 2 })
	time.Sleep(300 * time.Millisecond)
	counts, err := store.Counts(context.Background(), pipeline.GenerateAudio)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Active != 2 || counts.Waiting != 3 {
		t.Fatalf("counts while saturated = %+v", counts)
	}
	close(release)

	for _, id := range ids {
		waitForState(t, store, id, queue.StateCompleted)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds cap 2", peak.Load())
	}
}

func TestPauseBlocksNewLeasesWhileInflightDrains(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	first := testsupport.MustInsert(t, store, pipeline.AssemblePodcast, 1, `{"podcastId":1,"marker":"first"}`)

	started := make(chan string, 2)
	release := make(chan struct{})
	handler := handlerFunc(func(_ context.Context, job *queue.Job, _ stage.Progress) (any, error) {
		started <- marker(job)
		if marker(job) == "first" {
			<-release
		}
		return pipeline.AssemblePodcastResult{AlreadyCompleted: true}, nil
	})
	mgr := startManager(t, cfg, store, workflow.StageSet{AssemblePodcast: handler},
		workflow.WithPolicy(fastPolicy(t, pipeline.AssemblePodcast, 3, 1)))

	if got := <-started; got != "first" {
		t.Fatalf("started %q", got)
	}
	if err := store.Pause(ctx, pipeline.AssemblePodcast); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	second := testsupport.MustInsert(t, store, pipeline.AssemblePodcast, 10, `{"podcastId":2,"marker":"second"}`)
	mgr.Notify(pipeline.AssemblePodcast)
	close(release)

	waitForState(t, store, first.ID, queue.StateCompleted)
	time.Sleep(1500 * time.Millisecond)
	got, err := store.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != queue.StateWaiting || got.Attempts != 0 {
		t.Fatalf("paused job was leased: state=%s attempts=%d", got.State, got.Attempts)
	}
	status := mgr.Status(ctx)
	if len(status.Executors) != 1 || !status.Executors[0].Paused {
		t.Fatalf("status should report paused executor: %+v", status.Executors)
	}

	if err := store.Resume(ctx, pipeline.AssemblePodcast); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	mgr.Notify(pipeline.AssemblePodcast)
	waitForState(t, store, second.ID, queue.StateCompleted)
}

func TestPanicIsRecoveredAsStageFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.MustInsert(t, store, pipeline.FetchTweets, 5, `{"podcastId":1}`)

	var calls atomic.Int32
	handler := handlerFunc(func(context.Context, *queue.Job, stage.Progress) (any, error) {
		if calls.Add(1) == 1 {
			panic("nil collaborator")
		}
		return pipeline.FetchTweetsResult{Count: 0}, nil
	})
	startManager(t, cfg, store, workflow.StageSet{FetchTweets: handler},
		workflow.WithPolicy(fastPolicy(t, pipeline.FetchTweets, 3, 1)))

	done := waitForState(t, store, job.ID, queue.StateCompleted)
	if done.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 after recovered panic", done.Attempts)
	}
}

func TestExpiredLeaseFromCrashedOwnerIsReclaimed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.MustInsert(t, store, pipeline.GenerateAudio, 5, `{"podcastId":1}`)

	leased, err := store.Lease(ctx, pipeline.GenerateAudio, "crashed-process", time.Millisecond)
	if err != nil || leased == nil {
		t.Fatalf("Lease: %v, %v", leased, err)
	}
	time.Sleep(20 * time.Millisecond)

	handler := handlerFunc(func(context.Context, *queue.Job, stage.Progress) (any, error) {
		return pipeline.GenerateAudioResult{SegmentCount: 1, AudioFiles: []string{"a.mp3"}}, nil
	})
	mgr := startManager(t, cfg, store, workflow.StageSet{GenerateAudio: handler})

	done := waitForState(t, store, job.ID, queue.StateCompleted)
	if done.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (crashed attempt kept)", done.Attempts)
	}
	if done.LeaseOwner != "" {
		t.Fatalf("lease owner not cleared: %q", done.LeaseOwner)
	}
	if mgr.Owner() == "crashed-process" {
		t.Fatal("manager should lease under its own owner id")
	}
}

func TestProgressAndLifecycleEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	bus := events.NewLocal(logging.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	var (
		mu   sync.Mutex
		seen []events.Type
	)
	if _, err := bus.Subscribe(func(_ context.Context, e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}, events.JobActive, events.JobCompleted); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	observed := make(chan int, 1)
	handler := handlerFunc(func(ctx context.Context, job *queue.Job, progress stage.Progress) (any, error) {
		for _, p := range []int{30, 20, 70} {
			if err := progress.Report(ctx, p); err != nil {
				return nil, err
			}
		}
		current, err := store.Get(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		observed <- current.Progress
		return pipeline.FetchTweetsResult{TweetIDs: []string{"1"}, Count: 1}, nil
	})
	mgr := startManager(t, cfg, store, workflow.StageSet{FetchTweets: handler}, workflow.WithBus(bus))

	job := testsupport.MustInsert(t, store, pipeline.FetchTweets, 5, `{"podcastId":9}`)
	if err := bus.Publish(context.Background(), events.Event{Type: events.JobQueued, JobID: job.ID, JobType: string(job.Type)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case p := <-observed:
		if p != 70 {
			t.Fatalf("persisted progress mid-run = %d, want 70", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
	waitForState(t, store, job.ID, queue.StateCompleted)
	waitFor(t, 5*time.Second, "active and completed events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	mu.Lock()
	if seen[0] != events.JobActive || seen[1] != events.JobCompleted {
		t.Fatalf("event order = %v", seen)
	}
	mu.Unlock()

	status := mgr.Status(context.Background())
	if !status.Running || status.StageHealth["fetcher"].Ready != true {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.QueueStats[pipeline.FetchTweets].Completed != 1 {
		t.Fatalf("queue stats = %+v", status.QueueStats)
	}
}

func TestShutdownTimeoutLeavesLeaseForReclaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.MustInsert(t, store, pipeline.GenerateAudio, 5, `{"podcastId":1}`)

	running := make(chan struct{})
	handler := handlerFunc(func(ctx context.Context, _ *queue.Job, _ stage.Progress) (any, error) {
		close(running)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	mgr := workflow.NewManager(cfg, store, nil)
	if err := mgr.ConfigureStages(workflow.StageSet{GenerateAudio: handler}); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := mgr.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown = %v, want deadline exceeded", err)
	}
	got, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != queue.StateActive || got.LeaseOwner != mgr.Owner() {
		t.Fatalf("interrupted job should keep its lease: state=%s owner=%q", got.State, got.LeaseOwner)
	}
}

func TestRepeatedStoreFailuresReportFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StoreFailureLimit = 2
	store := testsupport.MustOpenStore(t, cfg)
	handler := handlerFunc(func(context.Context, *queue.Job, stage.Progress) (any, error) { return nil, nil })
	mgr := startManager(t, cfg, store, workflow.StageSet{FetchTweets: handler})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-mgr.Fatal():
		if err == nil || !strings.Contains(err.Error(), "consecutive store failures") {
			t.Fatalf("unexpected fatal error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("expected fatal error after repeated store failures")
	}
}
