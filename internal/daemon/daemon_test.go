package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"tweetcast/internal/api"
	"tweetcast/internal/daemon"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/stage"
	"tweetcast/internal/testsupport"
	"tweetcast/internal/workflow"
)

type noopStage struct{}

func (noopStage) Execute(context.Context, *queue.Job, stage.Progress) (any, error) { return nil, nil }
func (noopStage) HealthCheck(context.Context) stage.Health                        { return stage.Healthy("noop") }

func newDaemon(t *testing.T, bind string) (*daemon.Daemon, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = bind
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, nil)
	if err := mgr.ConfigureStages(workflow.StageSet{FetchTweets: noopStage{}}); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	svc := api.NewQueueService(store, api.WithWorkers(mgr))
	d, err := daemon.New(cfg, store, svc, mgr, nil, daemon.WithEventBus("local"))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d, store
}

func TestDaemonStartStop(t *testing.T) {
	d, store := newDaemon(t, "127.0.0.1:0")
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.EventBus != "local" || status.QueueDBPath != store.Path() {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.HTTPAddress == "" {
		t.Fatal("expected http address")
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency snapshot")
	}

	resp, err := http.Get("http://" + status.HTTPAddress + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if d.Running() {
		t.Fatal("expected daemon to be stopped")
	}
	if err := store.Ping(ctx); err == nil {
		t.Fatal("expected store to be closed after Stop")
	}
	// A second Stop returns the first result.
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestDaemonLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	build := func() *daemon.Daemon {
		store := testsupport.MustOpenStore(t, cfg)
		mgr := workflow.NewManager(cfg, store, nil)
		if err := mgr.ConfigureStages(workflow.StageSet{FetchTweets: noopStage{}}); err != nil {
			t.Fatalf("ConfigureStages: %v", err)
		}
		d, err := daemon.New(cfg, store, api.NewQueueService(store, api.WithWorkers(mgr)), mgr, nil)
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		return d
	}
	first, second := build(), build()
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop(ctx)

	if err := second.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRequestStopClosesChannelOnce(t *testing.T) {
	d, _ := newDaemon(t, "")
	d.RequestStop()
	d.RequestStop()
	select {
	case <-d.StopRequested():
	default:
		t.Fatal("expected stop request to be signalled")
	}
	if got := d.Queue(); got == nil {
		t.Fatal("expected queue service")
	}
	if _, err := d.Queue().Counts(context.Background(), string(pipeline.FetchTweets)); err != nil {
		t.Fatalf("Counts: %v", err)
	}
}
