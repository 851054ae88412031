package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tweetcast/internal/config"
	"tweetcast/internal/notifications"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/stage"
	"tweetcast/internal/workflow"
)

// stubHandler runs fn for every job and reports healthy.
type stubHandler struct {
	name string
	fn   func(ctx context.Context, job *queue.Job, progress stage.Progress) (any, error)
}

func (h *stubHandler) Execute(ctx context.Context, job *queue.Job, progress stage.Progress) (any, error) {
	return h.fn(ctx, job, progress)
}

func (h *stubHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(h.name)
}

func handlerFunc(fn func(ctx context.Context, job *queue.Job, progress stage.Progress) (any, error)) *stubHandler {
	return &stubHandler{name: "stub", fn: fn}
}

type notifierStub struct {
	mu     sync.Mutex
	events []notifications.Event
	loads  []notifications.Payload
}

func (n *notifierStub) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.loads = append(n.loads, payload)
	return nil
}

func (n *notifierStub) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

// fastPolicy keeps the built-in attempts but shrinks the backoff.
func fastPolicy(t *testing.T, jobType pipeline.JobType, maxAttempts, concurrency int) pipeline.Policy {
	t.Helper()
	policy, ok := pipeline.PolicyFor(jobType)
	if !ok {
		t.Fatalf("no policy for %s", jobType)
	}
	policy.MaxAttempts = maxAttempts
	policy.Backoff = pipeline.BackoffFixed
	policy.BaseDelay = 10 * time.Millisecond
	policy.Concurrency = concurrency
	return policy
}

func startManager(t *testing.T, cfg *config.Config, store *queue.Store, set workflow.StageSet, opts ...workflow.ManagerOption) *workflow.Manager {
	t.Helper()
	mgr := workflow.NewManager(cfg, store, nil, opts...)
	if err := mgr.ConfigureStages(set); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return mgr
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, store *queue.Store, id string, state queue.State) *queue.Job {
	t.Helper()
	var job *queue.Job
	waitFor(t, 10*time.Second, "job "+id+" to reach "+string(state), func() bool {
		got, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		job = got
		return got != nil && got.State == state
	})
	return job
}

// marker returns the test-only "marker" payload field.
func marker(job *queue.Job) string {
	var payload struct {
		Marker string `json:"marker"`
	}
	_ = json.Unmarshal(job.Payload, &payload)
	return payload.Marker
}

var errFlaky = errors.New("upstream hiccup")
