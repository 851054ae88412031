package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"tweetcast/internal/config"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustInsert stores a job with the type's policy defaults.
func MustInsert(t testing.TB, store *queue.Store, jobType pipeline.JobType, priority int, payload string) *queue.Job {
	t.Helper()

	policy, ok := pipeline.PolicyFor(jobType)
	if !ok {
		t.Fatalf("no policy for %s", jobType)
	}
	job, _, err := store.Insert(context.Background(), queue.NewJob{
		Type:        jobType,
		Priority:    priority,
		Payload:     []byte(payload),
		MaxAttempts: policy.MaxAttempts,
	})
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return job
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
