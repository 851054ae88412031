package testsupport

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"

	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
)

// NewJob builds an unsaved active job carrying payload, for calling stage
// handlers directly.
func NewJob(t testing.TB, jobType pipeline.JobType, payload any) *queue.Job {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		State:       queue.StateActive,
		Attempts:    1,
		MaxAttempts: 3,
	}
}

// ProgressRecorder collects every reported value.
type ProgressRecorder struct {
	mu     sync.Mutex
	values []int
}

func (r *ProgressRecorder) Report(_ context.Context, percent int) error {
	r.mu.Lock()
	r.values = append(r.values, percent)
	r.mu.Unlock()
	return nil
}

// Values returns a copy of the reported values in order.
func (r *ProgressRecorder) Values() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.values)
}

// Last returns the most recent value, or -1 when nothing was reported.
func (r *ProgressRecorder) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return -1
	}
	return r.values[len(r.values)-1]
}
