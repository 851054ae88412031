package stage

import (
	"context"

	"tweetcast/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
// Execute returns the JSON-serializable result stored on the completed job.
type Handler interface {
	Execute(ctx context.Context, job *queue.Job, progress Progress) (any, error)
	HealthCheck(context.Context) Health
}

// Progress receives percent-complete updates from a running stage.
type Progress interface {
	Report(ctx context.Context, percent int) error
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(ctx context.Context, percent int) error

func (f ProgressFunc) Report(ctx context.Context, percent int) error {
	return f(ctx, percent)
}

// Discard ignores progress updates.
var Discard Progress = ProgressFunc(func(context.Context, int) error { return nil })
