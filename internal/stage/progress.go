package stage

import (
	"context"
	"sync"
)

// Reporter clamps updates to 0..100, drops values that would move progress
// backwards, and forwards only changes to persist.
type Reporter struct {
	mu      sync.Mutex
	current int
	persist func(ctx context.Context, percent int) error
}

// NewReporter returns a Reporter starting at zero.
func NewReporter(persist func(ctx context.Context, percent int) error) *Reporter {
	return &Reporter{persist: persist}
}

// Report clamps percent to 0..100 and ignores values that do not increase.
func (r *Reporter) Report(ctx context.Context, percent int) error {
	percent = min(max(percent, 0), 100)
	r.mu.Lock()
	defer r.mu.Unlock()
	if percent <= r.current {
		return nil
	}
	if r.persist != nil {
		if err := r.persist(ctx, percent); err != nil {
			return err
		}
	}
	r.current = percent
	return nil
}

// Current returns the last accepted value.
func (r *Reporter) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
