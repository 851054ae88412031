package events

import (
	"context"
	"encoding/json"
	"time"
)

// Type names a lifecycle transition.
type Type string

const (
	JobQueued    Type = "job.queued"
	JobActive    Type = "job.active"
	JobCompleted Type = "job.completed"
	JobRetrying  Type = "job.retrying"
	JobFailed    Type = "job.failed"
)

// Event describes one job transition.
type Event struct {
	Type      Type            `json:"type"`
	JobID     string          `json:"jobId"`
	JobType   string          `json:"jobType"`
	PodcastID int64           `json:"podcastId,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler receives delivered events.
type Handler func(ctx context.Context, event Event)

// Bus publishes events and fans them out to subscribers.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe registers handler for the given types. The returned function
	// removes the subscription.
	Subscribe(handler Handler, types ...Type) (func(), error)
	Close() error
}
