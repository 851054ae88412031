package queue

import (
	"encoding/json"
	"time"

	"tweetcast/internal/pipeline"
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is a persisted unit of work. Only the current lease holder mutates
// State, Attempts, Progress and Result.
type Job struct {
	ID             string
	Seq            int64
	Type           pipeline.JobType
	Priority       int
	Payload        json.RawMessage
	State          State
	Attempts       int
	MaxAttempts    int
	Progress       int
	Result         json.RawMessage
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	RunAt          time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	FinishedAt     *time.Time
	DedupeKey      string
	ChainedAt      *time.Time
}

// EffectiveState folds due delayed jobs into waiting and not-yet-due waiting
// jobs into delayed, matching what Counts reports.
func (j *Job) EffectiveState(now time.Time) State {
	switch j.State {
	case StateWaiting, StateDelayed:
		if j.RunAt.After(now) {
			return StateDelayed
		}
		return StateWaiting
	default:
		return j.State
	}
}

// NewJob describes a job to insert.
type NewJob struct {
	Type        pipeline.JobType
	Priority    int
	Payload     []byte
	MaxAttempts int
	// DedupeKey, when set, returns the existing non-failed job of the same
	// type and key instead of inserting a duplicate.
	DedupeKey string
	// RunAt defers the first lease. Zero means immediately.
	RunAt time.Time
}

// Counts is the per-state breakdown for one job type.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Total sums every state.
func (c Counts) Total() int {
	return c.Waiting + c.Active + c.Delayed + c.Completed + c.Failed
}

// ListFilter narrows List results.
type ListFilter struct {
	Type   pipeline.JobType
	States []State
	Limit  int
}

// ReclaimResult reports the outcome of an expired-lease sweep.
type ReclaimResult struct {
	Requeued []string
	Failed   []string
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	PausedTypes      []string
	Error            string
}
