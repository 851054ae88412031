package workflow

import (
	"log/slog"
	"sync/atomic"
	"time"

	"tweetcast/internal/pipeline"
	"tweetcast/internal/stage"
)

// StageSet bundles the concrete stage handlers the manager runs, one per job
// type. Nil handlers leave their type without an executor.
type StageSet struct {
	FetchTweets     stage.Handler
	AnalyzeEmotions stage.Handler
	GenerateAudio   stage.Handler
	AssemblePodcast stage.Handler
}

func (s StageSet) handlerFor(t pipeline.JobType) stage.Handler {
	switch t {
	case pipeline.FetchTweets:
		return s.FetchTweets
	case pipeline.AnalyzeEmotions:
		return s.AnalyzeEmotions
	case pipeline.GenerateAudio:
		return s.GenerateAudio
	case pipeline.AssemblePodcast:
		return s.AssemblePodcast
	default:
		return nil
	}
}

// executor leases and runs jobs of one type. slots is a semaphore sized to
// the concurrency cap; wake is signalled on enqueue and job completion.
type executor struct {
	jobType pipeline.JobType
	name    string
	handler stage.Handler
	policy  pipeline.Policy
	slots   chan struct{}
	wake    chan struct{}
	logger  *slog.Logger
	active  atomic.Int32

	// Owned by the leasing loop goroutine.
	lastReclaim   time.Time
	storeFailures int
}

func newExecutor(jobType pipeline.JobType, name string, handler stage.Handler, policy pipeline.Policy) *executor {
	return &executor{
		jobType: jobType,
		name:    name,
		handler: handler,
		policy:  policy,
		slots:   make(chan struct{}, policy.Concurrency),
		wake:    make(chan struct{}, 1),
	}
}

func (e *executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
