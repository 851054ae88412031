package api

import (
	"testing"
	"time"

	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/stage"
	"tweetcast/internal/workflow"
)

func TestFromJobFoldsDueDelayedIntoWaiting(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := now.Add(-time.Minute)
	tests := []struct {
		name  string
		job   queue.Job
		state string
	}{
		{"delayed due", queue.Job{State: queue.StateDelayed, RunAt: now.Add(-time.Second)}, "waiting"},
		{"delayed future", queue.Job{State: queue.StateDelayed, RunAt: now.Add(time.Minute)}, "delayed"},
		{"failed", queue.Job{State: queue.StateFailed, FailureReason: "collaborator_error: boom", FinishedAt: &finished}, "failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.job.ID = "id-1"
			tc.job.Type = pipeline.GenerateAudio
			tc.job.CreatedAt = now.Add(-time.Hour)
			view := FromJob(&tc.job, now)
			if view.State != tc.state {
				t.Fatalf("state = %q, want %q", view.State, tc.state)
			}
			if view.Timestamp != tc.job.CreatedAt.UnixMilli() {
				t.Fatalf("timestamp = %d", view.Timestamp)
			}
			if tc.job.FinishedAt != nil && view.FinishedAt == "" {
				t.Fatal("finishedAt not formatted")
			}
			if view.FailedReason != tc.job.FailureReason {
				t.Fatalf("failedReason = %q", view.FailedReason)
			}
		})
	}
}

func TestFromStatusSummary(t *testing.T) {
	summary := workflow.StatusSummary{
		Running: true,
		Owner:   "host:1:abc",
		Executors: []workflow.ExecutorStatus{
			{Type: pipeline.FetchTweets, Stage: "fetcher", Concurrency: 5, Active: 1},
			{Type: pipeline.GenerateAudio, Stage: "synthesizer", Concurrency: 2, Paused: true},
		},
		QueueStats: map[pipeline.JobType]queue.Counts{
			pipeline.FetchTweets: {Active: 1, Completed: 4},
		},
		StageHealth: map[string]stage.Health{
			"synthesizer": stage.Unhealthy("synthesizer", "speech.api_key not configured"),
			"fetcher":     stage.Healthy("fetcher"),
		},
	}
	got := FromStatusSummary(summary)
	if !got.Running || len(got.Executors) != 2 || got.Executors[1].JobType != "generate_audio" {
		t.Fatalf("unexpected workflow status: %+v", got)
	}
	if len(got.QueueStats) != 4 || got.QueueStats[0].Completed != 4 || !got.QueueStats[2].Paused {
		t.Fatalf("queue stats = %+v", got.QueueStats)
	}
	if got.StageHealth[0].Name != "fetcher" || got.StageHealth[1].Ready {
		t.Fatalf("stage health not sorted: %+v", got.StageHealth)
	}
}
