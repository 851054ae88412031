package api

import (
	"slices"
	"time"

	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/stage"
	"tweetcast/internal/workflow"
)

// NewHandle builds the enqueue acknowledgement for job.
func NewHandle(job *queue.Job, existing bool) JobHandle {
	if job == nil {
		return JobHandle{}
	}
	return JobHandle{
		JobID:    job.ID,
		JobType:  string(job.Type),
		Status:   StatusQueued,
		Data:     job.Payload,
		Existing: existing,
	}
}

// FromJob converts a stored job to its API view. now resolves the effective
// state of waiting and delayed jobs.
func FromJob(job *queue.Job, now time.Time) JobView {
	if job == nil {
		return JobView{}
	}
	view := JobView{
		JobID:        job.ID,
		JobType:      string(job.Type),
		State:        string(job.EffectiveState(now)),
		Priority:     job.Priority,
		Progress:     job.Progress,
		Data:         job.Payload,
		ReturnValue:  job.Result,
		FailedReason: job.FailureReason,
		AttemptsMade: job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		Timestamp:    job.CreatedAt.UnixMilli(),
		CreatedAt:    FormatTime(job.CreatedAt),
		UpdatedAt:    FormatTime(job.UpdatedAt),
	}
	if job.FinishedAt != nil {
		view.FinishedAt = FormatTime(*job.FinishedAt)
	}
	return view
}

// FromCounts converts store counts for jobType.
func FromCounts(jobType pipeline.JobType, counts queue.Counts, paused bool) QueueCounts {
	return QueueCounts{
		JobType:   string(jobType),
		Paused:    paused,
		Waiting:   counts.Waiting,
		Active:    counts.Active,
		Delayed:   counts.Delayed,
		Completed: counts.Completed,
		Failed:    counts.Failed,
	}
}

// CountsSlice orders per-type counts by pipeline position. Types missing from
// counts are reported with zeroes.
func CountsSlice(counts map[pipeline.JobType]queue.Counts, paused []pipeline.JobType) []QueueCounts {
	out := make([]QueueCounts, 0, len(pipeline.Types()))
	for _, jobType := range pipeline.Types() {
		out = append(out, FromCounts(jobType, counts[jobType], slices.Contains(paused, jobType)))
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		Owner:       summary.Owner,
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	var paused []pipeline.JobType
	for _, ex := range summary.Executors {
		wf.Executors = append(wf.Executors, ExecutorStatus{
			JobType:     string(ex.Type),
			Stage:       ex.Stage,
			Concurrency: ex.Concurrency,
			Active:      ex.Active,
			Paused:      ex.Paused,
		})
		if ex.Paused {
			paused = append(paused, ex.Type)
		}
	}
	if summary.QueueStats != nil {
		wf.QueueStats = CountsSlice(summary.QueueStats, paused)
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob, time.Now())
		wf.LastJob = &last
	}
	return wf
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
