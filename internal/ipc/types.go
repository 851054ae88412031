package ipc

import (
	"encoding/json"

	"tweetcast/internal/api"
)

// StopRequest asks the daemon process to shut down.
type StopRequest struct{}

// StopResponse acknowledges a stop request. Shutdown continues after the reply.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}

// StatusRequest requests daemon status.
type StatusRequest struct{}

// StatusResponse carries the daemon status snapshot.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// EnqueueRequest submits one job.
type EnqueueRequest struct {
	JobType   string          `json:"jobType"`
	Payload   json.RawMessage `json:"payload"`
	Priority  *int            `json:"priority,omitempty"`
	DedupeKey string          `json:"dedupeKey,omitempty"`
}

// EnqueueResponse returns the handle of the stored job.
type EnqueueResponse struct {
	Handle api.JobHandle `json:"handle"`
}

// JobShowRequest looks up one job.
type JobShowRequest struct {
	JobType string `json:"jobType"`
	JobID   string `json:"jobId"`
}

// JobShowResponse returns the job view.
type JobShowResponse struct {
	Job api.JobView `json:"job"`
}

// CountsRequest asks for one type's counts, or every type when JobType is empty.
type CountsRequest struct {
	JobType string `json:"jobType,omitempty"`
}

// CountsResponse lists counts in pipeline order.
type CountsResponse struct {
	Queues []api.QueueCounts `json:"queues"`
}

// PauseRequest pauses or resumes one type.
type PauseRequest struct {
	JobType string `json:"jobType"`
}

// PauseResponse reports the resulting pause flag.
type PauseResponse struct {
	JobType string `json:"jobType"`
	Paused  bool   `json:"paused"`
}

// CleanRequest removes finished jobs. A nil GraceMillis uses the default grace.
type CleanRequest struct {
	JobType     string `json:"jobType"`
	GraceMillis *int64 `json:"graceMillis,omitempty"`
}

// CleanResponse lists removed job ids.
type CleanResponse struct {
	Result api.CleanResult `json:"result"`
}

// DatabaseHealthRequest requests job store diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse mirrors queue.DatabaseHealth on the wire.
type DatabaseHealthResponse struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    int      `json:"schema_version"`
	TableExists      bool     `json:"table_exists"`
	ColumnsPresent   []string `json:"columns_present"`
	MissingColumns   []string `json:"missing_columns"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalJobs        int      `json:"total_jobs"`
	PausedTypes      []string `json:"paused_types"`
	Error            string   `json:"error"`
}
