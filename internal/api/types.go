package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// StatusQueued is the status reported for a freshly enqueued job.
const StatusQueued = "queued"

// EnqueueRequest is the HTTP and IPC body for enqueueing a job.
type EnqueueRequest struct {
	Payload  json.RawMessage `json:"payload"`
	Priority *int            `json:"priority,omitempty"`
}

// JobHandle acknowledges an enqueued job.
type JobHandle struct {
	JobID   string          `json:"jobId"`
	JobType string          `json:"jobType"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	// Existing is set when a dedupe key matched a live job.
	Existing bool `json:"existing,omitempty"`
}

// JobView describes a job in a transport-friendly format.
type JobView struct {
	JobID        string          `json:"jobId"`
	JobType      string          `json:"jobType"`
	State        string          `json:"state"`
	Priority     int             `json:"priority"`
	Progress     int             `json:"progress"`
	Data         json.RawMessage `json:"data"`
	ReturnValue  json.RawMessage `json:"returnvalue,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	// Timestamp is the enqueue time in milliseconds since the Unix epoch.
	Timestamp  int64  `json:"timestamp"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// QueueCounts is the per-state breakdown for one job type.
type QueueCounts struct {
	JobType   string `json:"jobType"`
	Paused    bool   `json:"paused"`
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Delayed   int    `json:"delayed"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// QueueStatsResponse holds counts for every job type.
type QueueStatsResponse struct {
	Queues []QueueCounts `json:"queues"`
}

// CleanResult reports the jobs removed by a clean call.
type CleanResult struct {
	JobType string   `json:"jobType"`
	Removed []string `json:"removed"`
	Count   int      `json:"count"`
}

// ExecutorStatus mirrors one workflow executor.
type ExecutorStatus struct {
	JobType     string `json:"jobType"`
	Stage       string `json:"stage"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
	Paused      bool   `json:"paused"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool             `json:"running"`
	Owner       string           `json:"owner,omitempty"`
	Executors   []ExecutorStatus `json:"executors"`
	QueueStats  []QueueCounts    `json:"queueStats"`
	LastError   string           `json:"lastError,omitempty"`
	LastJob     *JobView         `json:"lastJob,omitempty"`
	StageHealth []StageHealth    `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	SocketPath   string             `json:"socketPath,omitempty"`
	HTTPAddress  string             `json:"httpAddress,omitempty"`
	AutoChain    bool               `json:"autoChain"`
	EventBus     string             `json:"eventBus"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}
