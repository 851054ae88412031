// Package api is the producer-facing surface of the job queue and the
// wire-format types shared by the HTTP API, the IPC server and the CLI.
//
// # Key Types
//
// QueueService: enqueue with payload validation, job lookup, per-type and
// all-type counts, pause/resume, clean and CloseAll. Enqueue wakes the local
// executor and publishes job.queued on the event bus.
//
// JobHandle: the enqueue acknowledgement ({jobId, jobType, status, data}).
//
// JobView: one job as clients see it, using the field names of the original
// HTTP responses (returnvalue, failedReason, attemptsMade, timestamp).
//
// DaemonStatus/WorkflowStatus: daemon runtime information and executor state.
//
// # Converters
//
// FromJob: queue.Job -> JobView. Delayed jobs that are already due are
// reported as waiting.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Payloads and results are passed through as
// json.RawMessage to avoid double-encoding. Errors keep their services
// classification so transports can map them to status codes.
package api
