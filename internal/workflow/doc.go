// Package workflow runs the per-type job executors.
//
// The Manager owns one executor per job type. Each executor leases due jobs
// from the queue store up to its concurrency cap, runs the registered stage
// handler with a progress reporter and a lease heartbeat, and resolves the
// outcome: completed jobs store their result, failed attempts are delayed per
// the type's backoff policy until attempts run out. Executors block between
// jobs and wake on local enqueue notifications, on bus events, on a job
// finishing, or on the poll interval.
//
// Expired leases left behind by crashed processes are reclaimed on the
// executor loop. Store errors in the loop are retried a bounded number of
// times before the manager reports a fatal error.
//
// Lifecycle transitions are published on the event bus so the orchestrator
// and external listeners can follow the pipeline; exhausted jobs and
// finished podcasts are also pushed through the notifier.
package workflow
