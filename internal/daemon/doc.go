// Package daemon coordinates the long-running tweetcast process.
//
// It owns the single-instance flock, starts the workflow manager, and serves
// the HTTP API (chi router with CORS and optional bearer auth). Producer
// operations go through api.QueueService so the HTTP handlers, the IPC socket,
// and the CLI share one validation path.
//
// Shutdown runs in reverse of startup: the HTTP server stops accepting
// requests, then the queue service drains the executors and closes the job
// store, and finally the lock is released.
package daemon
