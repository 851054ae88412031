// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Producer calls go through the daemon's api.QueueService, so socket clients
// get the same validation and error classification as HTTP clients. Reuse the
// request/response types here when adding endpoints to keep the protocol
// stable for existing CLI commands.
package ipc
