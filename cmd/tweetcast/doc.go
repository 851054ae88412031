// Package main hosts the tweetcast CLI.
//
// Commands translate terminal invocations into IPC calls against the daemon
// socket: queue inspection and control, job lookup, enqueueing, and daemon
// lifecycle. `tweetcast run` hosts the daemon in the foreground.
package main
