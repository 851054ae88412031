// Package notifications delivers pipeline milestones via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Per-event toggles
// in the notifications section silence podcast completions or job failures
// individually.
package notifications
