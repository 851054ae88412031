// Package orchestrator chains pipeline stages when workflow.auto_chain is
// enabled.
//
// It reacts to job.completed and job.failed events and also sweeps the store
// for terminal jobs without chained_at, so a restart resumes where the last
// process stopped. Every next-stage enqueue carries the dedupe key
// podcast:<id>:<type>, which makes repeated handling harmless.
//
// Chaining rules:
//   - fetch_tweets: analyze_emotions for the gathered posts, or the podcast is
//     marked failed when nothing was gathered
//   - analyze_emotions: generate_audio with a narration script (see BuildScript)
//   - generate_audio: assemble_podcast with tags and estimated chapters
//   - assemble_podcast: nothing
//
// An exhausted job marks its podcast failed. Podcasts already completed are
// never touched.
package orchestrator
