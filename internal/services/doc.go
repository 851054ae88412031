// Package services defines shared utilities consumed by the stage routines and
// collaborator clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, job types, stage names, podcast IDs,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures as
//     validation, not found, collaborator, or exhausted retries.
//
// Use these helpers when wiring new stage logic so error reporting stays
// uniform across the pipeline.
package services
