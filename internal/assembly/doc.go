// Package assembly implements the assemble_podcast stage. Synthesized
// segments are concatenated, tagged, loudness normalized and probed, then the
// podcast is marked completed with its public URL.
//
// Completion is conditional in the repository: a podcast that is already
// completed is never regressed or overwritten, and a repeated assembly
// reports alreadyCompleted instead of failing.
package assembly
