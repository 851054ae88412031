// Package synthesis implements the generate_audio stage. Each narration
// segment is synthesized in order to
// <audio_dir>/<podcastId>/segment_<index>_<type>.mp3.
package synthesis
