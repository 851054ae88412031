// Package tts synthesizes narration through an ElevenLabs-compatible
// text-to-speech HTTP API and writes the returned MP3 to disk.
package tts
