// Package audio wraps the ffmpeg and ffprobe command-line tools for podcast
// assembly: concatenating segment files, writing ID3 tags and chapters,
// loudness normalization and duration probing.
package audio
