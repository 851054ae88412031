package deps

import "strings"

// ResolveFFmpegPath returns the configured ffmpeg command, or "ffmpeg" from PATH.
func ResolveFFmpegPath(configured string) string {
	return resolve(configured, "ffmpeg")
}

// ResolveFFprobePath returns the configured ffprobe command, or "ffprobe" from PATH.
func ResolveFFprobePath(configured string) string {
	return resolve(configured, "ffprobe")
}

func resolve(configured, fallback string) string {
	if value := strings.TrimSpace(configured); value != "" {
		return value
	}
	return fallback
}
