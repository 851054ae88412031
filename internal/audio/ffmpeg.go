package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tweetcast/internal/config"
	"tweetcast/internal/services"
)

const (
	stageName         = "audio"
	defaultTargetLUFS = -16.0
	outputBitrate     = "128k"
)

var commandContext = exec.CommandContext

// Chapter marks a titled span of the final episode in seconds.
type Chapter struct {
	Start float64
	End   float64
	Title string
}

// Metadata is written into the final file's ID3 tags.
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	Description string
	Chapters    []Chapter
}

// FFmpeg runs the assembly steps with the configured binaries.
type FFmpeg struct {
	ffmpeg     string
	ffprobe    string
	targetLUFS float64
	timeout    time.Duration
}

// NewFFmpeg builds an assembler from the assembly config section.
func NewFFmpeg(cfg config.Assembly) *FFmpeg {
	f := &FFmpeg{
		ffmpeg:     strings.TrimSpace(cfg.FFmpegBinary),
		ffprobe:    strings.TrimSpace(cfg.FFprobeBinary),
		targetLUFS: cfg.TargetLUFS,
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if f.ffmpeg == "" {
		f.ffmpeg = "ffmpeg"
	}
	if f.ffprobe == "" {
		f.ffprobe = "ffprobe"
	}
	if f.targetLUFS >= 0 {
		f.targetLUFS = defaultTargetLUFS
	}
	return f
}

// Concatenate joins inputs in order into dest, re-encoding to MP3.
func (f *FFmpeg) Concatenate(ctx context.Context, inputs []string, dest string) error {
	if len(inputs) == 0 {
		return services.NewValidationError("concatenate", []string{"no input files"})
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("concatenate: create output dir: %w", err)
	}
	listPath := dest + ".concat.txt"
	var list strings.Builder
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return fmt.Errorf("concatenate: resolve %s: %w", input, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return services.Wrap(services.ErrNotFound, stageName, "concatenate", "audio file missing", err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("concatenate: write list: %w", err)
	}
	defer os.Remove(listPath)

	return f.run(ctx, "concatenate",
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-vn",
		"-c:a", "libmp3lame", "-b:a", outputBitrate,
		dest,
	)
}

// Tag copies src to dest with ID3 metadata and chapters.
func (f *FFmpeg) Tag(ctx context.Context, src, dest string, meta Metadata) error {
	metaPath := dest + ".ffmeta"
	if err := os.WriteFile(metaPath, []byte(FFMetadata(meta)), 0o644); err != nil {
		return fmt.Errorf("tag: write metadata: %w", err)
	}
	defer os.Remove(metaPath)

	return f.run(ctx, "tag",
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-i", metaPath,
		"-map", "0:a",
		"-map_metadata", "1",
		"-map_chapters", "1",
		"-c", "copy",
		"-id3v2_version", "3",
		dest,
	)
}

// Normalize applies EBU R128 loudness normalization to the configured target.
func (f *FFmpeg) Normalize(ctx context.Context, src, dest string) error {
	filter := fmt.Sprintf("loudnorm=I=%s:TP=-1.5:LRA=11", strconv.FormatFloat(f.targetLUFS, 'f', -1, 64))
	return f.run(ctx, "normalize",
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-map", "0:a",
		"-map_metadata", "0",
		"-map_chapters", "0",
		"-af", filter,
		"-c:a", "libmp3lame", "-b:a", outputBitrate,
		"-id3v2_version", "3",
		dest,
	)
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the container duration of path in seconds.
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	cmd := commandContext(ctx, f.ffprobe, "-v", "error", "-hide_banner", "-show_format", "-of", "json", "--", path) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, stageName, "probe", "ffprobe failed", err)
	}
	var parsed probeResult
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, services.Wrap(services.ErrExternalTool, stageName, "probe", "parse ffprobe output", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	if err != nil || seconds <= 0 {
		return 0, services.Wrap(services.ErrExternalTool, stageName, "probe", "no duration reported", err)
	}
	return seconds, nil
}

func (f *FFmpeg) run(ctx context.Context, op string, args ...string) error {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	cmd := commandContext(ctx, f.ffmpeg, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, op,
			fmt.Sprintf("ffmpeg: %s", strings.TrimSpace(string(output))), err)
	}
	return nil
}

func (f *FFmpeg) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}

// FFMetadata renders meta in ffmpeg's FFMETADATA1 format with millisecond
// chapter timestamps.
func FFMetadata(meta Metadata) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	writeField(&b, "title", meta.Title)
	writeField(&b, "artist", meta.Artist)
	writeField(&b, "album", meta.Album)
	writeField(&b, "comment", meta.Description)
	writeField(&b, "genre", "Podcast")
	for _, ch := range meta.Chapters {
		start := int64(ch.Start * 1000)
		end := int64(ch.End * 1000)
		if end <= start {
			end = start + 1
		}
		b.WriteString("\n[CHAPTER]\nTIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\nEND=%d\n", start, end)
		writeField(&b, "title", ch.Title)
	}
	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(escapeMetadata(value))
	b.WriteByte('\n')
}

func escapeMetadata(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "=", `\=`, ";", `\;`, "#", `\#`, "\n", `\`+"\n")
	return replacer.Replace(value)
}
