package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
	"tweetcast/internal/stage"
)

const stageName = "synthesis"

// Synthesizer renders text to an audio file at dest.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice pipeline.VoiceParams, dest string) error
}

// Generator runs generate_audio jobs.
type Generator struct {
	synth    Synthesizer
	audioDir string
	logger   *slog.Logger
}

// New builds a Generator writing under audioDir.
func New(synth Synthesizer, audioDir string, logger *slog.Logger) *Generator {
	return &Generator{
		synth:    synth,
		audioDir: strings.TrimSpace(audioDir),
		logger:   logging.NewComponentLogger(logger, "synthesizer"),
	}
}

// SegmentPath returns the locator for segment index of podcastID.
func SegmentPath(audioDir string, podcastID int64, index int, segmentType pipeline.SegmentType) string {
	name := fmt.Sprintf("segment_%d_%s.mp3", index, segmentType)
	return filepath.Join(audioDir, strconv.FormatInt(podcastID, 10), name)
}

// Execute synthesizes every segment in order and returns one locator per
// segment.
func (g *Generator) Execute(ctx context.Context, job *queue.Job, progress stage.Progress) (any, error) {
	payload, err := stage.DecodePayload[pipeline.GenerateAudioPayload](job)
	if err != nil {
		return nil, err
	}
	if err := progress.Report(ctx, 10); err != nil {
		return nil, err
	}
	dir := filepath.Join(g.audioDir, strconv.FormatInt(payload.PodcastID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}

	logger := logging.WithContext(ctx, g.logger)
	total := len(payload.Segments)
	files := make([]string, 0, total)
	for i, segment := range payload.Segments {
		dest := SegmentPath(g.audioDir, payload.PodcastID, i, segment.Type)
		started := time.Now()
		if err := g.synth.Synthesize(ctx, segment.Text, segment.VoiceParams, dest); err != nil {
			if services.Kind(err) == services.KindInternal {
				err = services.Collaborator(stageName, "synthesize segment "+segment.ID, err)
			}
			return nil, err
		}
		logger.Debug("segment synthesized",
			logging.String("segment_id", segment.ID),
			logging.String("segment_type", string(segment.Type)),
			logging.String("voice", segment.VoiceParams.VoiceID),
			logging.Duration("elapsed", time.Since(started)),
		)
		files = append(files, dest)
		if err := progress.Report(ctx, 10+80*(i+1)/total); err != nil {
			return nil, err
		}
	}

	logger.Info("audio generated",
		logging.String(logging.FieldEventType, "audio_generated"),
		logging.Int("segments", total),
		logging.String("audio_dir", dir),
	)
	if err := progress.Report(ctx, 100); err != nil {
		return nil, err
	}
	return pipeline.GenerateAudioResult{AudioFiles: files, SegmentCount: len(files)}, nil
}

// HealthCheck verifies the synthesizer is set and the audio directory is writable.
func (g *Generator) HealthCheck(context.Context) stage.Health {
	if g == nil || g.synth == nil {
		return stage.Unhealthy(stageName, "synthesizer not configured")
	}
	if g.audioDir == "" {
		return stage.Unhealthy(stageName, "audio directory not configured")
	}
	if err := os.MkdirAll(g.audioDir, 0o755); err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("audio directory unavailable: %v", err))
	}
	return stage.Healthy(stageName)
}
