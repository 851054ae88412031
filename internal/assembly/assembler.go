package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tweetcast/internal/audio"
	"tweetcast/internal/logging"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/podcasts"
	"tweetcast/internal/queue"
	"tweetcast/internal/stage"
)

// FallbackSecondsPerFile estimates duration per input file when probing fails.
const FallbackSecondsPerFile = 30

const (
	stageName    = "assembly"
	usageAction  = "assemble_podcast"
	usageCredits = 1
	albumName    = "Tweetcast"
)

// Assembler performs the audio processing steps.
type Assembler interface {
	Concatenate(ctx context.Context, inputs []string, dest string) error
	Tag(ctx context.Context, src, dest string, meta audio.Metadata) error
	Normalize(ctx context.Context, src, dest string) error
	Probe(ctx context.Context, path string) (float64, error)
}

// Repository is the subset of the podcast repository the stage uses.
type Repository interface {
	GetPodcast(ctx context.Context, id int64) (*podcasts.Podcast, error)
	CompletePodcast(ctx context.Context, id int64, audioURL string, durationSeconds int) (bool, error)
	LogUsage(ctx context.Context, userID int64, action string, credits int) error
}

// Stage runs assemble_podcast jobs.
type Stage struct {
	assembler     Assembler
	repo          Repository
	audioDir      string
	publicBaseURL string
	logger        *slog.Logger
}

// New builds the assembly stage.
func New(assembler Assembler, repo Repository, audioDir, publicBaseURL string, logger *slog.Logger) *Stage {
	return &Stage{
		assembler:     assembler,
		repo:          repo,
		audioDir:      strings.TrimSpace(audioDir),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logging.NewComponentLogger(logger, "assembler"),
	}
}

// PublicURL returns the published location of the final file for podcastID.
func PublicURL(base string, podcastID int64) string {
	return fmt.Sprintf("%s/podcasts/%d/final.mp3", strings.TrimRight(base, "/"), podcastID)
}

// Execute assembles the final episode and completes the podcast.
func (s *Stage) Execute(ctx context.Context, job *queue.Job, progress stage.Progress) (any, error) {
	payload, err := stage.DecodePayload[pipeline.AssemblePodcastPayload](job)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, s.logger)

	podcast, err := s.repo.GetPodcast(ctx, payload.PodcastID)
	if err != nil {
		return nil, err
	}
	if podcast.Status == podcasts.StatusCompleted {
		logger.Info("podcast already completed; skipping assembly",
			logging.String(logging.FieldEventType, "assembly_skipped"),
			logging.Int64(logging.FieldPodcastID, podcast.ID),
		)
		if err := progress.Report(ctx, 100); err != nil {
			return nil, err
		}
		return pipeline.AssemblePodcastResult{
			AudioURL:         podcast.AudioURL,
			Duration:         float64(podcast.DurationSeconds),
			FileCount:        len(payload.AudioFiles),
			AlreadyCompleted: true,
		}, nil
	}
	if err := progress.Report(ctx, 10); err != nil {
		return nil, err
	}

	workDir := filepath.Join(s.audioDir, strconv.FormatInt(payload.PodcastID, 10))
	concatPath := filepath.Join(workDir, "concat.mp3")
	taggedPath := filepath.Join(workDir, "tagged.mp3")
	finalPath := filepath.Join(workDir, "final.mp3")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create assembly dir: %w", err)
	}
	defer func() {
		_ = os.Remove(concatPath)
		_ = os.Remove(taggedPath)
	}()

	if err := s.assembler.Concatenate(ctx, payload.AudioFiles, concatPath); err != nil {
		return nil, err
	}
	if err := progress.Report(ctx, 40); err != nil {
		return nil, err
	}

	estimate := float64(len(payload.AudioFiles) * FallbackSecondsPerFile)
	if err := s.assembler.Tag(ctx, concatPath, taggedPath, s.metadata(payload.Metadata, estimate)); err != nil {
		return nil, err
	}
	if err := progress.Report(ctx, 60); err != nil {
		return nil, err
	}

	if err := s.assembler.Normalize(ctx, taggedPath, finalPath); err != nil {
		return nil, err
	}
	if err := progress.Report(ctx, 80); err != nil {
		return nil, err
	}

	duration, err := s.assembler.Probe(ctx, finalPath)
	if err != nil {
		logging.WarnWithContext(logger, "duration probe failed; using estimate", "duration_probe_failed",
			logging.Error(err),
			logging.Float64("estimated_seconds", estimate),
			logging.String(logging.FieldErrorHint, "check ffprobe is installed and the final file is readable"),
			logging.String(logging.FieldImpact, "reported duration is an estimate"),
		)
		duration = estimate
	}

	audioURL := PublicURL(s.publicBaseURL, payload.PodcastID)
	already, err := s.repo.CompletePodcast(ctx, payload.PodcastID, audioURL, max(1, int(math.Ceil(duration))))
	if err != nil {
		return nil, err
	}
	if !already {
		if err := s.repo.LogUsage(ctx, podcast.UserID, usageAction, usageCredits); err != nil {
			return nil, err
		}
	}
	if err := progress.Report(ctx, 100); err != nil {
		return nil, err
	}
	logger.Info("podcast assembled",
		logging.String(logging.FieldEventType, "podcast_assembled"),
		logging.Int64(logging.FieldPodcastID, payload.PodcastID),
		logging.String("audio_url", audioURL),
		logging.Float64("duration_seconds", duration),
		logging.Int("files", len(payload.AudioFiles)),
		logging.Bool("already_completed", already),
	)
	return pipeline.AssemblePodcastResult{
		AudioURL:         audioURL,
		Duration:         duration,
		FileCount:        len(payload.AudioFiles),
		AlreadyCompleted: already,
	}, nil
}

func (s *Stage) metadata(meta pipeline.PodcastMetadata, total float64) audio.Metadata {
	out := audio.Metadata{
		Title:       cases.Title(language.English).String(strings.TrimSpace(meta.Title)),
		Artist:      strings.TrimSpace(meta.Author),
		Album:       albumName,
		Description: strings.TrimSpace(meta.Description),
	}
	for i, ch := range meta.Chapters {
		end := total
		if i+1 < len(meta.Chapters) {
			end = meta.Chapters[i+1].StartTime
		}
		if end <= ch.StartTime {
			end = ch.StartTime + FallbackSecondsPerFile
		}
		out.Chapters = append(out.Chapters, audio.Chapter{Start: ch.StartTime, End: end, Title: ch.Title})
	}
	return out
}

// HealthCheck reports whether the stage has its collaborators.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	switch {
	case s == nil || s.assembler == nil:
		return stage.Unhealthy(stageName, "assembler not configured")
	case s.repo == nil:
		return stage.Unhealthy(stageName, "podcast repository not configured")
	case s.publicBaseURL == "":
		return stage.Unhealthy(stageName, "assembly.public_base_url not configured")
	}
	return stage.Healthy(stageName)
}

