package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"tweetcast/internal/services"
)

// Payload is implemented by every job payload.
type Payload interface {
	// Problems lists every schema violation; empty means valid.
	Problems() []string
	Podcast() int64
}

// SourceType selects how posts are gathered.
type SourceType string

const (
	SourceTimeline SourceType = "timeline"
	SourceUsername SourceType = "username"
	SourceHashtag  SourceType = "hashtag"
	SourceURL      SourceType = "url"
)

var sourceTypes = []SourceType{SourceTimeline, SourceUsername, SourceHashtag, SourceURL}

// DateRange bounds post creation times, inclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Filters narrows fetched posts.
type Filters struct {
	IncludeRetweets bool       `json:"includeRetweets,omitempty"`
	IncludeReplies  bool       `json:"includeReplies,omitempty"`
	MinimumLikes    int        `json:"minimumLikes,omitempty"`
	DateRange       *DateRange `json:"dateRange,omitempty"`
	ExcludeKeywords []string   `json:"excludeKeywords,omitempty"`
}

// FetchTweetsPayload requests collection of posts for a podcast.
type FetchTweetsPayload struct {
	PodcastID   int64      `json:"podcastId"`
	SourceType  SourceType `json:"sourceType"`
	SourceValue string     `json:"sourceValue"`
	Filters     *Filters   `json:"filters,omitempty"`
}

func (p FetchTweetsPayload) Podcast() int64 { return p.PodcastID }

func (p FetchTweetsPayload) Problems() []string {
	problems := podcastProblems(p.PodcastID)
	if !slices.Contains(sourceTypes, p.SourceType) {
		problems = append(problems, fmt.Sprintf("sourceType must be one of timeline, username, hashtag, url (got %q)", p.SourceType))
	}
	if strings.TrimSpace(p.SourceValue) == "" {
		problems = append(problems, "sourceValue is required")
	}
	if f := p.Filters; f != nil {
		if f.MinimumLikes < 0 {
			problems = append(problems, "filters.minimumLikes must be >= 0")
		}
		if r := f.DateRange; r != nil {
			if r.Start.IsZero() || r.End.IsZero() {
				problems = append(problems, "filters.dateRange requires start and end")
			} else if r.Start.After(r.End) {
				problems = append(problems, "filters.dateRange.start must not be after end")
			}
		}
	}
	return problems
}

// AnalyzeEmotionsPayload requests classification of cached posts.
type AnalyzeEmotionsPayload struct {
	PodcastID int64    `json:"podcastId"`
	TweetIDs  []string `json:"tweetIds"`
}

func (p AnalyzeEmotionsPayload) Podcast() int64 { return p.PodcastID }

func (p AnalyzeEmotionsPayload) Problems() []string {
	problems := podcastProblems(p.PodcastID)
	if len(p.TweetIDs) == 0 {
		problems = append(problems, "tweetIds must not be empty")
	}
	for i, id := range p.TweetIDs {
		if strings.TrimSpace(id) == "" {
			problems = append(problems, fmt.Sprintf("tweetIds[%d] is blank", i))
		}
	}
	return problems
}

// SegmentType classifies a narration segment.
type SegmentType string

const (
	SegmentIntro      SegmentType = "intro"
	SegmentTweet      SegmentType = "tweet"
	SegmentTransition SegmentType = "transition"
	SegmentOutro      SegmentType = "outro"
)

var segmentTypes = []SegmentType{SegmentIntro, SegmentTweet, SegmentTransition, SegmentOutro}

// VoiceParams tunes the speech synthesizer for one segment.
type VoiceParams struct {
	VoiceID         string  `json:"voiceId"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarityBoost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"useSpeakerBoost"`
}

// SegmentMetadata links a segment back to its source post.
type SegmentMetadata struct {
	TweetID   string `json:"tweetId,omitempty"`
	Author    string `json:"author,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Segment is one unit of narration.
type Segment struct {
	ID          string           `json:"id"`
	Type        SegmentType      `json:"type"`
	Text        string           `json:"text"`
	VoiceParams VoiceParams      `json:"voiceParams"`
	Metadata    *SegmentMetadata `json:"metadata,omitempty"`
}

// GenerateAudioPayload requests synthesis of an ordered narration script.
type GenerateAudioPayload struct {
	PodcastID int64     `json:"podcastId"`
	Segments  []Segment `json:"segments"`
}

func (p GenerateAudioPayload) Podcast() int64 { return p.PodcastID }

func (p GenerateAudioPayload) Problems() []string {
	problems := podcastProblems(p.PodcastID)
	if len(p.Segments) == 0 {
		problems = append(problems, "segments must not be empty")
	}
	for i, seg := range p.Segments {
		prefix := fmt.Sprintf("segments[%d]", i)
		if strings.TrimSpace(seg.ID) == "" {
			problems = append(problems, prefix+".id is required")
		}
		if !slices.Contains(segmentTypes, seg.Type) {
			problems = append(problems, fmt.Sprintf("%s.type must be one of intro, tweet, transition, outro (got %q)", prefix, seg.Type))
		}
		if strings.TrimSpace(seg.Text) == "" {
			problems = append(problems, prefix+".text is required")
		}
		vp := seg.VoiceParams
		if strings.TrimSpace(vp.VoiceID) == "" {
			problems = append(problems, prefix+".voiceParams.voiceId is required")
		}
		for name, value := range map[string]float64{
			"stability":       vp.Stability,
			"similarityBoost": vp.SimilarityBoost,
			"style":           vp.Style,
		} {
			if value < 0 || value > 1 {
				problems = append(problems, fmt.Sprintf("%s.voiceParams.%s must be within [0,1]", prefix, name))
			}
		}
	}
	slices.Sort(problems)
	return problems
}

// Chapter marks a navigable point in the finished episode.
type Chapter struct {
	StartTime float64 `json:"startTime"`
	Title     string  `json:"title"`
	TweetID   string  `json:"tweetId,omitempty"`
}

// PodcastMetadata tags the assembled episode.
type PodcastMetadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author"`
	Chapters    []Chapter `json:"chapters,omitempty"`
}

// AssemblePodcastPayload requests the final mix of synthesized segments.
type AssemblePodcastPayload struct {
	PodcastID  int64           `json:"podcastId"`
	AudioFiles []string        `json:"audioFiles"`
	Metadata   PodcastMetadata `json:"metadata"`
}

func (p AssemblePodcastPayload) Podcast() int64 { return p.PodcastID }

func (p AssemblePodcastPayload) Problems() []string {
	problems := podcastProblems(p.PodcastID)
	if len(p.AudioFiles) == 0 {
		problems = append(problems, "audioFiles must not be empty")
	}
	for i, file := range p.AudioFiles {
		if strings.TrimSpace(file) == "" {
			problems = append(problems, fmt.Sprintf("audioFiles[%d] is blank", i))
		}
	}
	if strings.TrimSpace(p.Metadata.Title) == "" {
		problems = append(problems, "metadata.title is required")
	}
	if strings.TrimSpace(p.Metadata.Author) == "" {
		problems = append(problems, "metadata.author is required")
	}
	for i, ch := range p.Metadata.Chapters {
		if ch.StartTime < 0 {
			problems = append(problems, fmt.Sprintf("metadata.chapters[%d].startTime must be >= 0", i))
		}
	}
	return problems
}

func podcastProblems(id int64) []string {
	if id <= 0 {
		return []string{"podcastId must be a positive integer"}
	}
	return nil
}

// NewPayload returns an empty payload value for t.
func NewPayload(t JobType) (Payload, error) {
	switch t {
	case FetchTweets:
		return &FetchTweetsPayload{}, nil
	case AnalyzeEmotions:
		return &AnalyzeEmotionsPayload{}, nil
	case GenerateAudio:
		return &GenerateAudioPayload{}, nil
	case AssemblePodcast:
		return &AssemblePodcastPayload{}, nil
	default:
		return nil, services.NotFound("pipeline", "job type", t)
	}
}

// DecodePayload parses and validates raw JSON for t. Decoding failures and
// schema violations are reported together as a *services.ValidationError.
func DecodePayload(t JobType, raw []byte) (Payload, error) {
	payload, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	subject := string(t) + " payload"
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, services.NewValidationError(subject, []string{"payload is required"})
	}
	if err := json.Unmarshal(trimmed, payload); err != nil {
		return nil, services.NewValidationError(subject, []string{"malformed JSON: " + err.Error()})
	}
	if err := services.NewValidationError(subject, payload.Problems()); err != nil {
		return nil, err
	}
	return payload, nil
}

// Decode parses a stored payload into T without validation. Stage routines use
// it on payloads that were validated at enqueue.
func Decode[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// Encode renders a payload or result as compact JSON.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}
