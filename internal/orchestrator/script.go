package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tweetcast/internal/pipeline"
	"tweetcast/internal/podcasts"
)

// ChapterSeconds is the per-artifact duration used to estimate chapter starts.
const ChapterSeconds = 30

const (
	fallbackVoice   = "narrator"
	similarityBoost = 0.75
	maxSpokenRunes  = 600
)

var (
	linkPattern  = regexp.MustCompile(`https?://\S+`)
	spacePattern = regexp.MustCompile(`\s+`)
)

var transitions = []string{
	"Next up.",
	"Moving on.",
	"Here's another one.",
	"And now.",
}

type voiceTuning struct {
	stability float64
	style     float64
}

// Lower stability lets the voice swing more; higher style exaggerates delivery.
var emotionTuning = map[pipeline.Emotion]voiceTuning{
	pipeline.EmotionNeutral:    {stability: 0.5, style: 0.3},
	pipeline.EmotionExcited:    {stability: 0.3, style: 0.8},
	pipeline.EmotionAngry:      {stability: 0.35, style: 0.7},
	pipeline.EmotionSad:        {stability: 0.7, style: 0.4},
	pipeline.EmotionSarcastic:  {stability: 0.45, style: 0.65},
	pipeline.EmotionHumorous:   {stability: 0.4, style: 0.7},
	pipeline.EmotionUrgent:     {stability: 0.3, style: 0.75},
	pipeline.EmotionThoughtful: {stability: 0.65, style: 0.35},
}

var narratorTuning = voiceTuning{stability: 0.6, style: 0.3}

// ScriptInput is everything BuildScript needs for one episode.
type ScriptInput struct {
	Podcast *podcasts.Podcast
	User    *podcasts.User
	// Tweets in podcast order.
	Tweets []podcasts.Tweet
	// Emotions overrides the cached label per tweet id.
	Emotions     map[string]pipeline.Emotion
	DefaultVoice string
}

// BuildScript lays out intro, one tweet segment per post with transitions
// between them, and an outro. Posts with no speakable text are skipped.
func BuildScript(in ScriptInput) []pipeline.Segment {
	voice := strings.TrimSpace(in.DefaultVoice)
	if in.User != nil && strings.TrimSpace(in.User.VoicePreference) != "" {
		voice = strings.TrimSpace(in.User.VoicePreference)
	}
	if voice == "" {
		voice = fallbackVoice
	}
	title := EpisodeTitle(in.Podcast)
	author := AuthorName(in.User)

	var spoken []podcasts.Tweet
	for _, tweet := range in.Tweets {
		if speakable(tweet.Text) != "" {
			spoken = append(spoken, tweet)
		}
	}

	segments := []pipeline.Segment{{
		ID:          "intro",
		Type:        pipeline.SegmentIntro,
		Text:        introText(title, author, len(spoken)),
		VoiceParams: params(voice, narratorTuning),
	}}
	for i, tweet := range spoken {
		if i > 0 {
			segments = append(segments, pipeline.Segment{
				ID:          fmt.Sprintf("transition-%d", i),
				Type:        pipeline.SegmentTransition,
				Text:        transitions[(i-1)%len(transitions)],
				VoiceParams: params(voice, narratorTuning),
			})
		}
		emotion := pipeline.Emotion(tweet.EmotionType)
		if override, ok := in.Emotions[tweet.ID]; ok {
			emotion = override
		}
		tuning, ok := emotionTuning[emotion]
		if !ok {
			tuning = emotionTuning[pipeline.EmotionNeutral]
		}
		meta := &pipeline.SegmentMetadata{TweetID: tweet.ID, Author: tweet.AuthorUsername}
		if !tweet.CreatedAt.IsZero() {
			meta.Timestamp = tweet.CreatedAt.UTC().Format(time.RFC3339)
		}
		segments = append(segments, pipeline.Segment{
			ID:          "tweet-" + tweet.ID,
			Type:        pipeline.SegmentTweet,
			Text:        tweetText(tweet),
			VoiceParams: params(voice, tuning),
			Metadata:    meta,
		})
	}
	segments = append(segments, pipeline.Segment{
		ID:          "outro",
		Type:        pipeline.SegmentOutro,
		Text:        fmt.Sprintf("That's all for %s. Thanks for listening to Tweetcast.", title),
		VoiceParams: params(voice, narratorTuning),
	})
	return segments
}

// Chapters estimates chapter starts for the synthesized segments, one
// ChapterSeconds slot per artifact. Transitions get no chapter.
func Chapters(segments []pipeline.Segment) []pipeline.Chapter {
	var chapters []pipeline.Chapter
	for i, seg := range segments {
		start := float64(i * ChapterSeconds)
		switch seg.Type {
		case pipeline.SegmentIntro:
			chapters = append(chapters, pipeline.Chapter{StartTime: start, Title: "Introduction"})
		case pipeline.SegmentOutro:
			chapters = append(chapters, pipeline.Chapter{StartTime: start, Title: "Wrap-up"})
		case pipeline.SegmentTweet:
			ch := pipeline.Chapter{StartTime: start, Title: "Post"}
			if seg.Metadata != nil {
				ch.TweetID = seg.Metadata.TweetID
				if seg.Metadata.Author != "" {
					ch.Title = "Post by @" + seg.Metadata.Author
				}
			}
			chapters = append(chapters, ch)
		}
	}
	return chapters
}

// EpisodeTitle returns the title-cased podcast title.
func EpisodeTitle(p *podcasts.Podcast) string {
	if p == nil || strings.TrimSpace(p.Title) == "" {
		return "Tweetcast"
	}
	// Casers carry state and are not shared between goroutines.
	return cases.Title(language.English).String(strings.TrimSpace(p.Title))
}

// AuthorName prefers the display name over the handle.
func AuthorName(u *podcasts.User) string {
	if u == nil {
		return "Tweetcast"
	}
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	if handle := strings.TrimSpace(u.TwitterUsername); handle != "" {
		return "@" + handle
	}
	return "Tweetcast"
}

func introText(title, author string, posts int) string {
	noun := "posts"
	if posts == 1 {
		noun = "post"
	}
	return fmt.Sprintf("Welcome to %s, curated by %s. Today we have %d %s for you.", title, author, posts, noun)
}

func tweetText(tweet podcasts.Tweet) string {
	text := speakable(tweet.Text)
	if tweet.AuthorUsername == "" {
		return text
	}
	return fmt.Sprintf("%s writes: %s", tweet.AuthorUsername, text)
}

// speakable strips links and collapses whitespace.
func speakable(text string) string {
	text = linkPattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
	if runes := []rune(text); len(runes) > maxSpokenRunes {
		text = string(runes[:maxSpokenRunes]) + "..."
	}
	return text
}

func params(voice string, tuning voiceTuning) pipeline.VoiceParams {
	return pipeline.VoiceParams{
		VoiceID:         voice,
		Stability:       tuning.stability,
		SimilarityBoost: similarityBoost,
		Style:           tuning.style,
		UseSpeakerBoost: true,
	}
}
