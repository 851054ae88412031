package pipeline

import "slices"

// Emotion is a classifier label.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionExcited    Emotion = "excited"
	EmotionAngry      Emotion = "angry"
	EmotionSad        Emotion = "sad"
	EmotionSarcastic  Emotion = "sarcastic"
	EmotionHumorous   Emotion = "humorous"
	EmotionUrgent     Emotion = "urgent"
	EmotionThoughtful Emotion = "thoughtful"
)

// Emotions lists every supported label.
func Emotions() []Emotion {
	return []Emotion{
		EmotionNeutral, EmotionExcited, EmotionAngry, EmotionSad,
		EmotionSarcastic, EmotionHumorous, EmotionUrgent, EmotionThoughtful,
	}
}

// Valid reports whether e is a supported label.
func (e Emotion) Valid() bool {
	return slices.Contains(Emotions(), e)
}

// FetchTweetsResult is stored on completed fetch jobs.
type FetchTweetsResult struct {
	TweetIDs []string `json:"tweetIds"`
	Count    int      `json:"count"`
}

// EmotionResult is the classification of one post.
type EmotionResult struct {
	TweetID     string   `json:"tweetId"`
	EmotionType Emotion  `json:"emotionType"`
	Confidence  float64  `json:"confidence"`
	Indicators  []string `json:"indicators"`
}

// AnalyzeEmotionsResult is stored on completed analysis jobs.
type AnalyzeEmotionsResult struct {
	Analyzed int             `json:"analyzed"`
	Results  []EmotionResult `json:"results"`
}

// GenerateAudioResult is stored on completed synthesis jobs.
type GenerateAudioResult struct {
	AudioFiles   []string `json:"audioFiles"`
	SegmentCount int      `json:"segmentCount"`
}

// AssemblePodcastResult is stored on completed assembly jobs.
type AssemblePodcastResult struct {
	AudioURL         string  `json:"audioUrl"`
	Duration         float64 `json:"duration"`
	FileCount        int     `json:"fileCount"`
	AlreadyCompleted bool    `json:"alreadyCompleted"`
}
