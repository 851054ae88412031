package classifier

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"tweetcast/internal/pipeline"
)

// Lexicon scores text against keyword lists and punctuation cues.
type Lexicon struct {
	words map[pipeline.Emotion][]string
}

// NewLexicon returns a lexicon classifier with the built-in word lists.
func NewLexicon() *Lexicon {
	return &Lexicon{words: map[pipeline.Emotion][]string{
		pipeline.EmotionExcited:    {"amazing", "awesome", "incredible", "excited", "love", "wow", "finally", "launch", "congrats", "🎉", "🚀"},
		pipeline.EmotionAngry:      {"angry", "furious", "outrage", "unacceptable", "hate", "disgusting", "ridiculous", "worst"},
		pipeline.EmotionSad:        {"sad", "miss", "sorry", "loss", "rip", "heartbroken", "unfortunately", "grief", "😢"},
		pipeline.EmotionSarcastic:  {"yeah right", "sure,", "totally", "obviously", "great job", "oh great", "/s"},
		pipeline.EmotionHumorous:   {"lol", "lmao", "haha", "funny", "joke", "hilarious", "😂", "🤣"},
		pipeline.EmotionUrgent:     {"breaking", "urgent", "now", "alert", "asap", "immediately", "warning", "just in"},
		pipeline.EmotionThoughtful: {"think", "wonder", "consider", "perhaps", "reflect", "lesson", "learned", "thread", "why"},
	}}
}

func (l *Lexicon) Classify(_ context.Context, text string) (Classification, error) {
	lower := strings.ToLower(text)
	scores := make(map[pipeline.Emotion]int)
	indicators := make(map[pipeline.Emotion][]string)
	for emotion, words := range l.words {
		for _, word := range words {
			if containsTerm(lower, word) {
				scores[emotion]++
				indicators[emotion] = append(indicators[emotion], word)
			}
		}
	}

	if n := strings.Count(text, "!"); n >= 2 {
		scores[pipeline.EmotionExcited]++
		indicators[pipeline.EmotionExcited] = append(indicators[pipeline.EmotionExcited], "exclamation")
	}
	if isShouting(text) {
		scores[pipeline.EmotionUrgent]++
		indicators[pipeline.EmotionUrgent] = append(indicators[pipeline.EmotionUrgent], "caps")
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		scores[pipeline.EmotionThoughtful]++
		indicators[pipeline.EmotionThoughtful] = append(indicators[pipeline.EmotionThoughtful], "question")
	}

	best := pipeline.EmotionNeutral
	bestScore, total := 0, 0
	for _, emotion := range pipeline.Emotions() {
		score := scores[emotion]
		total += score
		if score > bestScore {
			best, bestScore = emotion, score
		}
	}
	if bestScore == 0 {
		return Classification{Emotion: pipeline.EmotionNeutral, Confidence: 0.5, Indicators: []string{}}, nil
	}
	confidence := 0.5 + 0.45*float64(bestScore)/float64(total)
	if bestScore > 1 {
		confidence += 0.05
	}
	found := indicators[best]
	slices.Sort(found)
	return Classification{Emotion: best, Confidence: min(confidence, 0.99), Indicators: found}, nil
}

func containsTerm(text, term string) bool {
	idx := strings.Index(text, term)
	for idx >= 0 {
		before := idx == 0 || !isWordRune(rune(text[idx-1]))
		end := idx + len(term)
		after := end >= len(text) || !isWordRune(rune(text[end]))
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], term)
		if next < 0 {
			return false
		}
		idx += next + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func isShouting(text string) bool {
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 8 && upper*10 >= letters*7
}
