package classifier

import (
	"context"

	"tweetcast/internal/config"
	"tweetcast/internal/pipeline"
)

// Classification is one labelled text.
type Classification struct {
	Emotion    pipeline.Emotion
	Confidence float64
	Indicators []string
}

// Classifier labels a text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// New returns the HTTP classifier when classifier.url is configured and the
// lexicon otherwise.
func New(cfg config.Classifier) Classifier {
	if cfg.URL != "" {
		return NewHTTPClassifier(cfg)
	}
	return NewLexicon()
}
