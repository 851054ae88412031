package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tweetcast/internal/config"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/services"
)

const (
	stageName          = "classifier"
	defaultHTTPTimeout = 30 * time.Second
)

// HTTPClassifier posts {"text": ...} to a scoring endpoint and expects
// {"emotion": ..., "confidence": ..., "indicators": [...]} back.
type HTTPClassifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClassifier builds a classifier for cfg.URL.
func NewHTTPClassifier(cfg config.Classifier) *HTTPClassifier {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &HTTPClassifier{
		url:        strings.TrimSpace(cfg.URL),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

type classifyResponse struct {
	Emotion    string   `json:"emotion"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	labels := make([]string, 0, len(pipeline.Emotions()))
	for _, e := range pipeline.Emotions() {
		labels = append(labels, string(e))
	}
	body, err := json.Marshal(classifyRequest{Text: text, Labels: labels})
	if err != nil {
		return Classification{}, fmt.Errorf("classifier: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Classification{}, services.Wrap(services.ErrCollaborator, stageName, "classify", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classification{}, services.Collaborator(stageName, "classify", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Classification{}, services.Collaborator(stageName, "classify", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Classification{}, services.Collaborator(stageName, "classify",
			fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var decoded classifyResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Classification{}, services.Collaborator(stageName, "classify", fmt.Errorf("decode response: %w", err))
	}
	emotion := pipeline.Emotion(strings.ToLower(strings.TrimSpace(decoded.Emotion)))
	if !emotion.Valid() {
		return Classification{}, services.Collaborator(stageName, "classify", fmt.Errorf("unknown emotion %q", decoded.Emotion))
	}
	confidence := min(max(decoded.Confidence, 0), 1)
	indicators := decoded.Indicators
	if indicators == nil {
		indicators = []string{}
	}
	return Classification{Emotion: emotion, Confidence: confidence, Indicators: indicators}, nil
}
