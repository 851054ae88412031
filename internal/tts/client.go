package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tweetcast/internal/config"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/services"
)

const (
	stageName          = "tts"
	defaultBaseURL     = "https://api.elevenlabs.io/v1"
	defaultHTTPTimeout = 60 * time.Second
)

// Client calls the text-to-speech endpoint.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	defaultVoice string
	httpClient   *http.Client
}

// NewClient builds a client from the speech config section.
func NewClient(cfg config.Speech) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL:      base,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		model:        strings.TrimSpace(cfg.Model),
		defaultVoice: strings.TrimSpace(cfg.DefaultVoice),
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize renders text with the voice parameters and writes the audio to
// dest. The file only appears once the full response has been written.
func (c *Client) Synthesize(ctx context.Context, text string, voice pipeline.VoiceParams, dest string) error {
	if c.apiKey == "" {
		return services.Wrap(services.ErrConfiguration, stageName, "synthesize", "api key not configured", nil)
	}
	voiceID := strings.TrimSpace(voice.VoiceID)
	if voiceID == "" {
		voiceID = c.defaultVoice
	}
	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: c.model,
		VoiceSettings: voiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.SimilarityBoost,
			Style:           voice.Style,
			UseSpeakerBoost: voice.UseSpeakerBoost,
		},
	})
	if err != nil {
		return fmt.Errorf("tts: encode body: %w", err)
	}
	endpoint := c.baseURL + "/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrCollaborator, stageName, "synthesize", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Collaborator(stageName, "synthesize", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Collaborator(stageName, "synthesize",
			fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}
	if err := writeAtomic(dest, resp.Body); err != nil {
		return services.Collaborator(stageName, "write audio", err)
	}
	return nil
}

func writeAtomic(dest string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	written, copyErr := io.Copy(tmp, src)
	closeErr := tmp.Close()
	if copyErr == nil && written == 0 {
		copyErr = fmt.Errorf("empty audio response")
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	}
	return os.Rename(tmpName, dest)
}
