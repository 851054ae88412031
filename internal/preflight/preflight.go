package preflight

import (
	"context"
	"fmt"
	"strings"

	"tweetcast/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Audio directory", cfg.Paths.AudioDir),
		CheckSecret("Twitter API", cfg.Twitter.BearerToken, "bearer token"),
		CheckSecret("Speech API", cfg.Speech.APIKey, "api key"),
	}

	if strings.TrimSpace(cfg.Classifier.URL) != "" {
		results = append(results, CheckClassifier(ctx, cfg.Classifier.URL, cfg.Classifier.APIKey))
	} else {
		results = append(results, Result{Name: "Emotion classifier", Passed: true, Detail: "built-in lexicon"})
	}

	if strings.TrimSpace(cfg.Assembly.PublicBaseURL) == "" {
		results = append(results, Result{Name: "Public base URL", Detail: "assembly.public_base_url not configured"})
	} else {
		results = append(results, Result{Name: "Public base URL", Passed: true, Detail: cfg.Assembly.PublicBaseURL})
	}

	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available || status.Optional, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	return results
}

// Failures returns a one-line summary per failed result.
func Failures(results []Result) []string {
	var failures []string
	for _, r := range results {
		if !r.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	return failures
}
