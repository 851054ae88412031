package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tweetcast/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if result := CheckClassifier(context.Background(), srv.URL, "good-key"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckClassifier(context.Background(), srv.URL, "bad-key"); result.Passed || !strings.Contains(result.Detail, "auth") {
		t.Fatalf("expected auth failure, got: %+v", result)
	}
	if result := CheckClassifier(context.Background(), "", "key"); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckSecretNeverEchoesValue(t *testing.T) {
	result := CheckSecret("Twitter API", "super-secret", "bearer token")
	if !result.Passed || strings.Contains(result.Detail, "super-secret") {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result := CheckSecret("Twitter API", " ", "bearer token"); result.Passed {
		t.Fatal("expected failure for blank secret")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsEveryCheck(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.AudioDir = t.TempDir()
	cfg.Twitter.BearerToken = "token"
	cfg.Speech.APIKey = ""
	cfg.Classifier.URL = ""
	cfg.Assembly.PublicBaseURL = "https://cdn.example.test"
	cfg.Assembly.FFmpegBinary = "clearly-not-present-ffmpeg"
	cfg.Assembly.FFprobeBinary = "clearly-not-present-ffprobe"

	results := RunAll(context.Background(), &cfg)
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"Data directory", "Log directory", "Audio directory", "Twitter API", "Emotion classifier", "Public base URL"} {
		if !byName[name].Passed {
			t.Errorf("check %q failed: %s", name, byName[name].Detail)
		}
	}
	if byName["Speech API"].Passed {
		t.Error("expected speech check to fail without api key")
	}
	if byName["FFmpeg"].Passed {
		t.Error("expected ffmpeg check to fail for missing binary")
	}
	if !byName["FFprobe"].Passed {
		t.Error("ffprobe is optional and should not fail the check")
	}

	failures := Failures(results)
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %v", failures)
	}
}
