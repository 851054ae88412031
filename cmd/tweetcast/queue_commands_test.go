package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tweetcast/internal/api"
)

const fetchPayload = `{"podcastId":7,"sourceType":"hashtag","sourceValue":"golang"}`

func TestEnqueueAndShowJob(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"enqueue", "fetch_tweets", "--payload", fetchPayload, "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var handle api.JobHandle
	if err := json.Unmarshal([]byte(out), &handle); err != nil {
		t.Fatalf("decode handle %q: %v", out, err)
	}
	if handle.JobType != "fetch_tweets" || handle.Status != api.StatusQueued {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	out, _, err = runCLI(t, []string{"job", "show", "fetch_tweets", handle.JobID}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job show: %v", err)
	}
	requireContains(t, out, handle.JobID)
	requireContains(t, out, "waiting")
	requireContains(t, out, `"sourceValue": "golang"`)

	out, _, err = runCLI(t, []string{"job", "show", "fetch_tweets", handle.JobID, "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("job show --json: %v", err)
	}
	var view api.JobView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if view.Priority != 5 || view.MaxAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", view)
	}

	if _, _, err := runCLI(t, []string{"job", "show", "generate_audio", handle.JobID}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected job lookup under the wrong type to fail")
	}
}

func TestEnqueueFromFileWithDedupeKey(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(path, []byte(fetchPayload), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	args := []string{"enqueue", "fetch_tweets", "--payload-file", path, "--dedupe-key", "podcast:7:fetch", "--priority", "2"}

	out, _, err := runCLI(t, args, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Enqueued fetch_tweets job")

	out, _, err = runCLI(t, args, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	requireContains(t, out, "Existing fetch_tweets job")
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing payload", []string{"enqueue", "fetch_tweets"}, "payload is required"},
		{"invalid json", []string{"enqueue", "fetch_tweets", "--payload", "{"}, "not valid JSON"},
		{"unknown type", []string{"enqueue", "transcode", "--payload", "{}"}, "transcode"},
		{"schema violation", []string{"enqueue", "fetch_tweets", "--payload", `{"podcastId":7}`}, "source"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := runCLI(t, tc.args, env.socketPath, env.configPath)
			if err == nil {
				t.Fatalf("expected error")
			}
			requireContains(t, strings.ToLower(err.Error()), strings.ToLower(tc.want))
		})
	}
	all, err := env.store.AllCounts(t.Context())
	if err != nil {
		t.Fatalf("AllCounts: %v", err)
	}
	for jobType, counts := range all {
		if counts.Waiting != 0 {
			t.Fatalf("%s: rejected enqueue wrote a job: %+v", jobType, counts)
		}
	}
}

func TestQueueControlCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"enqueue", "fetch_tweets", "--payload", fetchPayload}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out, _, err := runCLI(t, []string{"queue", "pause", "analyze_emotions"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	requireContains(t, out, "Queue analyze_emotions paused")

	out, _, err = runCLI(t, []string{"queue", "counts"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	for _, jobType := range []string{"fetch_tweets", "analyze_emotions", "generate_audio", "assemble_podcast"} {
		requireContains(t, out, jobType)
	}

	out, _, err = runCLI(t, []string{"queue", "counts", "analyze_emotions", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("counts --json: %v", err)
	}
	var queues []api.QueueCounts
	if err := json.Unmarshal([]byte(out), &queues); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if len(queues) != 1 || !queues[0].Paused {
		t.Fatalf("expected paused analyze_emotions, got %+v", queues)
	}

	out, _, err = runCLI(t, []string{"queue", "resume", "analyze_emotions"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "Queue analyze_emotions resumed")

	out, _, err = runCLI(t, []string{"queue", "clean", "fetch_tweets", "--grace", "0s"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	requireContains(t, out, "Removed 0 fetch_tweets job(s)")

	out, _, err = runCLI(t, []string{"queue", "health"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "Total jobs")
	requireContains(t, out, env.store.Path())
}

func TestCommandsReportMissingDaemon(t *testing.T) {
	base := t.TempDir()
	t.Setenv("HOME", base)
	socket := filepath.Join(base, "missing.sock")
	_, _, err := runCLI(t, []string{"queue", "counts"}, socket, "")
	if err == nil {
		t.Fatal("expected dial error")
	}
	requireContains(t, err.Error(), "tweetcast start")
}
