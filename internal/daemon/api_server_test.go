package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tweetcast/internal/api"
	"tweetcast/internal/queue"
	"tweetcast/internal/stage"
	"tweetcast/internal/testsupport"
	"tweetcast/internal/workflow"
)

type idleStage struct{}

func (idleStage) Execute(context.Context, *queue.Job, stage.Progress) (any, error) { return nil, nil }
func (idleStage) HealthCheck(context.Context) stage.Health                        { return stage.Healthy("idle") }

// newTestServer serves the API routes without starting executors, so enqueued
// jobs stay waiting.
func newTestServer(t *testing.T, token string) (*httptest.Server, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(token))
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, nil)
	if err := mgr.ConfigureStages(workflow.StageSet{FetchTweets: idleStage{}}); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	d, err := New(cfg, store, api.NewQueueService(store), mgr, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	server := httptest.NewServer(d.http.routes())
	t.Cleanup(server.Close)
	return server, store
}

func do(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestEnqueueAndGetJob(t *testing.T) {
	server, _ := newTestServer(t, "")
	body := `{"payload":{"podcastId":7,"sourceType":"hashtag","sourceValue":"golang"},"priority":10}`

	resp, created := do(t, http.MethodPost, server.URL+"/api/jobs/fetch_tweets", "", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue status = %d (%v)", resp.StatusCode, created)
	}
	if created["status"] != api.StatusQueued || created["jobType"] != "fetch_tweets" {
		t.Fatalf("unexpected handle: %v", created)
	}
	id, _ := created["jobId"].(string)

	resp, view := do(t, http.MethodGet, server.URL+"/api/jobs/fetch_tweets/"+id, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if view["state"] != "waiting" || view["attemptsMade"] != float64(0) || view["progress"] != float64(0) {
		t.Fatalf("unexpected view: %v", view)
	}
	if view["priority"] != float64(10) {
		t.Fatalf("priority = %v", view["priority"])
	}

	resp, _ = do(t, http.MethodGet, server.URL+"/api/jobs/generate_audio/"+id, "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("wrong-type lookup status = %d", resp.StatusCode)
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	server, store := newTestServer(t, "")
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown type", "/api/jobs/transcode", `{"payload":{}}`, http.StatusNotFound},
		{"missing payload", "/api/jobs/fetch_tweets", `{}`, http.StatusBadRequest},
		{"malformed body", "/api/jobs/fetch_tweets", `{"payload":`, http.StatusBadRequest},
		{"schema violation", "/api/jobs/generate_audio", `{"payload":{"podcastId":0,"segments":[]}}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, decoded := do(t, http.MethodPost, server.URL+tc.path, "", tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tc.status, decoded)
			}
			if decoded["error"] == nil {
				t.Fatalf("expected error body, got %v", decoded)
			}
		})
	}
	counts, err := store.AllCounts(context.Background())
	if err != nil {
		t.Fatalf("AllCounts: %v", err)
	}
	for jobType, c := range counts {
		if c.Total() != 0 {
			t.Fatalf("%s has %d jobs after rejected enqueues", jobType, c.Total())
		}
	}
}

func TestQueueControlRoutes(t *testing.T) {
	server, store := newTestServer(t, "")
	testsupport.MustInsert(t, store, "fetch_tweets", 5, `{"podcastId":1,"sourceType":"hashtag","sourceValue":"go"}`)

	resp, paused := do(t, http.MethodPost, server.URL+"/api/queues/fetch_tweets/pause", "", "")
	if resp.StatusCode != http.StatusOK || paused["paused"] != true {
		t.Fatalf("pause = %d %v", resp.StatusCode, paused)
	}
	resp, counts := do(t, http.MethodGet, server.URL+"/api/queues/fetch_tweets/counts", "", "")
	if resp.StatusCode != http.StatusOK || counts["waiting"] != float64(1) || counts["paused"] != true {
		t.Fatalf("counts = %d %v", resp.StatusCode, counts)
	}
	resp, _ = do(t, http.MethodPost, server.URL+"/api/queues/fetch_tweets/resume", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume = %d", resp.StatusCode)
	}
	resp, stats := do(t, http.MethodGet, server.URL+"/api/queues/stats", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats = %d", resp.StatusCode)
	}
	queues, _ := stats["queues"].([]any)
	if len(queues) != 4 {
		t.Fatalf("expected a row per job type, got %v", stats)
	}
	resp, cleaned := do(t, http.MethodDelete, server.URL+"/api/queues/fetch_tweets/clean?grace=0", "", "")
	if resp.StatusCode != http.StatusOK || cleaned["count"] != float64(0) {
		t.Fatalf("clean = %d %v", resp.StatusCode, cleaned)
	}
	resp, _ = do(t, http.MethodDelete, server.URL+"/api/queues/fetch_tweets/clean?grace=soon", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad grace status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, server.URL+"/api/queues/transcode/counts", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown queue status = %d", resp.StatusCode)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	server, _ := newTestServer(t, "s3cret")

	resp, _ := do(t, http.MethodGet, server.URL+"/api/queues/stats", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, server.URL+"/api/queues/stats", "wrong", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, server.URL+"/api/queues/stats", "s3cret", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, server.URL+"/api/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must stay public, got %d", resp.StatusCode)
	}
}

func TestHealthReportsClosedStore(t *testing.T) {
	server, store := newTestServer(t, "")
	_ = store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/health", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}
