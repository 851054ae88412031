package daemonrun_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tweetcast/internal/daemonrun"
	"tweetcast/internal/ipc"
	"tweetcast/internal/testsupport"
)

func dialWithRetry(t *testing.T, socket string) *ipc.Client {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socket)
		if err == nil {
			return client
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("daemon socket %s never came up", socket)
	return nil
}

func TestRunServesUntilStopRequested(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoChain())
	cfg.Logging.Level = "error"

	done := make(chan error, 1)
	go func() { done <- daemonrun.Run(context.Background(), cfg, daemonrun.Options{}) }()

	client := dialWithRetry(t, cfg.SocketPath())
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Status.Running || !status.Status.AutoChain || status.Status.EventBus != "local" {
		t.Fatalf("unexpected status: %+v", status.Status)
	}
	if len(status.Status.Workflow.Executors) != 4 {
		t.Fatalf("expected an executor per job type, got %+v", status.Status.Workflow.Executors)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.DataDir, "tweetcast.pid")); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}

	// Without a bearer token the fetch fails, but the job is accepted.
	payload := json.RawMessage(`{"podcastId":1,"sourceType":"hashtag","sourceValue":"go"}`)
	if _, err := client.Enqueue(ipc.EnqueueRequest{JobType: "fetch_tweets", Payload: payload}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := client.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after stop request")
	}
	if _, err := os.Stat(cfg.SocketPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected socket removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.DataDir, "tweetcast.pid")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file removed, stat err = %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}
