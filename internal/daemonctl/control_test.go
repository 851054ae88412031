package daemonctl

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"tweetcast/internal/testsupport"
)

func TestForceKillProcessRefusesSelf(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "tweetcast.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestForceKillProcessWithoutPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "missing.pid")
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected error when no pid is known")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := StopAndTerminate(cfg.SocketPath(), cfg, time.Second); err != ErrDaemonNotRunning {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStatusSnapshotFallsBackOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoChain())
	cfg.Events.NatsURL = "nats://127.0.0.1:4222"
	status, err := StatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatalf("StatusSnapshot: %v", err)
	}
	if status.Running || !status.AutoChain || status.EventBus != "nats" {
		t.Fatalf("unexpected offline status: %+v", status)
	}
	if status.SocketPath != cfg.SocketPath() || len(status.Dependencies) == 0 {
		t.Fatalf("offline status missing paths or deps: %+v", status)
	}
}
