package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"tweetcast/internal/config"
	"tweetcast/internal/events"
	"tweetcast/internal/logging"
	"tweetcast/internal/notifications"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
)

// Manager coordinates the job executors using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	baseLogger   *slog.Logger
	notifier     notifications.Service
	bus          events.Bus
	owner        string
	pollInterval time.Duration
	retryDelay   time.Duration
	failureLimit int
	overrides    map[pipeline.JobType]pipeline.Policy

	heartbeat *HeartbeatMonitor

	executors map[pipeline.JobType]*executor
	order     []pipeline.JobType

	fatal     chan error
	fatalOnce sync.Once

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	jobCancel   context.CancelFunc
	jobCtx      context.Context
	unsubscribe func()
	loops       sync.WaitGroup
	inflight    sync.WaitGroup
	lastErr     error
	lastJob     *queue.Job

	queueActive bool
	queueStart  time.Time
	queueFailed int
	queueDone   int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier replaces the notifier built from config.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithBus publishes lifecycle events on bus and wakes executors on its
// job.queued events.
func WithBus(bus events.Bus) ManagerOption {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithPolicy replaces the built-in policy for one job type. Tests use it to
// shorten backoff delays.
func WithPolicy(policy pipeline.Policy) ManagerOption {
	return func(m *Manager) {
		m.overrides[policy.Type] = policy
	}
}

// WithOwner sets the lease owner prefix. It defaults to host and pid.
func WithOwner(owner string) ManagerOption {
	return func(m *Manager) {
		if owner != "" {
			m.owner = owner
		}
	}
}

// NewManager constructs a workflow manager. Stages are registered separately
// with ConfigureStages.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logging.NewComponentLogger(logger, "workflow-manager"),
		baseLogger:   logger,
		notifier:     notifications.NewService(cfg),
		owner:        defaultOwner(),
		pollInterval: cfg.PollInterval(),
		retryDelay:   cfg.ErrorRetryInterval(),
		failureLimit: cfg.Workflow.StoreFailureLimit,
		overrides:    make(map[pipeline.JobType]pipeline.Policy),
		executors:    make(map[pipeline.JobType]*executor),
		fatal:        make(chan error, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pollInterval <= 0 {
		m.pollInterval = 5 * time.Second
	}
	if m.retryDelay <= 0 {
		m.retryDelay = 10 * time.Second
	}
	if m.failureLimit <= 0 {
		m.failureLimit = 5
	}
	m.heartbeat = NewHeartbeatMonitor(store, logger, cfg.HeartbeatInterval(), cfg.LeaseTTL())
	return m
}

// Fatal delivers at most one error when an executor gives up after repeated
// store failures. The daemon shuts down when it fires.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Owner returns the lease owner id this manager leases with.
func (m *Manager) Owner() string {
	return m.owner
}

func (m *Manager) reportFatal(err error) {
	m.fatalOnce.Do(func() {
		m.fatal <- err
	})
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tweetcast"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}
