package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tweetcast/internal/api"
	"tweetcast/internal/config"
	"tweetcast/internal/deps"
	"tweetcast/internal/logging"
	"tweetcast/internal/preflight"
	"tweetcast/internal/queue"
	"tweetcast/internal/workflow"
)

// ErrAlreadyRunning is returned when another process holds the daemon lock.
var ErrAlreadyRunning = errors.New("another tweetcast daemon instance is already running")

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	queue    *api.QueueService
	workflow *workflow.Manager
	eventBus string

	lockPath string
	lock     *flock.Flock
	http     *apiServer

	mu      sync.Mutex
	deps    []deps.Status
	running atomic.Bool

	stopOnce  sync.Once
	stopping  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithEventBus records which event bus implementation the process runs with.
func WithEventBus(name string) Option {
	return func(d *Daemon) { d.eventBus = strings.TrimSpace(name) }
}

// New constructs a daemon around already-built services. The queue service must
// own the same store and have the workflow manager registered as its workers so
// Stop drains executors before closing the store.
func New(cfg *config.Config, store *queue.Store, svc *api.QueueService, wf *workflow.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || svc == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, queue service, and workflow manager")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		queue:    svc,
		workflow: wf,
		eventBus: "local",
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		stopping: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.http = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the lock, launches the executors, and starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	d.mu.Lock()
	d.deps = preflight.CheckSystemDeps(d.cfg)
	d.mu.Unlock()

	if err := d.workflow.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.http.start(); err != nil {
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("tweetcast daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("http", d.http.address()),
		logging.String("event_bus", d.eventBus),
		logging.Bool("auto_chain", d.cfg.Workflow.AutoChain),
	)
	return nil
}

// Stop shuts down the HTTP API, drains in-flight jobs until ctx expires, closes
// the job store, and releases the lock. It is safe to call more than once.
func (d *Daemon) Stop(ctx context.Context) error {
	d.closeOnce.Do(func() {
		var errs []error
		if err := d.http.stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := d.queue.CloseAll(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := d.lock.Unlock(); err != nil {
			logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			)
		}
		d.running.Store(false)
		d.closeErr = errors.Join(errs...)
		d.logger.Info("tweetcast daemon stopped",
			logging.String(logging.FieldEventType, "daemon_stopped"),
			logging.Bool("clean", d.closeErr == nil),
		)
	})
	return d.closeErr
}

// RequestStop asks the process owning the daemon to begin shutdown.
func (d *Daemon) RequestStop() {
	d.stopOnce.Do(func() { close(d.stopping) })
}

// StopRequested is closed once RequestStop has been called.
func (d *Daemon) StopRequested() <-chan struct{} {
	return d.stopping
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Queue exposes the producer API shared by HTTP and IPC.
func (d *Daemon) Queue() *api.QueueService {
	return d.queue
}

// Ping verifies the job store is reachable.
func (d *Daemon) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

// DatabaseHealth returns detailed job store diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	d.mu.Lock()
	statuses := append([]deps.Status(nil), d.deps...)
	d.mu.Unlock()

	dependencies := make([]api.DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		dependencies = append(dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.SocketPath(),
		HTTPAddress:  d.http.address(),
		AutoChain:    d.cfg.Workflow.AutoChain,
		EventBus:     d.eventBus,
		Workflow:     api.FromStatusSummary(d.workflow.Status(ctx)),
		Dependencies: dependencies,
	}
}
