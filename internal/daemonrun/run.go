package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"tweetcast/internal/analysis"
	"tweetcast/internal/api"
	"tweetcast/internal/assembly"
	"tweetcast/internal/audio"
	"tweetcast/internal/classifier"
	"tweetcast/internal/config"
	"tweetcast/internal/daemon"
	"tweetcast/internal/events"
	"tweetcast/internal/fetching"
	"tweetcast/internal/ipc"
	"tweetcast/internal/logging"
	"tweetcast/internal/notifications"
	"tweetcast/internal/orchestrator"
	"tweetcast/internal/pipeline"
	"tweetcast/internal/podcasts"
	"tweetcast/internal/queue"
	"tweetcast/internal/synthesis"
	"tweetcast/internal/tts"
	"tweetcast/internal/twitter"
	"tweetcast/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel    string
	Development bool
}

// Run builds every service in dependency order, serves until a signal, an IPC
// stop request, or a fatal executor error, and then tears down in reverse.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := pipeline.ValidatePolicies(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "tweetcast.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open queue store failed", "queue_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.data_dir permissions"),
		)
		return err
	}

	repo, err := podcasts.Open(signalCtx, cfg)
	if err != nil {
		_ = store.Close()
		logging.ErrorWithContext(logger, "open podcast repository failed", "repository_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check storage.postgres_dsn or paths.data_dir"),
		)
		return err
	}

	bus, err := events.Open(cfg, logger)
	if err != nil {
		_ = repo.Close()
		_ = store.Close()
		return fmt.Errorf("open event bus: %w", err)
	}

	mgr := workflow.NewManager(cfg, store, logger,
		workflow.WithBus(bus),
		workflow.WithNotifier(notifications.NewService(cfg)),
	)
	if err := mgr.ConfigureStages(buildStages(cfg, repo, logger)); err != nil {
		_ = bus.Close()
		_ = repo.Close()
		_ = store.Close()
		return fmt.Errorf("configure stages: %w", err)
	}
	mgr.RunPreflight(signalCtx)

	svc := api.NewQueueService(store,
		api.WithWorkers(mgr),
		api.WithBus(bus),
		api.WithLogger(logger),
	)

	var orch *orchestrator.Orchestrator
	if cfg.Workflow.AutoChain {
		orch = orchestrator.New(store, svc, repo, logger,
			orchestrator.WithBus(bus),
			orchestrator.WithDefaultVoice(cfg.Speech.DefaultVoice),
		)
	}

	d, err := daemon.New(cfg, store, svc, mgr, logger, daemon.WithEventBus(busName(bus)))
	if err != nil {
		_ = bus.Close()
		_ = repo.Close()
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		_ = bus.Close()
		_ = repo.Close()
		_ = store.Close()
		return err
	}
	if orch != nil {
		if err := orch.Start(signalCtx); err != nil {
			logging.WarnWithContext(logger, "orchestrator start failed; stages will not chain", "orchestrator_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "completed jobs wait for an external producer"),
			)
			orch = nil
		}
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		logging.WarnWithContext(logger, "IPC server unavailable", "ipc_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove a stale socket at "+cfg.SocketPath()),
			logging.String(logging.FieldImpact, "CLI commands cannot reach the daemon"),
		)
	} else {
		ipcServer.Serve()
	}

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.Info("shutdown signal received", logging.String(logging.FieldEventType, "daemon_signal"))
	case <-d.StopRequested():
		logger.Info("shutdown requested", logging.String(logging.FieldEventType, "daemon_stop_requested"))
	case fatal := <-mgr.Fatal():
		logging.ErrorWithContext(logger, "executor reported a fatal error; shutting down", "daemon_fatal",
			logging.Error(fatal),
			logging.String(logging.FieldErrorHint, "check the job store database and disk space"),
		)
		runErr = fatal
	}

	return errors.Join(runErr, shutdown(cfg, logger, ipcServer, orch, d, repo, bus))
}

func shutdown(cfg *config.Config, logger *slog.Logger, ipcServer *ipc.Server, orch *orchestrator.Orchestrator, d *daemon.Daemon, repo podcasts.Repository, bus events.Bus) error {
	if ipcServer != nil {
		ipcServer.Close()
	}
	if orch != nil {
		orch.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	var errs []error
	if err := d.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close podcast repository: %w", err))
	}
	if err := bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}
	err := errors.Join(errs...)
	logger.Info("tweetcast daemon exited",
		logging.String(logging.FieldEventType, "daemon_exit"),
		logging.Bool("clean", err == nil),
	)
	return err
}

func buildStages(cfg *config.Config, repo podcasts.Repository, logger *slog.Logger) workflow.StageSet {
	return workflow.StageSet{
		FetchTweets:     fetching.New(twitter.NewClient(cfg.Twitter), repo, logger),
		AnalyzeEmotions: analysis.New(classifier.New(cfg.Classifier), repo, cfg.Classifier.Parallelism, logger),
		GenerateAudio:   synthesis.New(tts.NewClient(cfg.Speech), cfg.Paths.AudioDir, logger),
		AssemblePodcast: assembly.New(audio.NewFFmpeg(cfg.Assembly), repo, cfg.Paths.AudioDir, cfg.Assembly.PublicBaseURL, logger),
	}
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if strings.TrimSpace(opts.LogLevel) == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:           level,
		Format:          cfg.Logging.Format,
		OutputPaths:     []string{"stdout", filepath.Join(cfg.Paths.LogDir, "tweetcast.log")},
		Development:     opts.Development,
		ComponentLevels: cfg.Logging.ComponentLevels,
	})
}

func busName(bus events.Bus) string {
	if _, ok := bus.(*events.NATS); ok {
		return "nats"
	}
	return "local"
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
