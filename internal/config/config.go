package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	AudioDir string `toml:"audio_dir"`
}

// API contains HTTP API settings.
type API struct {
	Bind           string   `toml:"bind"`
	Token          string   `toml:"token"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Workflow contains daemon timing and lease configuration. All values are seconds.
type Workflow struct {
	QueuePollInterval  int  `toml:"queue_poll_interval"`
	ErrorRetryInterval int  `toml:"error_retry_interval"`
	HeartbeatInterval  int  `toml:"heartbeat_interval"`
	LeaseTimeout       int  `toml:"lease_timeout"`
	ShutdownTimeout    int  `toml:"shutdown_timeout"`
	StoreFailureLimit  int  `toml:"store_failure_limit"`
	AutoChain          bool `toml:"auto_chain"`
}

// Workers overrides per-type concurrency caps. Zero keeps the pipeline default.
type Workers struct {
	FetchTweets     int `toml:"fetch_tweets"`
	AnalyzeEmotions int `toml:"analyze_emotions"`
	GenerateAudio   int `toml:"generate_audio"`
	AssemblePodcast int `toml:"assemble_podcast"`
}

// Twitter contains social-media API configuration.
type Twitter struct {
	BearerToken    string `toml:"bearer_token"`
	BaseURL        string `toml:"base_url"`
	MaxResults     int    `toml:"max_results"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Classifier contains emotion classifier endpoint configuration.
type Classifier struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Parallelism    int    `toml:"parallelism"`
}

// Speech contains text-to-speech configuration.
type Speech struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	DefaultVoice   string `toml:"default_voice"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Assembly contains ffmpeg settings and the public URL base for finished podcasts.
type Assembly struct {
	FFmpegBinary   string  `toml:"ffmpeg_binary"`
	FFprobeBinary  string  `toml:"ffprobe_binary"`
	PublicBaseURL  string  `toml:"public_base_url"`
	TargetLUFS     float64 `toml:"target_lufs"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Storage selects the podcast repository backend.
type Storage struct {
	PostgresDSN string `toml:"postgres_dsn"`
}

// Events configures the job lifecycle event bus.
type Events struct {
	NatsURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic        string `toml:"ntfy_topic"`
	RequestTimeout   int    `toml:"request_timeout"`
	PodcastCompleted bool   `toml:"podcast_completed"`
	JobFailures      bool   `toml:"job_failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format          string            `toml:"format"`
	Level           string            `toml:"level"`
	RetentionDays   int               `toml:"retention_days"`
	ComponentLevels map[string]string `toml:"component_levels"`
}

// Config encapsulates all configuration values for tweetcast.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and audio directories
//   - API: HTTP bind address, bearer token, CORS origins
//   - Workflow: polling, lease, and shutdown timing
//   - Workers: per-type concurrency overrides
//   - Twitter, Classifier, Speech, Assembly: stage collaborators
//   - Storage: podcast repository backend
//   - Events: NATS event bus
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Workflow      Workflow      `toml:"workflow"`
	Workers       Workers       `toml:"workers"`
	Twitter       Twitter       `toml:"twitter"`
	Classifier    Classifier    `toml:"classifier"`
	Speech        Speech        `toml:"speech"`
	Assembly      Assembly      `toml:"assembly"`
	Storage       Storage       `toml:"storage"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config file or in the
// working directory seeds environment fallbacks without overriding variables already set.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(configDir string) error {
	candidates := []string{".env"}
	if configDir != "" && configDir != "." {
		candidates = append([]string{filepath.Join(configDir, ".env")}, candidates...)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tweetcast.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.AudioDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the job store database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// PodcastDBPath returns the SQLite podcast repository location used when no
// Postgres DSN is configured.
func (c *Config) PodcastDBPath() string {
	return filepath.Join(c.Paths.DataDir, "podcasts.db")
}

// SocketPath returns the daemon IPC socket path.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "tweetcast.sock")
}

// LockPath returns the daemon single-instance lock path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "tweetcast.lock")
}

// PollInterval returns the executor fallback poll interval.
func (c *Config) PollInterval() time.Duration {
	return seconds(c.Workflow.QueuePollInterval)
}

// ErrorRetryInterval returns the delay after a store error in the leasing loop.
func (c *Config) ErrorRetryInterval() time.Duration {
	return seconds(c.Workflow.ErrorRetryInterval)
}

// HeartbeatInterval returns the lease extension cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.Workflow.HeartbeatInterval)
}

// LeaseTTL returns how long a lease stays valid without a heartbeat.
func (c *Config) LeaseTTL() time.Duration {
	return seconds(c.Workflow.LeaseTimeout)
}

// ShutdownTimeout returns how long CloseAll waits for in-flight jobs.
func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.Workflow.ShutdownTimeout)
}

// ConcurrencyOverride returns the configured cap for a job type, or zero when unset.
func (c *Config) ConcurrencyOverride(jobType string) int {
	switch jobType {
	case "fetch_tweets":
		return c.Workers.FetchTweets
	case "analyze_emotions":
		return c.Workers.AnalyzeEmotions
	case "generate_audio":
		return c.Workers.GenerateAudio
	case "assemble_podcast":
		return c.Workers.AssemblePodcast
	default:
		return 0
	}
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
