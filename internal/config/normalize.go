package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeWorkflow()
	c.normalizeCollaborators()
	c.normalizeInfrastructure()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.AudioDir) == "" {
		c.Paths.AudioDir = defaultAudioDir
	}
	if c.Paths.AudioDir, err = expandPath(c.Paths.AudioDir); err != nil {
		return fmt.Errorf("paths.audio_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = envFallback(c.API.Token, "TWEETCAST_API_TOKEN")
	origins := make([]string, 0, len(c.API.AllowedOrigins))
	for _, origin := range c.API.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.API.AllowedOrigins = origins
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.StoreFailureLimit <= 0 {
		c.Workflow.StoreFailureLimit = defaultWorkflowStoreFailures
	}
	if c.Workflow.ShutdownTimeout <= 0 {
		c.Workflow.ShutdownTimeout = defaultWorkflowShutdownTimeout
	}
}

func (c *Config) normalizeCollaborators() {
	c.Twitter.BearerToken = envFallback(c.Twitter.BearerToken, "TWITTER_BEARER_TOKEN")
	c.Twitter.BaseURL = trimURL(c.Twitter.BaseURL, defaultTwitterBaseURL)
	if c.Twitter.MaxResults <= 0 {
		c.Twitter.MaxResults = defaultTwitterMaxResults
	}

	c.Classifier.APIKey = envFallback(c.Classifier.APIKey, "CLASSIFIER_API_KEY")
	c.Classifier.URL = strings.TrimRight(strings.TrimSpace(c.Classifier.URL), "/")
	if c.Classifier.Parallelism <= 0 {
		c.Classifier.Parallelism = defaultClassifierParallelism
	}

	c.Speech.APIKey = envFallback(c.Speech.APIKey, "TTS_API_KEY")
	c.Speech.BaseURL = trimURL(c.Speech.BaseURL, defaultSpeechBaseURL)
	c.Speech.Model = strings.TrimSpace(c.Speech.Model)
	if c.Speech.Model == "" {
		c.Speech.Model = defaultSpeechModel
	}
	c.Speech.DefaultVoice = strings.TrimSpace(c.Speech.DefaultVoice)
	if c.Speech.DefaultVoice == "" {
		c.Speech.DefaultVoice = defaultSpeechVoice
	}

	c.Assembly.FFmpegBinary = strings.TrimSpace(c.Assembly.FFmpegBinary)
	if c.Assembly.FFmpegBinary == "" {
		c.Assembly.FFmpegBinary = defaultFFmpegBinary
	}
	c.Assembly.FFprobeBinary = strings.TrimSpace(c.Assembly.FFprobeBinary)
	if c.Assembly.FFprobeBinary == "" {
		c.Assembly.FFprobeBinary = defaultFFprobeBinary
	}
	c.Assembly.PublicBaseURL = trimURL(c.Assembly.PublicBaseURL, defaultPublicBaseURL)
	if c.Assembly.TargetLUFS == 0 {
		c.Assembly.TargetLUFS = defaultTargetLUFS
	}
}

func (c *Config) normalizeInfrastructure() {
	c.Storage.PostgresDSN = envFallback(c.Storage.PostgresDSN, "TWEETCAST_POSTGRES_DSN")
	c.Events.NatsURL = envFallback(c.Events.NatsURL, "TWEETCAST_NATS_URL")
	c.Events.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Events.SubjectPrefix), ".")
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = defaultEventSubjectPrefix
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if len(c.Logging.ComponentLevels) > 0 {
		levels := make(map[string]string, len(c.Logging.ComponentLevels))
		for component, level := range c.Logging.ComponentLevels {
			component = strings.ToLower(strings.TrimSpace(component))
			level = strings.ToLower(strings.TrimSpace(level))
			if component == "" || level == "" {
				continue
			}
			levels[component] = level
		}
		c.Logging.ComponentLevels = levels
	}
}

func envFallback(value, key string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return ""
}

func trimURL(value, fallback string) string {
	value = strings.TrimRight(strings.TrimSpace(value), "/")
	if value == "" {
		return fallback
	}
	return value
}
