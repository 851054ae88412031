package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateCollaborators(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.AudioDir) == "" {
		return errors.New("paths.audio_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.lease_timeout":        c.Workflow.LeaseTimeout,
		"workflow.shutdown_timeout":     c.Workflow.ShutdownTimeout,
		"workflow.store_failure_limit":  c.Workflow.StoreFailureLimit,
	}); err != nil {
		return err
	}
	if c.Workflow.LeaseTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.lease_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	for key, value := range map[string]int{
		"workers.fetch_tweets":     c.Workers.FetchTweets,
		"workers.analyze_emotions": c.Workers.AnalyzeEmotions,
		"workers.generate_audio":   c.Workers.GenerateAudio,
		"workers.assemble_podcast": c.Workers.AssemblePodcast,
	} {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}

func (c *Config) validateCollaborators() error {
	if err := validateURL("twitter.base_url", c.Twitter.BaseURL); err != nil {
		return err
	}
	if c.Twitter.MaxResults > 100 {
		return errors.New("twitter.max_results must be <= 100")
	}
	if c.Classifier.URL != "" {
		if err := validateURL("classifier.url", c.Classifier.URL); err != nil {
			return err
		}
	}
	if err := validateURL("speech.base_url", c.Speech.BaseURL); err != nil {
		return err
	}
	if err := validateURL("assembly.public_base_url", c.Assembly.PublicBaseURL); err != nil {
		return err
	}
	if c.Assembly.TargetLUFS >= 0 {
		return errors.New("assembly.target_lufs must be negative")
	}
	return ensurePositiveMap(map[string]int{
		"twitter.timeout_seconds":    c.Twitter.TimeoutSeconds,
		"classifier.timeout_seconds": c.Classifier.TimeoutSeconds,
		"speech.timeout_seconds":     c.Speech.TimeoutSeconds,
		"assembly.timeout_seconds":   c.Assembly.TimeoutSeconds,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if _, ok := validLogLevels[c.Logging.Level]; !ok {
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	for component, level := range c.Logging.ComponentLevels {
		if _, ok := validLogLevels[level]; !ok {
			return fmt.Errorf("logging.component_levels.%s %q is not supported", component, level)
		}
	}
	return nil
}

func validateURL(key, value string) error {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
