package config

const (
	defaultConfigPath              = "~/.config/tweetcast/config.toml"
	defaultDataDir                 = "~/.local/share/tweetcast"
	defaultLogDir                  = "~/.local/share/tweetcast/logs"
	defaultAudioDir                = "~/.local/share/tweetcast/audio"
	defaultAPIBind                 = "127.0.0.1:7620"
	defaultTwitterBaseURL          = "https://api.twitter.com/2"
	defaultTwitterMaxResults       = 50
	defaultClassifierParallelism   = 4
	defaultSpeechBaseURL           = "https://api.elevenlabs.io/v1"
	defaultSpeechModel             = "eleven_monolingual_v1"
	defaultSpeechVoice             = "21m00Tcm4TlvDq8ikWAM"
	defaultFFmpegBinary            = "ffmpeg"
	defaultFFprobeBinary           = "ffprobe"
	defaultPublicBaseURL           = "http://localhost:7620/media"
	defaultTargetLUFS              = -16.0
	defaultEventSubjectPrefix      = "tweetcast"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
	defaultCollaboratorTimeout     = 30
	defaultAssemblyTimeout         = 600
	defaultWorkflowPollInterval    = 5
	defaultWorkflowErrorRetry      = 10
	defaultWorkflowHeartbeat       = 15
	defaultWorkflowLeaseTimeout    = 120
	defaultWorkflowShutdownTimeout = 30
	defaultWorkflowStoreFailures   = 5
	defaultNotifyRequestTimeout    = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			AudioDir: defaultAudioDir,
		},
		API: API{
			Bind:           defaultAPIBind,
			AllowedOrigins: []string{"*"},
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultWorkflowPollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetry,
			HeartbeatInterval:  defaultWorkflowHeartbeat,
			LeaseTimeout:       defaultWorkflowLeaseTimeout,
			ShutdownTimeout:    defaultWorkflowShutdownTimeout,
			StoreFailureLimit:  defaultWorkflowStoreFailures,
		},
		Twitter: Twitter{
			BaseURL:        defaultTwitterBaseURL,
			MaxResults:     defaultTwitterMaxResults,
			TimeoutSeconds: defaultCollaboratorTimeout,
		},
		Classifier: Classifier{
			TimeoutSeconds: defaultCollaboratorTimeout,
			Parallelism:    defaultClassifierParallelism,
		},
		Speech: Speech{
			BaseURL:        defaultSpeechBaseURL,
			Model:          defaultSpeechModel,
			DefaultVoice:   defaultSpeechVoice,
			TimeoutSeconds: defaultCollaboratorTimeout,
		},
		Assembly: Assembly{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			PublicBaseURL:  defaultPublicBaseURL,
			TargetLUFS:     defaultTargetLUFS,
			TimeoutSeconds: defaultAssemblyTimeout,
		},
		Events: Events{
			SubjectPrefix: defaultEventSubjectPrefix,
		},
		Notifications: Notifications{
			RequestTimeout:   defaultNotifyRequestTimeout,
			PodcastCompleted: true,
			JobFailures:      true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
