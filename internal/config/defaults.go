package config

const (
	defaultConfigPath = "~/.config/finisher/config.toml"
	defaultStateDir   = "~/.local/share/finisher"
	defaultLogDir     = "~/.local/share/finisher/logs"
	defaultAPIBind    = "127.0.0.1:7861"
	defaultLogFormat  = "console"
	defaultLogLevel   = "info"
	defaultLogRetain  = 14

	defaultServerURL         = "http://127.0.0.1:7860"
	defaultProcessingTimeout = 300
	defaultStatusTimeout     = 10
	defaultOptionsTimeout    = 30

	defaultUpscaler          = "Lanczos"
	defaultScaleFactor       = 2.5
	defaultDenoisingStrength = 0.15
	defaultTileOverlap       = 64
	defaultSteps             = 25
	defaultSampler           = "Euler a"
	defaultScheduler         = "Automatic"
	defaultCFGScale          = 10
	defaultImageSize         = 512
	defaultFinalScale        = 1.5
	defaultFinalUpscaler     = "None"

	defaultActivePollInterval   = 2
	defaultIdlePollInterval     = 10
	defaultErrorPollInterval    = 30
	defaultMaxConsecutiveErrors = 3
	defaultUnobservedMultiplier = 3

	defaultQueueCapacity      = 50
	defaultTimestampTolerance = 5
	defaultCancelTimeout      = 30
	defaultHistoryLimit       = 100

	defaultNotifyRequestTimeout = 10
	defaultHistoryRetentionDays = 30
	defaultHistoryFile          = "history.db"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			BaseURL:           defaultServerURL,
			ProcessingTimeout: defaultProcessingTimeout,
			StatusTimeout:     defaultStatusTimeout,
			OptionsTimeout:    defaultOptionsTimeout,
		},
		Processing: Processing{
			Upscaler:          defaultUpscaler,
			FallbackUpscaler:  defaultUpscaler,
			ScaleFactor:       defaultScaleFactor,
			DenoisingStrength: defaultDenoisingStrength,
			TileOverlap:       defaultTileOverlap,
			Steps:             defaultSteps,
			Sampler:           defaultSampler,
			Scheduler:         defaultScheduler,
			CFGScale:          defaultCFGScale,
			Width:             defaultImageSize,
			Height:            defaultImageSize,
			FinalScale:        defaultFinalScale,
			FinalUpscaler:     defaultFinalUpscaler,
		},
		Polling: Polling{
			ActiveInterval:       defaultActivePollInterval,
			IdleInterval:         defaultIdlePollInterval,
			ErrorInterval:        defaultErrorPollInterval,
			MaxConsecutiveErrors: defaultMaxConsecutiveErrors,
			UnobservedMultiplier: defaultUnobservedMultiplier,
		},
		Jobs: Jobs{
			Capacity:           defaultQueueCapacity,
			TimestampTolerance: defaultTimestampTolerance,
			CancelTimeout:      defaultCancelTimeout,
			HistoryLimit:       defaultHistoryLimit,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetain,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
			QueueDrained:   true,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetentionDays,
		},
	}
}
