package config

const (
	defaultDataDir = "~/.local/share/crosspost"
	defaultLogDir  = "~/.local/share/crosspost/logs"

	defaultConfigPath = "~/.config/crosspost/config.toml"

	defaultDatabaseDriver = DriverSQLite
	defaultDatabaseFile   = "crosspost.db"

	defaultSweepInterval      = 5
	defaultBatchSize          = 20
	defaultWorkers            = 4
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultErrorRetryInterval = 10
	defaultEventRetentionDays = 14

	defaultRetryBaseSeconds       = 2
	defaultRetryMaxSeconds        = 60
	defaultRetryMaxAttempts       = 3
	defaultPublishMaxAttempts     = 5
	defaultMaxThrottled           = 10
	defaultBreakerFailures        = 5
	defaultBreakerWindow          = 10
	defaultBreakerDelaySeconds    = 60
	defaultRateLimiterBackend     = RateLimiterMemory
	defaultPreflightReloadSeconds = 300

	defaultRedisKeyPrefix = "crosspost:ratelimit"

	defaultStorageBackend  = StorageLocal
	defaultPresignSeconds  = 3600
	defaultKafkaTopic      = "crosspost.runs"
	defaultKafkaClientID   = "crosspostd"
	defaultNotifyTimeout   = 10
	defaultAPIBind         = "127.0.0.1:7487"
	defaultCaptionProvider = CaptionTemplate
	defaultCaptionBaseURL  = "https://openrouter.ai/api/v1/chat/completions"
	defaultCaptionModel    = "google/gemini-2.5-flash"
	defaultCaptionTimeout  = 30
	defaultPublishTimeout  = 30
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultLogRetention    = 60
)

// Supported option values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	RateLimiterMemory = "memory"
	RateLimiterRedis  = "redis"

	DisciplineTokenBucket = "token_bucket"
	DisciplineFixedWindow = "fixed_window"

	StorageLocal = "local"
	StorageS3    = "s3"

	CaptionTemplate = "template"
	CaptionLLM      = "llm"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Database: Database{
			Driver: defaultDatabaseDriver,
		},
		Workflow: Workflow{
			SweepInterval:      defaultSweepInterval,
			BatchSize:          defaultBatchSize,
			Workers:            defaultWorkers,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			ErrorRetryInterval: defaultErrorRetryInterval,
			EventRetentionDays: defaultEventRetentionDays,
			DefaultPlatforms:   []string{"telegram"},
		},
		Retry: Retry{
			BaseDelaySeconds:        defaultRetryBaseSeconds,
			MaxDelaySeconds:         defaultRetryMaxSeconds,
			MaxAttempts:             defaultRetryMaxAttempts,
			PublishMaxAttempts:      defaultPublishMaxAttempts,
			MaxThrottled:            defaultMaxThrottled,
			BreakerFailureThreshold: defaultBreakerFailures,
			BreakerWindow:           defaultBreakerWindow,
			BreakerDelaySeconds:     defaultBreakerDelaySeconds,
		},
		RateLimiter: RateLimiter{
			Backend: defaultRateLimiterBackend,
			Default: RateLimit{Discipline: DisciplineTokenBucket, Rate: 1, Capacity: 5},
			Keys: map[string]RateLimit{
				"telegram":   {Discipline: DisciplineFixedWindow, Limit: 30, WindowSeconds: 1},
				"telegram:*": {Discipline: DisciplineFixedWindow, Limit: 20, WindowSeconds: 60},
				"vk":         {Discipline: DisciplineTokenBucket, Rate: 3, Capacity: 3},
				"instagram":  {Discipline: DisciplineFixedWindow, Limit: 200, WindowSeconds: 3600},
			},
		},
		Preflight: Preflight{
			ReloadSeconds: defaultPreflightReloadSeconds,
		},
		Redis: Redis{
			KeyPrefix: defaultRedisKeyPrefix,
		},
		Storage: Storage{
			Backend:        defaultStorageBackend,
			PresignSeconds: defaultPresignSeconds,
		},
		Kafka: Kafka{
			Topic:    defaultKafkaTopic,
			ClientID: defaultKafkaClientID,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			RunFinalized:   true,
			PublishFailed:  true,
			AuthFailures:   true,
		},
		Caption: Caption{
			Provider:       defaultCaptionProvider,
			BaseURL:        defaultCaptionBaseURL,
			Model:          defaultCaptionModel,
			TimeoutSeconds: defaultCaptionTimeout,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Publishers: map[string]Publisher{},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetention,
		},
	}
}
