package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeRateLimiter()
	if err := c.normalizePreflight(); err != nil {
		return err
	}
	c.normalizeRedis()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeKafka()
	c.normalizeNotifications()
	c.normalizeCaption()
	c.normalizeAPI()
	c.normalizePublishers()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := lookupEnv("CROSSPOST_DATA_DIR"); ok {
		c.Paths.DataDir = value
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = defaultDatabaseDriver
	}
	if c.Database.DSN == "" {
		if value, ok := lookupEnv("CROSSPOST_DATABASE_DSN"); ok {
			c.Database.DSN = value
		}
	}
	if c.Database.Driver != DriverSQLite {
		return nil
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = filepath.Join(c.Paths.DataDir, defaultDatabaseFile)
	}
	var err error
	if c.Database.Path, err = expandPath(c.Database.Path); err != nil {
		return fmt.Errorf("database.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.SweepInterval <= 0 {
		c.Workflow.SweepInterval = defaultSweepInterval
	}
	if c.Workflow.BatchSize <= 0 {
		c.Workflow.BatchSize = defaultBatchSize
	}
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	platforms := c.Workflow.DefaultPlatforms[:0]
	for _, p := range c.Workflow.DefaultPlatforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			platforms = append(platforms, p)
		}
	}
	c.Workflow.DefaultPlatforms = platforms
}

func (c *Config) normalizeRateLimiter() {
	c.RateLimiter.Backend = strings.ToLower(strings.TrimSpace(c.RateLimiter.Backend))
	if c.RateLimiter.Backend == "" {
		c.RateLimiter.Backend = defaultRateLimiterBackend
	}
	c.RateLimiter.Default.Discipline = normalizeDiscipline(c.RateLimiter.Default.Discipline)
	if len(c.RateLimiter.Keys) == 0 {
		return
	}
	keys := make(map[string]RateLimit, len(c.RateLimiter.Keys))
	for key, rl := range c.RateLimiter.Keys {
		rl.Discipline = normalizeDiscipline(rl.Discipline)
		keys[strings.ToLower(strings.TrimSpace(key))] = rl
	}
	c.RateLimiter.Keys = keys
}

func normalizeDiscipline(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, "-", "_")
	if value == "" {
		return DisciplineTokenBucket
	}
	return value
}

func (c *Config) normalizePreflight() error {
	if value, ok := lookupEnv("CROSSPOST_PREFLIGHT_RULES"); ok && c.Preflight.RulesPath == "" {
		c.Preflight.RulesPath = value
	}
	if c.Preflight.RulesPath != "" {
		var err error
		if c.Preflight.RulesPath, err = expandPath(c.Preflight.RulesPath); err != nil {
			return fmt.Errorf("preflight.rules_path: %w", err)
		}
	}
	if c.Preflight.ReloadSeconds <= 0 {
		c.Preflight.ReloadSeconds = defaultPreflightReloadSeconds
	}
	return nil
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		if value, ok := lookupEnv("CROSSPOST_REDIS_ADDR"); ok {
			c.Redis.Addr = value
		}
	}
	if c.Redis.Password == "" {
		if value, ok := lookupEnv("CROSSPOST_REDIS_PASSWORD"); ok {
			c.Redis.Password = value
		}
	}
	c.Redis.KeyPrefix = strings.TrimSpace(c.Redis.KeyPrefix)
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if c.Storage.AccessKey == "" {
		if value, ok := lookupEnv("CROSSPOST_S3_ACCESS_KEY"); ok {
			c.Storage.AccessKey = value
		}
	}
	if c.Storage.SecretKey == "" {
		if value, ok := lookupEnv("CROSSPOST_S3_SECRET_KEY"); ok {
			c.Storage.SecretKey = value
		}
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Endpoint = strings.TrimRight(strings.TrimSpace(c.Storage.Endpoint), "/")
	if c.Storage.PresignSeconds <= 0 {
		c.Storage.PresignSeconds = defaultPresignSeconds
	}
	if c.Storage.Backend != StorageLocal {
		return nil
	}
	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = filepath.Join(c.Paths.DataDir, "media")
	}
	var err error
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeKafka() {
	if len(c.Kafka.Brokers) == 0 {
		if value, ok := lookupEnv("CROSSPOST_KAFKA_BROKERS"); ok {
			c.Kafka.Brokers = strings.Split(value, ",")
		}
	}
	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
	if strings.TrimSpace(c.Kafka.Topic) == "" {
		c.Kafka.Topic = defaultKafkaTopic
	}
	if strings.TrimSpace(c.Kafka.ClientID) == "" {
		c.Kafka.ClientID = defaultKafkaClientID
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := lookupEnv("CROSSPOST_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeCaption() {
	c.Caption.Provider = strings.ToLower(strings.TrimSpace(c.Caption.Provider))
	if c.Caption.Provider == "" {
		c.Caption.Provider = defaultCaptionProvider
	}
	c.Caption.APIKey = strings.TrimSpace(c.Caption.APIKey)
	if c.Caption.APIKey == "" {
		if value, ok := lookupEnv("CROSSPOST_LLM_API_KEY"); ok {
			c.Caption.APIKey = value
		}
	}
	c.Caption.BaseURL = strings.TrimSpace(c.Caption.BaseURL)
	if c.Caption.BaseURL == "" {
		c.Caption.BaseURL = defaultCaptionBaseURL
	}
	c.Caption.Model = strings.TrimSpace(c.Caption.Model)
	if c.Caption.Model == "" {
		c.Caption.Model = defaultCaptionModel
	}
	if c.Caption.TimeoutSeconds <= 0 {
		c.Caption.TimeoutSeconds = defaultCaptionTimeout
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.URL = strings.TrimRight(strings.TrimSpace(c.API.URL), "/")
	if c.API.URL == "" {
		c.API.URL = "http://" + c.API.Bind
	}
}

func (c *Config) normalizePublishers() {
	if len(c.Publishers) == 0 {
		c.Publishers = map[string]Publisher{}
		return
	}
	publishers := make(map[string]Publisher, len(c.Publishers))
	for name, pub := range c.Publishers {
		pub.Endpoint = strings.TrimSpace(pub.Endpoint)
		if pub.TimeoutSeconds <= 0 {
			pub.TimeoutSeconds = defaultPublishTimeout
		}
		publishers[strings.ToLower(strings.TrimSpace(name))] = pub
	}
	c.Publishers = publishers
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level

	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if len(c.Logging.ComponentLevels) > 0 {
		levels := make(map[string]string, len(c.Logging.ComponentLevels))
		for component, lvl := range c.Logging.ComponentLevels {
			levels[strings.ToLower(strings.TrimSpace(component))] = strings.ToLower(strings.TrimSpace(lvl))
		}
		c.Logging.ComponentLevels = levels
	}
}

// lookupEnv returns a trimmed, non-empty environment value.
func lookupEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
