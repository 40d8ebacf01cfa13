package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Database selects the durable store backing the outbox and the content repository.
type Database struct {
	Driver       string `toml:"driver"`
	Path         string `toml:"path"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// Workflow contains the sweep loop, worker pool, and heartbeat timing.
type Workflow struct {
	SweepInterval      int      `toml:"sweep_interval"`
	BatchSize          int      `toml:"batch_size"`
	Workers            int      `toml:"workers"`
	HeartbeatInterval  int      `toml:"heartbeat_interval"`
	HeartbeatTimeout   int      `toml:"heartbeat_timeout"`
	ErrorRetryInterval int      `toml:"error_retry_interval"`
	EventRetentionDays int      `toml:"event_retention_days"`
	DefaultPlatforms   []string `toml:"default_platforms"`
}

// Retry configures backoff and attempt budgets for stage retries.
type Retry struct {
	BaseDelaySeconds        int `toml:"base_delay_seconds"`
	MaxDelaySeconds         int `toml:"max_delay_seconds"`
	MaxAttempts             int `toml:"max_attempts"`
	PublishMaxAttempts      int `toml:"publish_max_attempts"`
	MaxThrottled            int `toml:"max_throttled"`
	BreakerFailureThreshold int `toml:"breaker_failure_threshold"`
	BreakerWindow           int `toml:"breaker_window"`
	BreakerDelaySeconds     int `toml:"breaker_delay_seconds"`
}

// RateLimit describes the discipline for one limiter key.
type RateLimit struct {
	Discipline    string  `toml:"discipline"`
	Limit         int     `toml:"limit"`
	WindowSeconds int     `toml:"window_seconds"`
	Rate          float64 `toml:"rate"`
	Capacity      int     `toml:"capacity"`
}

// RateLimiter contains limiter backend selection and per-key disciplines.
// Keys are a platform name ("telegram"), a platform plus sub-key
// ("telegram:12345"), or "platform:*" for every sub-key of that platform.
type RateLimiter struct {
	Backend string               `toml:"backend"`
	Default RateLimit            `toml:"default"`
	Keys    map[string]RateLimit `toml:"keys"`
}

// Preflight contains rule loading settings.
type Preflight struct {
	RulesPath     string `toml:"rules_path"`
	ReloadSeconds int    `toml:"reload_seconds"`
}

// Redis configures the shared redis used by the distributed rate limiter.
type Redis struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// Storage selects where ingested media is persisted.
type Storage struct {
	Backend        string `toml:"backend"`
	LocalDir       string `toml:"local_dir"`
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	PresignSeconds int    `toml:"presign_seconds"`
}

// Kafka configures the run event sink. An empty broker list disables it.
type Kafka struct {
	Brokers  []string `toml:"brokers"`
	Topic    string   `toml:"topic"`
	ClientID string   `toml:"client_id"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunFinalized   bool   `toml:"run_finalized"`
	PublishFailed  bool   `toml:"publish_failed"`
	AuthFailures   bool   `toml:"auth_failures"`
}

// API contains the HTTP server bind address and the URL CLI commands dial.
type API struct {
	Bind string `toml:"bind"`
	URL  string `toml:"url"`
}

// Caption selects how platform captions are produced. The template provider
// needs no network; the llm provider calls an OpenRouter-compatible chat API.
type Caption struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Publisher configures one platform adapter. An empty endpoint selects the
// simulated publisher.
type Publisher struct {
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format          string            `toml:"format"`
	Level           string            `toml:"level"`
	RetentionDays   int               `toml:"retention_days"`
	ComponentLevels map[string]string `toml:"component_levels"`
}

// Config encapsulates all configuration values for crosspost.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Database: sqlite file or postgres DSN for outbox and posts
//   - Workflow: sweep interval, worker pool, heartbeats, retention
//   - Retry: backoff, attempt budgets, circuit breakers
//   - RateLimiter: limiter backend and per-platform disciplines
//   - Preflight: rule file location and reload TTL
//   - Redis, Storage, Kafka: optional infrastructure
//   - Notifications: ntfy push alerts
//   - Caption: template or LLM caption generation
//   - API: HTTP bind address
//   - Publishers: per-platform adapter endpoints
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths                `toml:"paths"`
	Database      Database             `toml:"database"`
	Workflow      Workflow             `toml:"workflow"`
	Retry         Retry                `toml:"retry"`
	RateLimiter   RateLimiter          `toml:"rate_limiter"`
	Preflight     Preflight            `toml:"preflight"`
	Redis         Redis                `toml:"redis"`
	Storage       Storage              `toml:"storage"`
	Kafka         Kafka                `toml:"kafka"`
	Notifications Notifications        `toml:"notifications"`
	Caption       Caption              `toml:"caption"`
	API           API                  `toml:"api"`
	Publishers    map[string]Publisher `toml:"publishers"`
	Logging       Logging              `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A .env file next
// to the config file (or in the working directory) is loaded first so env
// fallbacks in normalize can see it. The returned config has all path fields
// expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	loadDotEnv(filepath.Join(filepath.Dir(resolvedPath), ".env"), ".env")

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

// loadDotEnv loads each existing file without overriding variables already
// present in the process environment.
func loadDotEnv(files ...string) {
	seen := make(map[string]struct{}, len(files))
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(abs)
	}
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

	projectPath, err := filepath.Abs("crosspost.toml")
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
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	if c.Database.Driver == DriverSQLite {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RateLimitFor resolves the limiter discipline for a platform and optional
// sub-key. Lookup order: "platform:subkey", "platform:*", "platform", then
// the default rule.
func (c *Config) RateLimitFor(platform, subKey string) RateLimit {
	platform = strings.ToLower(platform)
	if subKey != "" {
		if rl, ok := c.RateLimiter.Keys[platform+":"+strings.ToLower(subKey)]; ok {
			return rl
		}
		if rl, ok := c.RateLimiter.Keys[platform+":*"]; ok {
			return rl
		}
	}
	if rl, ok := c.RateLimiter.Keys[platform]; ok {
		return rl
	}
	return c.RateLimiter.Default
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
