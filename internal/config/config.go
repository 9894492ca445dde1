package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a batch run. It is loaded once and
// passed explicitly; nothing reads it as ambient state.
type Config struct {
	// BaseURL is the root of the exchange's file publication host.
	BaseURL string `mapstructure:"base_url"`

	// DataDir is the root of the date-partitioned local store.
	DataDir string `mapstructure:"data_dir"`

	// BucketURL enables the object-store mirror when non-empty
	// (gocloud URL, e.g. file:///var/mirror or s3://b3-mirror).
	BucketURL string `mapstructure:"bucket_url"`

	// Tasks selects and orders a subset of the catalog. Empty means
	// all registered tasks.
	Tasks []string `mapstructure:"tasks"`

	// MaxDates is the number of recent trading dates to process.
	MaxDates int `mapstructure:"max_dates"`

	// GlobalConcurrency caps in-flight fetch attempts across the run.
	GlobalConcurrency int `mapstructure:"global_concurrency"`

	// HostConcurrency caps in-flight attempts per remote host.
	HostConcurrency int `mapstructure:"host_concurrency"`

	// HostRPS limits request starts per host per second. 0 disables.
	HostRPS float64 `mapstructure:"host_rps"`

	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`

	// KeepDays is the local retention window; 0 disables cleanup.
	KeepDays int `mapstructure:"keep_days"`

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Holidays supplements the built-in holiday list for the offline
	// date fallback.
	Holidays []string `mapstructure:"holidays"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence.
//
// Recognized environment variables (all optional):
//   - B3_BASE_URL, B3_DATA_DIR, B3_BUCKET_URL, B3_TASKS
//   - B3_MAX_DATES, B3_GLOBAL_CONCURRENCY, B3_HOST_CONCURRENCY, B3_HOST_RPS
//   - B3_RETRY_ATTEMPTS, B3_RETRY_BACKOFF, B3_RETRY_BACKOFF_MAX
//   - B3_KEEP_DAYS, B3_METRICS_ADDR, B3_LOG_LEVEL
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("base_url", "https://arquivos.b3.com.br")
	v.SetDefault("data_dir", "data")
	v.SetDefault("max_dates", 7)
	v.SetDefault("global_concurrency", 20)
	v.SetDefault("host_concurrency", 10)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_backoff", time.Second)
	v.SetDefault("retry_backoff_max", 30*time.Second)
	v.SetDefault("keep_days", 30)
	v.SetDefault("log_level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.b3-scraper")

	// Read config file (ignore if not found)
	_ = v.ReadInConfig()

	v.BindEnv("base_url", "B3_BASE_URL")
	v.BindEnv("data_dir", "B3_DATA_DIR")
	v.BindEnv("bucket_url", "B3_BUCKET_URL")
	v.BindEnv("tasks", "B3_TASKS")
	v.BindEnv("max_dates", "B3_MAX_DATES")
	v.BindEnv("global_concurrency", "B3_GLOBAL_CONCURRENCY")
	v.BindEnv("host_concurrency", "B3_HOST_CONCURRENCY")
	v.BindEnv("host_rps", "B3_HOST_RPS")
	v.BindEnv("retry_attempts", "B3_RETRY_ATTEMPTS")
	v.BindEnv("retry_backoff", "B3_RETRY_BACKOFF")
	v.BindEnv("retry_backoff_max", "B3_RETRY_BACKOFF_MAX")
	v.BindEnv("keep_days", "B3_KEEP_DAYS")
	v.BindEnv("metrics_addr", "B3_METRICS_ADDR")
	v.BindEnv("log_level", "B3_LOG_LEVEL")

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects incoherent values before any fetching begins.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base_url must include a host")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.MaxDates <= 0 {
		return fmt.Errorf("max_dates must be positive")
	}
	if c.GlobalConcurrency <= 0 {
		return fmt.Errorf("global_concurrency must be positive")
	}
	if c.HostConcurrency <= 0 {
		return fmt.Errorf("host_concurrency must be positive")
	}
	if c.HostRPS < 0 {
		return fmt.Errorf("host_rps cannot be negative")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive")
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry_backoff must be positive")
	}
	if c.RetryBackoffMax < c.RetryBackoff {
		return fmt.Errorf("retry_backoff_max (%s) cannot be below retry_backoff (%s)",
			c.RetryBackoffMax, c.RetryBackoff)
	}
	if c.KeepDays < 0 {
		return fmt.Errorf("keep_days cannot be negative")
	}
	return nil
}

// Host returns the remote host of BaseURL, used to key the admission
// gates and rate limiter.
func (c *Config) Host() string {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return parsed.Host
}
