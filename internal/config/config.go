package config

import (
	"time"

	"github.com/hoardline/taskcore/internal/domain"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig           `mapstructure:"server" validate:"required"`
	Database DatabaseConfig         `mapstructure:"database" validate:"required"`
	Redis    RedisConfig            `mapstructure:"redis" validate:"required"`
	Queues   map[string]QueueConfig `mapstructure:"queues" validate:"required,dive"`
	Reaper   ReaperConfig           `mapstructure:"reaper"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig contains the queue broker connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" validate:"required"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

// QueueConfig holds the per-kind processing settings. The map key in
// Config.Queues is the task kind the settings apply to.
type QueueConfig struct {
	// QueueName is the broker queue the kind's jobs go to.
	QueueName string `mapstructure:"queue_name" validate:"required"`

	// WorkerCount is the size of the kind's worker pool.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// JobTimeoutSeconds bounds a single handler call.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds" validate:"required,gt=0"`

	// MaxRetries is the retry budget per item.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// RetryDelaysSeconds is the backoff table indexed by retry count.
	RetryDelaysSeconds []int `mapstructure:"retry_delays_seconds" validate:"required,min=1"`

	// DepthThreshold marks the queue degraded when its backlog exceeds
	// this many jobs. Zero disables the threshold.
	DepthThreshold int64 `mapstructure:"depth_threshold" validate:"gte=0"`
}

// JobTimeout returns the handler timeout as a duration.
func (q QueueConfig) JobTimeout() time.Duration {
	return time.Duration(q.JobTimeoutSeconds) * time.Second
}

// RetryPolicy converts the queue settings into a domain retry policy.
func (q QueueConfig) RetryPolicy() domain.RetryPolicy {
	delays := make([]time.Duration, 0, len(q.RetryDelaysSeconds))
	for _, seconds := range q.RetryDelaysSeconds {
		delays = append(delays, time.Duration(seconds)*time.Second)
	}
	return domain.RetryPolicy{
		MaxRetries: q.MaxRetries,
		Delays:     delays,
	}
}

// ReaperConfig contains the crash-recovery sweep settings.
type ReaperConfig struct {
	StuckAgeMinutes      int `mapstructure:"stuck_age_minutes" validate:"required,gt=0"`
	CheckIntervalMinutes int `mapstructure:"check_interval_minutes" validate:"required,gt=0"`
}

// StuckAge returns the stuck-item age as a duration.
func (r ReaperConfig) StuckAge() time.Duration {
	return time.Duration(r.StuckAgeMinutes) * time.Minute
}

// CheckInterval returns the sweep interval as a duration.
func (r ReaperConfig) CheckInterval() time.Duration {
	return time.Duration(r.CheckIntervalMinutes) * time.Minute
}
