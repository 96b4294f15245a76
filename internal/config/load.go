package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment variable overrides, e.g.
// TASKCORE_SERVER_PORT or TASKCORE_QUEUES_PARSING_WORKER_COUNT.
const envPrefix = "TASKCORE"

// Load reads configuration from an optional config.yaml in the working
// directory and from environment variables, with the environment taking
// precedence. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults plus environment apply.
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			fields := make([]string, 0, len(validationErrs))
			for _, fieldErr := range validationErrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fieldErr.Namespace(), fieldErr.Tag()))
			}
			return nil, fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every key so environment
// overrides bind even without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "taskcore")

	defaultQueue := func(name string, workers, timeoutSeconds int) {
		base := "queues." + name
		v.SetDefault(base+".queue_name", name)
		v.SetDefault(base+".worker_count", workers)
		v.SetDefault(base+".job_timeout_seconds", timeoutSeconds)
		v.SetDefault(base+".max_retries", 3)
		v.SetDefault(base+".retry_delays_seconds", []int{0, 30, 300})
		v.SetDefault(base+".depth_threshold", 1000)
	}
	defaultQueue("parsing", 4, 60)
	defaultQueue("ai", 2, 120)
	defaultQueue("export", 2, 60)

	v.SetDefault("reaper.stuck_age_minutes", 30)
	v.SetDefault("reaper.check_interval_minutes", 5)
}
