package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables use the PLUME_ prefix with underscores standing
	// in for key separators, e.g. PLUME_DATABASE_URL -> database.url.
	v.SetEnvPrefix("PLUME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// An optional config file may supply anything the environment does not.
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers a default for every known key so viper can bind the
// corresponding environment variables during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.rate_limit_capacity", 0)
	v.SetDefault("server.rate_limit_refill_per_sec", 0)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("engine.default_max_retries", 3)
	v.SetDefault("engine.default_priority", 100)
	v.SetDefault("engine.owner_active_ceiling", 10)
	v.SetDefault("engine.dedup_window", "5m")
	v.SetDefault("engine.result_cache_ttl", "1h")
	v.SetDefault("engine.pending_ttl", "24h")
	v.SetDefault("engine.stuck_timeout", "30m")
	v.SetDefault("engine.retry_backoff_base", "30s")
	v.SetDefault("engine.retry_backoff_cap", "1h")
	v.SetDefault("engine.retry_backoff_jitter", false)
	v.SetDefault("engine.retention_window", "720h")
	v.SetDefault("engine.claim_batch_size", 10)
	v.SetDefault("engine.sweep_batch_size", 100)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.handler_timeout", "10m")
	v.SetDefault("worker.cancel_poll_interval", "5s")
	v.SetDefault("worker.sweeps_enabled", false)
	v.SetDefault("worker.retry_sweep_interval", "5m")
	v.SetDefault("worker.expiry_sweep_interval", "5m")
	v.SetDefault("worker.stuck_sweep_interval", "10m")
	v.SetDefault("worker.retention_sweep_interval", "1h")

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model", "gemini-2.0-flash")
}

// validateConfig applies struct tag validation and returns a readable error
// listing every failing field.
func validateConfig(cfg *Config) error {
	validate := validator.New()
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("config validation failed: %w", err)
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("config validation failed: %s", strings.Join(fields, ", "))
	}

	return fmt.Errorf("config validation failed: %w", err)
}
