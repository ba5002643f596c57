package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"    validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Engine   EngineConfig   `mapstructure:"engine"   validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// RateLimitCapacity and RateLimitRefillPerSec configure the per-owner
	// token bucket on producer endpoints. The bucket lives in Redis when it
	// is enabled and falls back to per-instance state otherwise; a zero
	// capacity disables throttling entirely.
	RateLimitCapacity     int     `mapstructure:"rate_limit_capacity"        validate:"gte=0"`
	RateLimitRefillPerSec float64 `mapstructure:"rate_limit_refill_per_sec"  validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// Driver selects the job store backend: "postgres" for production, "memory"
// for single-process deployments and local development.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	URL    string `mapstructure:"url"    validate:"required_if=Driver postgres,omitempty,url"`
}

// RedisConfig contains the optional Redis connection settings used by the
// notifier transport and the API token bucket.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"     validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       validate:"gte=0"`
}

// AuthConfig contains all service token settings.
type AuthConfig struct {
	TokenSecret          string `mapstructure:"token_secret"           validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// EngineConfig contains the job engine's lifecycle policy knobs.
type EngineConfig struct {
	// DefaultMaxRetries bounds requeues for jobs that do not specify their own.
	DefaultMaxRetries int `mapstructure:"default_max_retries" validate:"gte=0"`

	// DefaultPriority is assigned to jobs created without a priority.
	// Lower values are dispatched first.
	DefaultPriority int `mapstructure:"default_priority"`

	// OwnerActiveCeiling caps an owner's concurrently active (pending or
	// processing) jobs. Zero disables the ceiling.
	OwnerActiveCeiling int `mapstructure:"owner_active_ceiling" validate:"gte=0"`

	// DedupWindow is how far back creation looks for an in-flight duplicate.
	DedupWindow time.Duration `mapstructure:"dedup_window" validate:"gt=0"`

	// ResultCacheTTL is the default maximum age for cached results.
	ResultCacheTTL time.Duration `mapstructure:"result_cache_ttl" validate:"gt=0"`

	// PendingTTL is the default expiry applied to new jobs.
	PendingTTL time.Duration `mapstructure:"pending_ttl" validate:"gt=0"`

	// StuckTimeout is how long a processing job may go without an update
	// before the stuck sweep reclaims it.
	StuckTimeout time.Duration `mapstructure:"stuck_timeout" validate:"gt=0"`

	// RetryBackoffBase and RetryBackoffCap shape the exponential backoff
	// a failed job waits before the retry sweep requeues it.
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base" validate:"gt=0"`
	RetryBackoffCap  time.Duration `mapstructure:"retry_backoff_cap"  validate:"gt=0"`

	// RetryBackoffJitter randomizes each backoff interval by up to 50%
	// to spread requeue bursts.
	RetryBackoffJitter bool `mapstructure:"retry_backoff_jitter"`

	// RetentionWindow is how long terminal jobs and their logs are kept.
	RetentionWindow time.Duration `mapstructure:"retention_window" validate:"gt=0"`

	// ClaimBatchSize is how many due jobs the dispatcher examines per pickup.
	ClaimBatchSize int `mapstructure:"claim_batch_size" validate:"gt=0"`

	// SweepBatchSize caps how many jobs a single sweep pass touches.
	SweepBatchSize int `mapstructure:"sweep_batch_size" validate:"gt=0"`
}

// WorkerConfig contains the in-process worker runtime settings.
type WorkerConfig struct {
	// Count is the number of concurrent worker goroutines.
	Count int `mapstructure:"count" validate:"gt=0"`

	// PollInterval is how long an idle worker waits before asking the
	// dispatcher for work again.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// HandlerTimeout bounds a single handler execution.
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"gt=0"`

	// CancelPollInterval is how often a running job checks whether it was
	// cancelled by its owner.
	CancelPollInterval time.Duration `mapstructure:"cancel_poll_interval" validate:"gt=0"`

	// SweepsEnabled turns on the built-in sweep cadence loop for
	// deployments without an external scheduler hitting the sweep endpoints.
	SweepsEnabled bool `mapstructure:"sweeps_enabled"`

	RetrySweepInterval     time.Duration `mapstructure:"retry_sweep_interval"     validate:"gt=0"`
	ExpirySweepInterval    time.Duration `mapstructure:"expiry_sweep_interval"    validate:"gt=0"`
	StuckSweepInterval     time.Duration `mapstructure:"stuck_sweep_interval"     validate:"gt=0"`
	RetentionSweepInterval time.Duration `mapstructure:"retention_sweep_interval" validate:"gt=0"`
}

// LLMConfig contains the optional LLM integration settings for the shipped
// content enrichment handler. The handler is only registered when an API
// key is configured.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model"`
}
