// Package config centralises runtime configuration helpers for syncbridge services.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where syncbridge operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// VendorConfig declares the downstream vendor HTTP endpoint.
type VendorConfig struct {
	BaseURL     string        `yaml:"baseUrl" env:"SYNCBRIDGE_VENDOR_BASE_URL"`
	HTTPTimeout time.Duration `yaml:"httpTimeout" env:"SYNCBRIDGE_VENDOR_HTTP_TIMEOUT"`
}

// RateLimitConfig bounds outbound request volume per rolling window.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" env:"SYNCBRIDGE_RATE_REQUESTS"`
	Period   time.Duration `yaml:"period" env:"SYNCBRIDGE_RATE_PERIOD"`
	MaxWait  time.Duration `yaml:"maxWait" env:"SYNCBRIDGE_RATE_MAX_WAIT"`
}

// BreakerConfig tunes the dispatcher circuit breaker.
type BreakerConfig struct {
	Window           int           `yaml:"window" env:"SYNCBRIDGE_BREAKER_WINDOW"`
	FailureThreshold float64       `yaml:"failureThreshold" env:"SYNCBRIDGE_BREAKER_FAILURE_THRESHOLD"`
	Cooldown         time.Duration `yaml:"cooldown" env:"SYNCBRIDGE_BREAKER_COOLDOWN"`
}

// RetryConfig governs outbox redelivery backoff.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts" env:"SYNCBRIDGE_RETRY_MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initialDelay" env:"SYNCBRIDGE_RETRY_INITIAL_DELAY"`
}

// SchedulerConfig controls the periodic retry pass.
type SchedulerConfig struct {
	Period time.Duration `yaml:"period" env:"SYNCBRIDGE_SCHEDULER_PERIOD"`
}

// RetentionConfig controls the purge of terminal outbox rows.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"maxAge" env:"SYNCBRIDGE_RETENTION_MAX_AGE"`
	Schedule string        `yaml:"schedule" env:"SYNCBRIDGE_RETENTION_SCHEDULE"`
}

// StreamConfig identifies the change-event subscription.
type StreamConfig struct {
	Topic            string `yaml:"topic" env:"SYNCBRIDGE_STREAM_TOPIC"`
	GroupID          string `yaml:"groupId" env:"SYNCBRIDGE_STREAM_GROUP_ID"`
	BufferSize       int    `yaml:"bufferSize" env:"SYNCBRIDGE_STREAM_BUFFER_SIZE"`
	DeadLetterSuffix string `yaml:"deadLetterSuffix" env:"SYNCBRIDGE_STREAM_DLT_SUFFIX"`
}

// DatabaseConfig declares outbox persistence connectivity. An empty DSN keeps
// the relay on the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"SYNCBRIDGE_DATABASE_DSN"`
}

// TelemetryConfig configures OTLP exporters.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint" env:"SYNCBRIDGE_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"serviceName" env:"SYNCBRIDGE_SERVICE_NAME"`
}

// Settings contains the syncbridge configuration tree loaded from defaults,
// optional YAML overrides, and environment variables, in that order.
type Settings struct {
	Environment Environment     `yaml:"environment" env:"SYNCBRIDGE_ENV"`
	Vendor      VendorConfig    `yaml:"vendor"`
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
	Breaker     BreakerConfig   `yaml:"breaker"`
	Retry       RetryConfig     `yaml:"retry"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Retention   RetentionConfig `yaml:"retention"`
	Stream      StreamConfig    `yaml:"stream"`
	Database    DatabaseConfig  `yaml:"database"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the default syncbridge configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Vendor: VendorConfig{
			BaseURL:     "",
			HTTPTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests: 20,
			Period:   time.Minute,
			MaxWait:  2 * time.Second,
		},
		Breaker: BreakerConfig{
			Window:           5,
			FailureThreshold: 0.5,
			Cooldown:         time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: time.Minute,
		},
		Scheduler: SchedulerConfig{
			Period: 30 * time.Second,
		},
		Retention: RetentionConfig{
			MaxAge:   7 * 24 * time.Hour,
			Schedule: "@hourly",
		},
		Stream: StreamConfig{
			Topic:            "directory.changes",
			GroupID:          "syncbridge-relay",
			BufferSize:       64,
			DeadLetterSuffix: ".DLT",
		},
		Database:  DatabaseConfig{DSN: ""},
		Telemetry: TelemetryConfig{OTLPEndpoint: "", ServiceName: "syncbridge"},
	}
}

// Load builds Settings from defaults, the optional YAML file at path, and
// environment variable overrides. A missing file is not an error; a malformed
// one is.
func Load(path string) (Settings, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Settings{}, fmt.Errorf("unmarshal config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults plus env only.
		default:
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Settings{}, fmt.Errorf("parse env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate performs semantic validation on the loaded configuration.
func (s Settings) Validate() error {
	if s.Vendor.HTTPTimeout <= 0 {
		return fmt.Errorf("config: vendor http timeout must be positive")
	}
	if s.RateLimit.Requests <= 0 || s.RateLimit.Period <= 0 {
		return fmt.Errorf("config: rate limit quota and period must be positive")
	}
	if s.RateLimit.MaxWait < 0 {
		return fmt.Errorf("config: rate limit max wait must not be negative")
	}
	if s.Breaker.Window <= 0 {
		return fmt.Errorf("config: breaker window must be positive")
	}
	if s.Breaker.FailureThreshold <= 0 || s.Breaker.FailureThreshold > 1 {
		return fmt.Errorf("config: breaker failure threshold must be in (0, 1]")
	}
	if s.Breaker.Cooldown <= 0 {
		return fmt.Errorf("config: breaker cooldown must be positive")
	}
	if s.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry max attempts must be positive")
	}
	if s.Retry.InitialDelay <= 0 {
		return fmt.Errorf("config: retry initial delay must be positive")
	}
	if s.Scheduler.Period <= 0 {
		return fmt.Errorf("config: scheduler period must be positive")
	}
	if s.Retention.MaxAge <= 0 {
		return fmt.Errorf("config: retention max age must be positive")
	}
	if strings.TrimSpace(s.Stream.Topic) == "" {
		return fmt.Errorf("config: stream topic required")
	}
	if strings.TrimSpace(s.Stream.GroupID) == "" {
		return fmt.Errorf("config: stream group id required")
	}
	if strings.TrimSpace(s.Stream.DeadLetterSuffix) == "" {
		return fmt.Errorf("config: stream dead-letter suffix required")
	}
	return nil
}
