package core

import (
	"fmt"
	"strings"
	"time"
)

type DeliveryConfig struct {
	MaxAttempts        int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	AttemptTimeout     time.Duration `koanf:"attempt_timeout" mapstructure:"attempt_timeout"`
	BackoffBase        time.Duration `koanf:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax         time.Duration `koanf:"backoff_max" mapstructure:"backoff_max"`
	JitterFraction     float64       `koanf:"jitter_fraction" mapstructure:"jitter_fraction"`
	LastErrorMaxLen    int           `koanf:"last_error_max_len" mapstructure:"last_error_max_len"`
	ResponseSnippetLen int           `koanf:"response_snippet_len" mapstructure:"response_snippet_len"`
}

type DispatchConfig struct {
	Workers        int           `koanf:"workers" mapstructure:"workers"`
	QueueSize      int           `koanf:"queue_size" mapstructure:"queue_size"`
	EnqueueTimeout time.Duration `koanf:"enqueue_timeout" mapstructure:"enqueue_timeout"`
}

type SchedulerConfig struct {
	PollInterval           time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	Concurrency            int           `koanf:"concurrency" mapstructure:"concurrency"`
	BatchSize              int           `koanf:"batch_size" mapstructure:"batch_size"`
	PendingRecoveryAfter   time.Duration `koanf:"pending_recovery_after" mapstructure:"pending_recovery_after"`
	DeliveringLeaseTimeout time.Duration `koanf:"delivering_lease_timeout" mapstructure:"delivering_lease_timeout"`
}

type SecurityConfig struct {
	RequireHTTPS bool `koanf:"require_https" mapstructure:"require_https"`
}

type TransportConfig struct {
	RatePerSecond   float64       `koanf:"rate_per_second" mapstructure:"rate_per_second"`
	Burst           int           `koanf:"burst" mapstructure:"burst"`
	BreakerEnabled  bool          `koanf:"breaker_enabled" mapstructure:"breaker_enabled"`
	BreakerFailures int           `koanf:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" mapstructure:"breaker_timeout"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Delivery    DeliveryConfig  `koanf:"delivery" mapstructure:"delivery"`
	Dispatch    DispatchConfig  `koanf:"dispatch" mapstructure:"dispatch"`
	Scheduler   SchedulerConfig `koanf:"scheduler" mapstructure:"scheduler"`
	Security    SecurityConfig  `koanf:"security" mapstructure:"security"`
	Transport   TransportConfig `koanf:"transport" mapstructure:"transport"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "hooks",
		Delivery: DeliveryConfig{
			MaxAttempts:        5,
			AttemptTimeout:     10 * time.Second,
			BackoffBase:        30 * time.Second,
			BackoffMax:         time.Hour,
			JitterFraction:     0.2,
			LastErrorMaxLen:    1024,
			ResponseSnippetLen: 512,
		},
		Dispatch: DispatchConfig{
			Workers:        8,
			QueueSize:      1024,
			EnqueueTimeout: 250 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			PollInterval:           5 * time.Second,
			Concurrency:            8,
			BatchSize:              100,
			PendingRecoveryAfter:   time.Minute,
			DeliveringLeaseTimeout: 5 * time.Minute,
		},
		Security: SecurityConfig{
			RequireHTTPS: true,
		},
		Transport: TransportConfig{
			RatePerSecond:   0,
			Burst:           1,
			BreakerEnabled:  true,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("core: delivery.max_attempts must be positive")
	}
	if c.Delivery.AttemptTimeout <= 0 {
		return fmt.Errorf("core: delivery.attempt_timeout must be positive")
	}
	if c.Delivery.BackoffBase <= 0 || c.Delivery.BackoffMax <= 0 {
		return fmt.Errorf("core: delivery backoff base and max must be positive")
	}
	if c.Delivery.BackoffMax < c.Delivery.BackoffBase {
		return fmt.Errorf("core: delivery.backoff_max must not be lower than backoff_base")
	}
	if c.Delivery.JitterFraction < 0 || c.Delivery.JitterFraction >= 1 {
		return fmt.Errorf("core: delivery.jitter_fraction must be within [0, 1)")
	}
	if c.Delivery.LastErrorMaxLen <= 0 {
		return fmt.Errorf("core: delivery.last_error_max_len must be positive")
	}
	if c.Delivery.ResponseSnippetLen < 0 {
		return fmt.Errorf("core: delivery.response_snippet_len must not be negative")
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("core: dispatch workers and queue_size must be positive")
	}
	if c.Dispatch.EnqueueTimeout <= 0 {
		return fmt.Errorf("core: dispatch.enqueue_timeout must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("core: scheduler.poll_interval must be positive")
	}
	if c.Scheduler.Concurrency <= 0 || c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("core: scheduler concurrency and batch_size must be positive")
	}
	if c.Scheduler.PendingRecoveryAfter <= 0 {
		return fmt.Errorf("core: scheduler.pending_recovery_after must be positive")
	}
	if c.Scheduler.DeliveringLeaseTimeout <= c.Delivery.AttemptTimeout {
		return fmt.Errorf("core: scheduler.delivering_lease_timeout must exceed delivery.attempt_timeout")
	}
	if c.Transport.RatePerSecond < 0 {
		return fmt.Errorf("core: transport.rate_per_second must not be negative")
	}
	if c.Transport.BreakerEnabled && c.Transport.BreakerFailures <= 0 {
		return fmt.Errorf("core: transport.breaker_failures must be positive when the breaker is enabled")
	}
	return nil
}
