package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-hooks/bootstrap"
)

const envPrefix = "HOOKS_"

type environment struct {
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`

	DBDriver      string `env:"DB_DRIVER" envDefault:"postgres"`
	DBDSN         string `env:"DB_DSN,required,notEmpty"`
	DBDebug       bool   `env:"DB_DEBUG" envDefault:"false"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`

	AppKey        string `env:"APP_KEY"`
	AppKeyID      string `env:"APP_KEY_ID"`
	AppKeyVersion int    `env:"APP_KEY_VERSION" envDefault:"1"`

	TenantHeader    string        `env:"TENANT_HEADER" envDefault:"X-Business-Id"`
	APIPrefix       string        `env:"API_PREFIX"`
	WebhookCacheTTL time.Duration `env:"WEBHOOK_CACHE_TTL" envDefault:"30s"`
	AllowInsecure   bool          `env:"ALLOW_INSECURE_WEBHOOK_URLS" envDefault:"false"`

	MaxAttempts     int           `env:"MAX_ATTEMPTS"`
	AttemptTimeout  time.Duration `env:"ATTEMPT_TIMEOUT"`
	PollInterval    time.Duration `env:"POLL_INTERVAL"`
	RatePerSecond   float64       `env:"TRANSPORT_RATE_PER_SECOND"`
	BreakerDisabled bool          `env:"TRANSPORT_BREAKER_DISABLED" envDefault:"false"`
}

func loadEnvironment() (environment, error) {
	var cfg environment
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return environment{}, fmt.Errorf("hooksd: parse environment: %w", err)
	}
	return cfg, nil
}

// bootstrapConfig maps set environment values onto the loaded config layer.
// Unset values keep the library defaults.
func (e environment) bootstrapConfig() bootstrap.Config {
	values := map[string]any{}
	delivery := map[string]any{}
	if e.MaxAttempts > 0 {
		delivery["max_attempts"] = e.MaxAttempts
	}
	if e.AttemptTimeout > 0 {
		delivery["attempt_timeout"] = e.AttemptTimeout
	}
	if len(delivery) > 0 {
		values["delivery"] = delivery
	}
	if e.PollInterval > 0 {
		values["scheduler"] = map[string]any{"poll_interval": e.PollInterval}
	}
	transport := map[string]any{}
	if e.RatePerSecond > 0 {
		transport["rate_per_second"] = e.RatePerSecond
	}
	if e.BreakerDisabled {
		transport["breaker_enabled"] = false
	}
	if len(transport) > 0 {
		values["transport"] = transport
	}

	return bootstrap.Config{
		Values: values,
		Database: bootstrap.DatabaseConfig{
			Driver:      e.DBDriver,
			DSN:         e.DBDSN,
			Debug:       e.DBDebug,
			AutoMigrate: e.DBAutoMigrate,
		},
		Secrets: bootstrap.SecretsConfig{
			AppKey:  e.AppKey,
			KeyID:   e.AppKeyID,
			Version: e.AppKeyVersion,
		},
		WebhookCacheTTL:          e.WebhookCacheTTL,
		TenantHeader:             e.TenantHeader,
		APIPrefix:                e.APIPrefix,
		AllowInsecureWebhookURLs: e.AllowInsecure,
	}
}
