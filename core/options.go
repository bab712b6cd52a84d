package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	webhookStore      WebhookStore
	deliveryStore     DeliveryStore
	transport         Transport
	attemptQueue      AttemptQueue
	backoff           BackoffPolicy
	signer            Signer
	clock             func() time.Time
	allowInsecureURLs bool
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

// WithSecretProvider encrypts webhook secrets before they reach the store.
func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithWebhookStore(store WebhookStore) Option {
	return func(b *serviceBuilder) {
		b.webhookStore = store
	}
}

func WithDeliveryStore(store DeliveryStore) Option {
	return func(b *serviceBuilder) {
		b.deliveryStore = store
	}
}

func WithTransport(transport Transport) Option {
	return func(b *serviceBuilder) {
		b.transport = transport
	}
}

// WithAttemptQueue replaces the in-memory attempt queue, for example with a
// go-job backed queue shared across processes.
func WithAttemptQueue(queue AttemptQueue) Option {
	return func(b *serviceBuilder) {
		b.attemptQueue = queue
	}
}

func WithBackoffPolicy(policy BackoffPolicy) Option {
	return func(b *serviceBuilder) {
		b.backoff = policy
	}
}

func WithSigner(signer Signer) Option {
	return func(b *serviceBuilder) {
		b.signer = signer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = now
	}
}

// WithAllowInsecureWebhookURLs accepts plain http webhook urls. Meant for
// local development and tests.
func WithAllowInsecureWebhookURLs() Option {
	return func(b *serviceBuilder) {
		b.allowInsecureURLs = true
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("hooks", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		signer:          HMACSigner{},
		clock:           utcNow,
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, true)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap only emits non-zero values unless includeZero is set, so
// a sparse runtime Config overrides individual keys. Loaded config is built
// on top of the defaults and is always emitted in full. Booleans can only be
// switched on from the runtime layer.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	delivery := map[string]any{}
	putInt(delivery, "max_attempts", cfg.Delivery.MaxAttempts, includeZero)
	putDuration(delivery, "attempt_timeout", cfg.Delivery.AttemptTimeout, includeZero)
	putDuration(delivery, "backoff_base", cfg.Delivery.BackoffBase, includeZero)
	putDuration(delivery, "backoff_max", cfg.Delivery.BackoffMax, includeZero)
	if includeZero || cfg.Delivery.JitterFraction != 0 {
		delivery["jitter_fraction"] = cfg.Delivery.JitterFraction
	}
	putInt(delivery, "last_error_max_len", cfg.Delivery.LastErrorMaxLen, includeZero)
	putInt(delivery, "response_snippet_len", cfg.Delivery.ResponseSnippetLen, includeZero)
	putSection(layer, "delivery", delivery)

	dispatch := map[string]any{}
	putInt(dispatch, "workers", cfg.Dispatch.Workers, includeZero)
	putInt(dispatch, "queue_size", cfg.Dispatch.QueueSize, includeZero)
	putDuration(dispatch, "enqueue_timeout", cfg.Dispatch.EnqueueTimeout, includeZero)
	putSection(layer, "dispatch", dispatch)

	scheduler := map[string]any{}
	putDuration(scheduler, "poll_interval", cfg.Scheduler.PollInterval, includeZero)
	putInt(scheduler, "concurrency", cfg.Scheduler.Concurrency, includeZero)
	putInt(scheduler, "batch_size", cfg.Scheduler.BatchSize, includeZero)
	putDuration(scheduler, "pending_recovery_after", cfg.Scheduler.PendingRecoveryAfter, includeZero)
	putDuration(scheduler, "delivering_lease_timeout", cfg.Scheduler.DeliveringLeaseTimeout, includeZero)
	putSection(layer, "scheduler", scheduler)

	if includeZero || cfg.Security.RequireHTTPS {
		layer["security"] = map[string]any{
			"require_https": cfg.Security.RequireHTTPS,
		}
	}

	transport := map[string]any{}
	if includeZero || cfg.Transport.RatePerSecond != 0 {
		transport["rate_per_second"] = cfg.Transport.RatePerSecond
	}
	putInt(transport, "burst", cfg.Transport.Burst, includeZero)
	if includeZero || cfg.Transport.BreakerEnabled {
		transport["breaker_enabled"] = cfg.Transport.BreakerEnabled
	}
	putInt(transport, "breaker_failures", cfg.Transport.BreakerFailures, includeZero)
	putDuration(transport, "breaker_timeout", cfg.Transport.BreakerTimeout, includeZero)
	putSection(layer, "transport", transport)
	return layer
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putDuration(section map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}
