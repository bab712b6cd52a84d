package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultDeliveryPageLimit = 50
	maxDeliveryPageLimit     = 200
)

type Service struct {
	config            Config
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
	allowInsecureURLs bool
	obs               instrumentation

	attempter  *DeliveryAttempter
	dispatcher *Dispatcher
	scheduler  *Scheduler
	retries    *ManualRetryHandler

	lifecycleMu sync.Mutex
	running     bool
	stopped     bool
	cancel      context.CancelFunc
	stop        chan struct{}
	workers     sync.WaitGroup
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	SecretProvider    SecretProvider
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	WebhookStore      WebhookStore
	DeliveryStore     DeliveryStore
	Transport         Transport
	AttemptQueue      AttemptQueue
	BackoffPolicy     BackoffPolicy
	Signer            Signer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("hooks", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("hooks"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.signer == nil {
		builder.signer = HMACSigner{}
	}
	if builder.clock == nil {
		builder.clock = utcNow
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.webhookStore == nil || builder.deliveryStore == nil) && builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.webhookStore == nil {
				builder.webhookStore = stores.WebhookStore()
			}
			if builder.deliveryStore == nil {
				builder.deliveryStore = stores.DeliveryStore()
			}
		}
	}
	if builder.webhookStore == nil || builder.deliveryStore == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: webhook store and delivery store are required"))
	}
	if builder.transport == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: transport is required"))
	}
	if builder.backoff == nil {
		builder.backoff = NewExponentialJitterBackoff(
			finalConfig.Delivery.BackoffBase,
			finalConfig.Delivery.BackoffMax,
			finalConfig.Delivery.JitterFraction,
			nil,
		)
	}
	if builder.attemptQueue == nil {
		builder.attemptQueue = NewMemoryAttemptQueue(finalConfig.Dispatch.QueueSize)
	}

	obs := instrumentation{logger: logger, metrics: builder.metricsRecorder}
	attempter, err := NewDeliveryAttempter(AttempterDependencies{
		Webhooks:   builder.webhookStore,
		Deliveries: builder.deliveryStore,
		Transport:  builder.transport,
		Signer:     builder.signer,
		Backoff:    builder.backoff,
		Secrets:    builder.secretProvider,
		Logger:     logger,
		Metrics:    builder.metricsRecorder,
		Now:        builder.clock,
	}, attempterConfigFrom(finalConfig))
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	dispatcher, err := NewDispatcher(
		builder.webhookStore,
		builder.deliveryStore,
		builder.attemptQueue,
		finalConfig.Dispatch.EnqueueTimeout,
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	dispatcher.obs = obs
	scheduler, err := NewScheduler(
		builder.deliveryStore,
		attempter,
		builder.backoff,
		finalConfig.Scheduler,
		finalConfig.Delivery.MaxAttempts,
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	scheduler.obs = obs
	scheduler.now = builder.clock
	retries, err := NewManualRetryHandler(
		builder.webhookStore,
		builder.deliveryStore,
		attempter,
		finalConfig.Delivery.MaxAttempts,
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	retries.now = builder.clock

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		secretProvider:    builder.secretProvider,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		webhookStore:      builder.webhookStore,
		deliveryStore:     builder.deliveryStore,
		transport:         builder.transport,
		attemptQueue:      builder.attemptQueue,
		backoff:           builder.backoff,
		signer:            builder.signer,
		allowInsecureURLs: builder.allowInsecureURLs,
		obs:               obs,
		attempter:         attempter,
		dispatcher:        dispatcher,
		scheduler:         scheduler,
		retries:           retries,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		SecretProvider:    s.secretProvider,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		WebhookStore:      s.webhookStore,
		DeliveryStore:     s.deliveryStore,
		Transport:         s.transport,
		AttemptQueue:      s.attemptQueue,
		BackoffPolicy:     s.backoff,
		Signer:            s.signer,
	}
}

func (s *Service) Scheduler() *Scheduler {
	if s == nil {
		return nil
	}
	return s.scheduler
}

// Dispatch records one delivery per subscribed webhook and queues them.
// Delivery outcomes are tracked on the rows, never returned here.
func (s *Service) Dispatch(ctx context.Context, event Event) (result DispatchResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"business_id": event.BusinessID,
		"event_type":  event.Type,
	}
	defer func() {
		fields["deliveries"] = len(result.DeliveryIDs)
		fields["deferred"] = result.Deferred
		s.obs.observeOperation(ctx, startedAt, "dispatch", err, fields)
	}()

	result, err = s.dispatcher.Dispatch(ctx, event)
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	fields["event_id"] = result.EventID
	return result, nil
}

func (s *Service) Attempt(ctx context.Context, deliveryID string) (AttemptOutcome, error) {
	outcome, err := s.attempter.Attempt(ctx, deliveryID)
	if err != nil {
		return outcome, s.mapError(err)
	}
	return outcome, nil
}

func (s *Service) RetryDelivery(ctx context.Context, req ManualRetryRequest) (delivery Delivery, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"business_id": req.BusinessID,
		"webhook_id":  req.WebhookID,
		"delivery_id": req.DeliveryID,
	}
	defer func() {
		if err == nil {
			fields["status"] = string(delivery.Status)
			fields["attempts"] = delivery.Attempts
		}
		s.obs.observeOperation(ctx, startedAt, "manual_retry", err, fields)
	}()

	delivery, err = s.retries.RetryDelivery(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return Delivery{}, err
	}
	return delivery, nil
}

func (s *Service) GetDelivery(ctx context.Context, ref WebhookRef, deliveryID string) (Delivery, error) {
	webhook, err := ownedWebhook(ctx, s.webhookStore, strings.TrimSpace(ref.BusinessID), strings.TrimSpace(ref.WebhookID))
	if err != nil {
		return Delivery{}, s.mapError(err)
	}
	delivery, err := s.deliveryStore.GetDelivery(ctx, strings.TrimSpace(deliveryID))
	if err != nil {
		return Delivery{}, s.mapError(err)
	}
	if delivery.WebhookID != webhook.ID || delivery.BusinessID != webhook.BusinessID {
		return Delivery{}, s.mapError(notFoundf("delivery %q", deliveryID))
	}
	return delivery, nil
}

func (s *Service) ListDeliveries(ctx context.Context, filter DeliveryFilter) (DeliveryPage, error) {
	webhook, err := ownedWebhook(ctx, s.webhookStore, strings.TrimSpace(filter.BusinessID), strings.TrimSpace(filter.WebhookID))
	if err != nil {
		return DeliveryPage{}, s.mapError(err)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return DeliveryPage{}, s.mapError(fmt.Errorf("core: invalid delivery status %q", filter.Status))
	}
	filter.BusinessID = webhook.BusinessID
	filter.WebhookID = webhook.ID
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	page, err := s.deliveryStore.ListDeliveries(ctx, filter)
	if err != nil {
		return DeliveryPage{}, s.mapError(err)
	}
	return page, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultDeliveryPageLimit
	}
	if limit > maxDeliveryPageLimit {
		limit = maxDeliveryPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Sweep runs a single scheduler pass outside of the background loop.
func (s *Service) Sweep(ctx context.Context) (SweepStats, error) {
	stats, err := s.scheduler.Sweep(ctx)
	if err != nil {
		return stats, s.mapError(err)
	}
	return stats, nil
}

// Start launches the attempt workers and the retry scheduler. It returns
// immediately; Stop shuts both down. Stop closes the attempt queue, so a
// stopped service cannot be started again and returns ErrServiceStopped.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.running {
		return nil
	}
	if s.stopped {
		return ErrServiceStopped
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.running = true

	for i := 0; i < s.config.Dispatch.Workers; i++ {
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			if err := s.attemptQueue.Consume(runCtx, s.handleQueued); err != nil && runCtx.Err() == nil {
				s.obs.logError(runCtx, "attempt worker stopped", map[string]any{"error": err.Error()})
			}
		}()
	}
	stop := s.stop
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		_ = s.scheduler.run(runCtx, stop)
	}()

	s.obs.logInfo(ctx, "webhook delivery started", map[string]any{
		"workers":       s.config.Dispatch.Workers,
		"poll_interval": s.config.Scheduler.PollInterval.String(),
	})
	return nil
}

// Stop closes the attempt queue so workers drain what is buffered, stops
// the scheduler and waits for in-flight attempts or ctx, whichever ends
// first.
func (s *Service) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.stopped = true
	close(s.stop)
	closeErr := s.attemptQueue.Close()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Abort in-flight attempts; their outcomes are still recorded.
		s.cancel()
		<-done
	}
	s.cancel()
	return closeErr
}

func (s *Service) handleQueued(ctx context.Context, deliveryID string) error {
	_, err := s.attempter.Attempt(ctx, deliveryID)
	if err != nil {
		s.obs.logError(ctx, "queued webhook delivery attempt failed", map[string]any{
			"delivery_id": deliveryID,
			"error":       err.Error(),
		})
	}
	return err
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// AsEnvelope exposes the go-errors envelope carried by a service error.
func AsEnvelope(err error) (*goerrors.Error, bool) {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich, true
	}
	return nil, false
}
