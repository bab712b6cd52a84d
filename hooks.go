package hooks

import "github.com/goliatone/go-hooks/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type HookService = core.HookService

type Event = core.Event
type Delivery = core.Delivery
type DeliveryStatus = core.DeliveryStatus
type DeliveryFilter = core.DeliveryFilter
type DeliveryPage = core.DeliveryPage
type DispatchResult = core.DispatchResult
type ManualRetryRequest = core.ManualRetryRequest

type Webhook = core.Webhook
type WebhookRef = core.WebhookRef
type CreateWebhookRequest = core.CreateWebhookRequest
type CreatedWebhook = core.CreatedWebhook

type Transport = core.Transport
type SecretProvider = core.SecretProvider
type MetricsRecorder = core.MetricsRecorder

var (
	WithLogger                   = core.WithLogger
	WithLoggerProvider           = core.WithLoggerProvider
	WithMetricsRecorder          = core.WithMetricsRecorder
	WithErrorMapper              = core.WithErrorMapper
	WithSecretProvider           = core.WithSecretProvider
	WithPersistenceClient        = core.WithPersistenceClient
	WithRepositoryFactory        = core.WithRepositoryFactory
	WithConfigProvider           = core.WithConfigProvider
	WithOptionsResolver          = core.WithOptionsResolver
	WithWebhookStore             = core.WithWebhookStore
	WithDeliveryStore            = core.WithDeliveryStore
	WithTransport                = core.WithTransport
	WithAttemptQueue             = core.WithAttemptQueue
	WithBackoffPolicy            = core.WithBackoffPolicy
	WithSigner                   = core.WithSigner
	WithClock                    = core.WithClock
	WithAllowInsecureWebhookURLs = core.WithAllowInsecureWebhookURLs
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
