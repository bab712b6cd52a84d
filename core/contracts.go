package core

import (
	"context"
	"iter"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type WebhookStore interface {
	CreateWebhook(ctx context.Context, in CreateWebhookInput) (Webhook, error)
	GetWebhook(ctx context.Context, id string) (Webhook, error)
	ListWebhooks(ctx context.Context, businessID string) ([]Webhook, error)
	ListEnabledWebhooks(ctx context.Context, businessID string, eventType string) ([]Webhook, error)
	SetWebhookEnabled(ctx context.Context, id string, enabled bool) (Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

type DeliveryStore interface {
	CreateDelivery(ctx context.Context, in CreateDeliveryInput) (Delivery, error)
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) (DeliveryPage, error)
	// Transition moves a delivery from expected to next in a single
	// conditional write. A row in any other status yields *ConflictError.
	Transition(
		ctx context.Context,
		id string,
		expected DeliveryStatus,
		next DeliveryStatus,
		update DeliveryUpdate,
	) (Delivery, error)
	DueForRetry(ctx context.Context, now time.Time, batchSize int) iter.Seq2[Delivery, error]
	StalePending(ctx context.Context, olderThan time.Time, limit int) ([]Delivery, error)
	StaleDelivering(ctx context.Context, olderThan time.Time, limit int) ([]Delivery, error)
}

// HookService is the tenant-facing surface consumed by commands, queries and
// the HTTP API.
type HookService interface {
	Dispatch(ctx context.Context, event Event) (DispatchResult, error)
	RetryDelivery(ctx context.Context, req ManualRetryRequest) (Delivery, error)
	GetDelivery(ctx context.Context, ref WebhookRef, deliveryID string) (Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) (DeliveryPage, error)
	CreateWebhook(ctx context.Context, req CreateWebhookRequest) (CreatedWebhook, error)
	GetWebhook(ctx context.Context, ref WebhookRef) (Webhook, error)
	ListWebhooks(ctx context.Context, businessID string) ([]Webhook, error)
	DisableWebhook(ctx context.Context, ref WebhookRef) (Webhook, error)
	EnableWebhook(ctx context.Context, ref WebhookRef) (Webhook, error)
	DeleteWebhook(ctx context.Context, ref WebhookRef) error
}

type StoreProvider interface {
	WebhookStore() WebhookStore
	DeliveryStore() DeliveryStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type OutboundRequest struct {
	URL     string
	Headers http.Header
	Body    []byte
	Timeout time.Duration
}

type OutboundResponse struct {
	StatusCode int
	Headers    http.Header
	// Body holds at most the configured response snippet length.
	Body []byte
}

type Transport interface {
	Send(ctx context.Context, req OutboundRequest) (OutboundResponse, error)
}

// AttemptQueue hands delivery ids from the dispatcher to attempt workers.
type AttemptQueue interface {
	Enqueue(ctx context.Context, deliveryID string) error
	Consume(ctx context.Context, handle func(ctx context.Context, deliveryID string) error) error
	Close() error
}

type Attempter interface {
	Attempt(ctx context.Context, deliveryID string) (AttemptOutcome, error)
}

type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// TenantResolver extracts the authenticated business from an inbound request.
type TenantResolver interface {
	ResolveBusinessID(r *http.Request) (string, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
