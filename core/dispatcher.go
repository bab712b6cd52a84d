package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dispatcher fans a domain event out into one delivery row per subscribed
// webhook and queues the rows for attempt workers. It never waits on HTTP.
type Dispatcher struct {
	webhooks       WebhookStore
	deliveries     DeliveryStore
	queue          AttemptQueue
	enqueueTimeout time.Duration
	obs            instrumentation
}

func NewDispatcher(
	webhooks WebhookStore,
	deliveries DeliveryStore,
	queue AttemptQueue,
	enqueueTimeout time.Duration,
) (*Dispatcher, error) {
	if webhooks == nil {
		return nil, fmt.Errorf("core: webhook store is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("core: delivery store is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("core: attempt queue is required")
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = DefaultConfig().Dispatch.EnqueueTimeout
	}
	return &Dispatcher{
		webhooks:       webhooks,
		deliveries:     deliveries,
		queue:          queue,
		enqueueTimeout: enqueueTimeout,
		obs:            instrumentation{metrics: NopMetricsRecorder{}},
	}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) (DispatchResult, error) {
	if d == nil {
		return DispatchResult{}, fmt.Errorf("core: dispatcher is not configured")
	}
	event.Type = normalizeEventType(event.Type)
	event.BusinessID = strings.TrimSpace(event.BusinessID)
	if err := event.Validate(); err != nil {
		return DispatchResult{}, err
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}

	webhooks, err := d.webhooks.ListEnabledWebhooks(ctx, event.BusinessID, event.Type)
	if err != nil {
		return DispatchResult{}, err
	}
	result := DispatchResult{EventID: event.ID, DeliveryIDs: make([]string, 0, len(webhooks))}
	for _, webhook := range webhooks {
		delivery, createErr := d.deliveries.CreateDelivery(ctx, CreateDeliveryInput{
			WebhookID:  webhook.ID,
			BusinessID: event.BusinessID,
			EventID:    event.ID,
			EventType:  event.Type,
			Payload:    event.Payload,
		})
		if createErr != nil {
			return result, createErr
		}
		result.DeliveryIDs = append(result.DeliveryIDs, delivery.ID)
	}

	for _, deliveryID := range result.DeliveryIDs {
		if enqueueErr := d.enqueue(ctx, deliveryID); enqueueErr != nil {
			result.Deferred++
			d.obs.logWarn(ctx, "webhook delivery left pending for recovery", map[string]any{
				"delivery_id": deliveryID,
				"event_id":    event.ID,
				"error":       enqueueErr.Error(),
			})
		}
	}

	d.obs.recordCounter(ctx, MetricDispatchTotal, int64(len(result.DeliveryIDs)), map[string]string{
		"event_type": event.Type,
	})
	return result, nil
}

// enqueue bounds the wait on a full queue. Rows that miss the queue stay
// pending and are recovered by the scheduler.
func (d *Dispatcher) enqueue(ctx context.Context, deliveryID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()
	err := d.queue.Enqueue(enqueueCtx, deliveryID)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("core: attempt queue full: %w", err)
	}
	return err
}
