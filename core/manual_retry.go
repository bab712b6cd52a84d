package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ManualRetryHandler lets a tenant replay one of its failed or retrying
// deliveries immediately. The attempt ceiling is never reset.
type ManualRetryHandler struct {
	webhooks    WebhookStore
	deliveries  DeliveryStore
	attempter   Attempter
	maxAttempts int
	now         func() time.Time
}

func NewManualRetryHandler(
	webhooks WebhookStore,
	deliveries DeliveryStore,
	attempter Attempter,
	maxAttempts int,
) (*ManualRetryHandler, error) {
	if webhooks == nil {
		return nil, fmt.Errorf("core: webhook store is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("core: delivery store is required")
	}
	if attempter == nil {
		return nil, fmt.Errorf("core: attempter is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig().Delivery.MaxAttempts
	}
	return &ManualRetryHandler{
		webhooks:    webhooks,
		deliveries:  deliveries,
		attempter:   attempter,
		maxAttempts: maxAttempts,
		now:         utcNow,
	}, nil
}

func (h *ManualRetryHandler) RetryDelivery(ctx context.Context, req ManualRetryRequest) (Delivery, error) {
	if h == nil {
		return Delivery{}, fmt.Errorf("core: manual retry handler is not configured")
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.WebhookID = strings.TrimSpace(req.WebhookID)
	req.DeliveryID = strings.TrimSpace(req.DeliveryID)
	if req.BusinessID == "" || req.WebhookID == "" || req.DeliveryID == "" {
		return Delivery{}, fmt.Errorf("core: business id, webhook id and delivery id are required")
	}

	webhook, err := ownedWebhook(ctx, h.webhooks, req.BusinessID, req.WebhookID)
	if err != nil {
		return Delivery{}, err
	}
	delivery, err := h.deliveries.GetDelivery(ctx, req.DeliveryID)
	if err != nil {
		return Delivery{}, err
	}
	if delivery.WebhookID != webhook.ID || delivery.BusinessID != req.BusinessID {
		return Delivery{}, notFoundf("delivery %q", req.DeliveryID)
	}
	if !delivery.Status.ManuallyRetryable() {
		return Delivery{}, fmt.Errorf("%w: status is %s", ErrDeliveryNotRetryable, delivery.Status)
	}
	if delivery.Attempts >= h.maxAttempts {
		return Delivery{}, fmt.Errorf("%w: %d of %d attempts used", ErrDeliveryNotRetryable, delivery.Attempts, h.maxAttempts)
	}
	if !webhook.Available() {
		return Delivery{}, fmt.Errorf("%w: webhook is disabled", ErrDeliveryNotRetryable)
	}

	if delivery.Status == DeliveryStatusFailed {
		now := h.now()
		reentered, transitionErr := h.deliveries.Transition(ctx, delivery.ID, DeliveryStatusFailed, DeliveryStatusRetrying, DeliveryUpdate{
			NextRetryAt: &now,
		})
		if IsConflict(transitionErr) {
			return h.deliveries.GetDelivery(ctx, delivery.ID)
		}
		if transitionErr != nil {
			return Delivery{}, transitionErr
		}
		delivery = reentered
	}

	// The attempt runs to completion or its own timeout even if the caller
	// goes away.
	outcome, err := h.attempter.Attempt(context.WithoutCancel(ctx), delivery.ID)
	if err != nil {
		return Delivery{}, err
	}
	if outcome.Delivery.ID == "" {
		return h.deliveries.GetDelivery(ctx, delivery.ID)
	}
	return outcome.Delivery, nil
}

// ownedWebhook hides webhooks of other businesses behind not found.
func ownedWebhook(ctx context.Context, store WebhookStore, businessID, webhookID string) (Webhook, error) {
	webhook, err := store.GetWebhook(ctx, webhookID)
	if errors.Is(err, ErrNotFound) {
		return Webhook{}, notFoundf("webhook %q", webhookID)
	}
	if err != nil {
		return Webhook{}, err
	}
	if webhook.BusinessID != businessID || webhook.Deleted() {
		return Webhook{}, notFoundf("webhook %q", webhookID)
	}
	return webhook, nil
}
