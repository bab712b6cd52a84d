package core

import (
	"context"
	"testing"
	"time"
)

func TestDispatch_CreatesDeliveryPerSubscribedWebhook(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryAttemptQueue(16)
	h := newTestHarness(t, nil, WithAttemptQueue(queue))
	exact := h.createWebhook(t, "biz_1", "order.created").Webhook
	wildcard := h.createWebhook(t, "biz_1", "*").Webhook
	h.createWebhook(t, "biz_1", "order.cancelled")
	h.createWebhook(t, "biz_2", "order.created")
	disabled := h.createWebhook(t, "biz_1", "order.created").Webhook
	if _, err := h.svc.DisableWebhook(ctx, WebhookRef{BusinessID: "biz_1", WebhookID: disabled.ID}); err != nil {
		t.Fatalf("disable webhook: %v", err)
	}

	result, err := h.svc.Dispatch(ctx, Event{
		BusinessID: "biz_1",
		Type:       "Order.Created",
		Payload:    []byte(`{"id":"ord_1"}`),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.EventID == "" {
		t.Fatalf("expected generated event id")
	}
	if len(result.DeliveryIDs) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(result.DeliveryIDs))
	}
	if queue.Len() != 2 {
		t.Fatalf("expected 2 queued ids, got %d", queue.Len())
	}
	if h.transport.Calls() != 0 {
		t.Fatalf("dispatch must not perform http work, got %d calls", h.transport.Calls())
	}

	targets := map[string]bool{}
	for _, id := range result.DeliveryIDs {
		delivery, getErr := h.store.GetDelivery(ctx, id)
		if getErr != nil {
			t.Fatalf("get delivery: %v", getErr)
		}
		if delivery.Status != DeliveryStatusPending || delivery.Attempts != 0 {
			t.Fatalf("expected pending delivery with 0 attempts, got %s/%d", delivery.Status, delivery.Attempts)
		}
		if delivery.EventID != result.EventID || delivery.EventType != "order.created" {
			t.Fatalf("unexpected delivery event fields: %+v", delivery)
		}
		targets[delivery.WebhookID] = true
	}
	if !targets[exact.ID] || !targets[wildcard.ID] {
		t.Fatalf("expected deliveries for exact and wildcard webhooks, got %v", targets)
	}
}

func TestDispatch_KeepsProvidedEventID(t *testing.T) {
	h := newTestHarness(t, nil)
	h.createWebhook(t, "biz_1")
	result, err := h.svc.Dispatch(context.Background(), Event{
		ID:         "evt_fixed",
		BusinessID: "biz_1",
		Type:       "order.created",
		Payload:    []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.EventID != "evt_fixed" {
		t.Fatalf("expected event id to be kept, got %q", result.EventID)
	}
}

func TestDispatch_RejectsInvalidEvents(t *testing.T) {
	h := newTestHarness(t, nil)
	cases := map[string]Event{
		"missing business": {Type: "a", Payload: []byte(`{}`)},
		"missing type":     {BusinessID: "biz_1", Payload: []byte(`{}`)},
		"wildcard type":    {BusinessID: "biz_1", Type: "*", Payload: []byte(`{}`)},
		"empty payload":    {BusinessID: "biz_1", Type: "a"},
		"invalid json":     {BusinessID: "biz_1", Type: "a", Payload: []byte(`{`)},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Dispatch(context.Background(), event)
			envelope, ok := AsEnvelope(err)
			if !ok {
				t.Fatalf("expected go-errors envelope, got %v", err)
			}
			if envelope.TextCode != HookErrorBadInput {
				t.Fatalf("expected %s, got %s", HookErrorBadInput, envelope.TextCode)
			}
		})
	}
}

func TestDispatch_FullQueueLeavesDeliveryPending(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryAttemptQueue(1)
	h := newTestHarness(t, nil,
		WithAttemptQueue(queue),
		WithConfigProvider(NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
			"dispatch": map[string]any{"enqueue_timeout": 5 * time.Millisecond},
		}})),
	)
	h.createWebhook(t, "biz_1")
	h.createWebhook(t, "biz_1")

	result, err := h.svc.Dispatch(ctx, Event{BusinessID: "biz_1", Type: "order.created", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result.DeliveryIDs) != 2 || result.Deferred != 1 {
		t.Fatalf("expected 2 deliveries with 1 deferred, got %d/%d", len(result.DeliveryIDs), result.Deferred)
	}

	// Pending recovery picks the deferred row up once it is old enough.
	h.clock.Advance(2 * time.Minute)
	stats, err := h.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Due != 2 || stats.Succeeded != 2 {
		t.Fatalf("expected both pending deliveries to be attempted, got %+v", stats)
	}
}
