package core

import (
	"context"
	"testing"
	"time"
)

func TestRetryDelivery_RejectsSucceededWithoutAttempt(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, nil)
	webhook := h.createWebhook(t, "biz_1").Webhook
	delivery := h.createDelivery(t, webhook)
	if _, err := h.svc.Attempt(ctx, delivery.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	_, err := h.svc.RetryDelivery(ctx, ManualRetryRequest{BusinessID: "biz_1", WebhookID: webhook.ID, DeliveryID: delivery.ID})
	envelope, ok := AsEnvelope(err)
	if !ok || envelope.TextCode != HookErrorDeliveryNotRetryable || envelope.Code != 400 {
		t.Fatalf("expected not retryable envelope, got %v", err)
	}
	if h.transport.Calls() != 1 {
		t.Fatalf("expected no additional http call, got %d", h.transport.Calls())
	}
}

func TestRetryDelivery_ReplaysFailedDelivery(t *testing.T) {
	ctx := context.Background()
	transport := newScriptedTransport(scriptedResponse{status: 404}, scriptedResponse{status: 200})
	h := newTestHarness(t, transport)
	webhook := h.createWebhook(t, "biz_1").Webhook
	delivery := h.createDelivery(t, webhook)
	outcome, err := h.svc.Attempt(ctx, delivery.ID)
	if err != nil || outcome.Delivery.Status != DeliveryStatusFailed {
		t.Fatalf("expected failed first attempt, got %v %v", outcome.Delivery.Status, err)
	}

	retried, err := h.svc.RetryDelivery(ctx, ManualRetryRequest{BusinessID: "biz_1", WebhookID: webhook.ID, DeliveryID: delivery.ID})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != DeliveryStatusSucceeded || retried.Attempts != 2 {
		t.Fatalf("expected succeeded after 2 attempts, got %s/%d", retried.Status, retried.Attempts)
	}
	assertRetryInvariant(t, retried)
}

func TestRetryDelivery_CallerCancelDoesNotAbortAttempt(t *testing.T) {
	ctx := context.Background()
	transport := newScriptedTransport(scriptedResponse{status: 404}, scriptedResponse{status: 200})
	h := newTestHarness(t, transport)
	webhook := h.createWebhook(t, "biz_1").Webhook
	delivery := h.createDelivery(t, webhook)
	if _, err := h.svc.Attempt(ctx, delivery.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	gate := make(chan struct{})
	entered := make(chan struct{})
	transport.mu.Lock()
	transport.gate, transport.entered = gate, entered
	transport.mu.Unlock()

	callerCtx, cancel := context.WithCancel(ctx)
	type result struct {
		delivery Delivery
		err      error
	}
	done := make(chan result, 1)
	go func() {
		retried, err := h.svc.RetryDelivery(callerCtx, ManualRetryRequest{BusinessID: "biz_1", WebhookID: webhook.ID, DeliveryID: delivery.ID})
		done <- result{delivery: retried, err: err}
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected retry to reach the transport")
	}
	cancel()
	close(gate)

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("retry: %v", got.err)
		}
		if got.delivery.Status != DeliveryStatusSucceeded || got.delivery.Attempts != 2 {
			t.Fatalf("expected succeeded after 2 attempts, got %s/%d %q", got.delivery.Status, got.delivery.Attempts, got.delivery.LastError)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("retry did not return")
	}
}

func TestRetryDelivery_RetryingRunsImmediately(t *testing.T) {
	ctx := context.Background()
	transport := newScriptedTransport(scriptedResponse{status: 500}, scriptedResponse{status: 500})
	h := newTestHarness(t, transport)
	webhook := h.createWebhook(t, "biz_1").Webhook
	delivery := h.createDelivery(t, webhook)
	if _, err := h.svc.Attempt(ctx, delivery.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	retried, err := h.svc.RetryDelivery(ctx, ManualRetryRequest{BusinessID: "biz_1", WebhookID: webhook.ID, DeliveryID: delivery.ID})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != DeliveryStatusRetrying || retried.Attempts != 2 {
		t.Fatalf("expected retrying with 2 attempts, got %s/%d", retried.Status, retried.Attempts)
	}
	if retried.NextRetryAt == nil || !retried.NextRetryAt.After(h.clock.Now()) {
		t.Fatalf("expected a future retry time")
	}
}

func TestRetryDelivery_HidesForeignDeliveries(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, newScriptedTransport(scriptedResponse{status: 500}))
	own := h.createWebhook(t, "biz_1").Webhook
	foreign := h.createWebhook(t, "biz_2").Webhook
	foreignDelivery := h.createDelivery(t, foreign)
	ownDelivery := h.createDelivery(t, own)

	cases := map[string]ManualRetryRequest{
		"foreign webhook":        {BusinessID: "biz_1", WebhookID: foreign.ID, DeliveryID: foreignDelivery.ID},
		"delivery of other hook": {BusinessID: "biz_1", WebhookID: own.ID, DeliveryID: foreignDelivery.ID},
		"unknown delivery":       {BusinessID: "biz_1", WebhookID: own.ID, DeliveryID: "missing"},
		"unknown webhook":        {BusinessID: "biz_1", WebhookID: "missing", DeliveryID: ownDelivery.ID},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.RetryDelivery(ctx, req)
			envelope, ok := AsEnvelope(err)
			if !ok || envelope.Code != 404 || envelope.TextCode != HookErrorNotFound {
				t.Fatalf("expected 404 envelope, got %v", err)
			}
		})
	}
	if h.transport.Calls() != 0 {
		t.Fatalf("expected no http calls, got %d", h.transport.Calls())
	}
}

func TestRetryDelivery_CeilingIsNotReset(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, newScriptedTransport(scriptedResponse{status: 500}),
		WithConfigProvider(NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
			"delivery": map[string]any{"max_attempts": 2},
		}})),
	)
	webhook := h.createWebhook(t, "biz_1").Webhook
	delivery := h.createDelivery(t, webhook)
	for i := 0; i < 2; i++ {
		if _, err := h.svc.Attempt(ctx, delivery.ID); err != nil {
			t.Fatalf("attempt: %v", err)
		}
		h.clock.Advance(time.Hour)
	}

	_, err := h.svc.RetryDelivery(ctx, ManualRetryRequest{BusinessID: "biz_1", WebhookID: webhook.ID, DeliveryID: delivery.ID})
	envelope, ok := AsEnvelope(err)
	if !ok || envelope.TextCode != HookErrorDeliveryNotRetryable {
		t.Fatalf("expected not retryable at the ceiling, got %v", err)
	}
	final, _ := h.store.GetDelivery(ctx, delivery.ID)
	if final.Attempts != 2 || final.Status != DeliveryStatusFailed {
		t.Fatalf("expected failed with 2 attempts, got %s/%d", final.Status, final.Attempts)
	}
}
