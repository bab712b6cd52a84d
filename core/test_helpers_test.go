package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scriptedResponse struct {
	status int
	body   string
	err    error
}

// scriptedTransport replays responses in order and repeats the last one.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []OutboundRequest
	gate      chan struct{}
	entered   chan struct{}
}

func newScriptedTransport(responses ...scriptedResponse) *scriptedTransport {
	if len(responses) == 0 {
		responses = []scriptedResponse{{status: 200}}
	}
	return &scriptedTransport{responses: responses}
}

func (t *scriptedTransport) Send(ctx context.Context, req OutboundRequest) (OutboundResponse, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	index := min(len(t.requests)-1, len(t.responses)-1)
	next := t.responses[index]
	gate, entered := t.gate, t.entered
	t.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return OutboundResponse{}, ctx.Err()
		}
	}
	if next.err != nil {
		return OutboundResponse{}, next.err
	}
	return OutboundResponse{StatusCode: next.status, Body: []byte(next.body)}, nil
}

func (t *scriptedTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func (t *scriptedTransport) LastRequest() OutboundRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.requests) == 0 {
		return OutboundRequest{}
	}
	return t.requests[len(t.requests)-1]
}

type captureMetricsRecorder struct {
	mu       sync.Mutex
	counters map[string]int64
	tags     map[string][]map[string]string
}

func (r *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = map[string]int64{}
		r.tags = map[string][]map[string]string{}
	}
	r.counters[name] += value
	r.tags[name] = append(r.tags[name], tags)
}

func (r *captureMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (r *captureMetricsRecorder) count(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

type testHarness struct {
	svc       *Service
	store     *MemoryStore
	clock     *testClock
	transport *scriptedTransport
}

func newTestHarness(t *testing.T, transport *scriptedTransport, opts ...Option) *testHarness {
	t.Helper()
	if transport == nil {
		transport = newScriptedTransport()
	}
	clock := newTestClock()
	store := NewMemoryStore()
	store.SetClock(clock.Now)
	base := []Option{
		WithLogger(stubLogger{}),
		WithRepositoryFactory(store),
		WithTransport(transport),
		WithClock(clock.Now),
	}
	svc, err := NewService(Config{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testHarness{svc: svc, store: store, clock: clock, transport: transport}
}

func (h *testHarness) createWebhook(t *testing.T, businessID string, eventTypes ...string) CreatedWebhook {
	t.Helper()
	if len(eventTypes) == 0 {
		eventTypes = []string{"order.created"}
	}
	created, err := h.svc.CreateWebhook(context.Background(), CreateWebhookRequest{
		BusinessID: businessID,
		URL:        "https://hooks.example.com/receiver",
		EventTypes: eventTypes,
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	return created
}

func (h *testHarness) createDelivery(t *testing.T, webhook Webhook) Delivery {
	t.Helper()
	delivery, err := h.store.CreateDelivery(context.Background(), CreateDeliveryInput{
		WebhookID:  webhook.ID,
		BusinessID: webhook.BusinessID,
		EventID:    "evt_1",
		EventType:  "order.created",
		Payload:    []byte(`{"order_id":"ord_1"}`),
	})
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	return delivery
}

func assertRetryInvariant(t *testing.T, delivery Delivery) {
	t.Helper()
	if (delivery.Status == DeliveryStatusRetrying) != (delivery.NextRetryAt != nil) {
		t.Fatalf("next_retry_at must be set iff retrying: status=%s next_retry_at=%v", delivery.Status, delivery.NextRetryAt)
	}
}
