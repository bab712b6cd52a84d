package core

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps webhooks and deliveries in process. It honours the same
// compare-and-set contract as the SQL store and backs tests and local runs.
type MemoryStore struct {
	mu         sync.Mutex
	webhooks   map[string]Webhook
	deliveries map[string]Delivery
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		webhooks:   map[string]Webhook{},
		deliveries: map[string]Delivery{},
		now:        utcNow,
	}
}

// SetClock replaces the time source used for row timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		now = utcNow
	}
	m.now = now
}

func (m *MemoryStore) WebhookStore() WebhookStore { return m }

func (m *MemoryStore) DeliveryStore() DeliveryStore { return m }

func (m *MemoryStore) CreateWebhook(_ context.Context, in CreateWebhookInput) (Webhook, error) {
	if strings.TrimSpace(in.BusinessID) == "" {
		return Webhook{}, fmt.Errorf("core: business id is required")
	}
	if len(in.Secret) == 0 {
		return Webhook{}, ErrSecretRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	webhook := Webhook{
		ID:          uuid.NewString(),
		BusinessID:  strings.TrimSpace(in.BusinessID),
		URL:         strings.TrimSpace(in.URL),
		Secret:      append([]byte(nil), in.Secret...),
		EventTypes:  NormalizeEventTypes(in.EventTypes),
		Enabled:     in.Enabled,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.webhooks[webhook.ID] = webhook
	return cloneWebhook(webhook), nil
}

func (m *MemoryStore) GetWebhook(_ context.Context, id string) (Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	webhook, ok := m.webhooks[strings.TrimSpace(id)]
	if !ok {
		return Webhook{}, notFoundf("webhook %q", id)
	}
	return cloneWebhook(webhook), nil
}

func (m *MemoryStore) ListWebhooks(_ context.Context, businessID string) ([]Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Webhook, 0)
	for _, webhook := range m.webhooks {
		if webhook.BusinessID == businessID {
			out = append(out, cloneWebhook(webhook))
		}
	}
	sortWebhooks(out)
	return out, nil
}

func (m *MemoryStore) ListEnabledWebhooks(_ context.Context, businessID string, eventType string) ([]Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Webhook, 0)
	for _, webhook := range m.webhooks {
		if webhook.BusinessID == businessID && webhook.Available() && webhook.Subscribes(eventType) {
			out = append(out, cloneWebhook(webhook))
		}
	}
	sortWebhooks(out)
	return out, nil
}

func (m *MemoryStore) SetWebhookEnabled(_ context.Context, id string, enabled bool) (Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	webhook, ok := m.webhooks[id]
	if !ok || webhook.Deleted() {
		return Webhook{}, notFoundf("webhook %q", id)
	}
	webhook.Enabled = enabled
	webhook.UpdatedAt = m.now()
	m.webhooks[id] = webhook
	return cloneWebhook(webhook), nil
}

func (m *MemoryStore) DeleteWebhook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	webhook, ok := m.webhooks[id]
	if !ok || webhook.Deleted() {
		return notFoundf("webhook %q", id)
	}
	now := m.now()
	webhook.Enabled = false
	webhook.DeletedAt = &now
	webhook.UpdatedAt = now
	m.webhooks[id] = webhook
	return nil
}

func (m *MemoryStore) CreateDelivery(_ context.Context, in CreateDeliveryInput) (Delivery, error) {
	if strings.TrimSpace(in.WebhookID) == "" {
		return Delivery{}, fmt.Errorf("core: webhook id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	delivery := Delivery{
		ID:         uuid.NewString(),
		WebhookID:  in.WebhookID,
		BusinessID: in.BusinessID,
		EventID:    in.EventID,
		EventType:  in.EventType,
		Payload:    append([]byte(nil), in.Payload...),
		Status:     DeliveryStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.deliveries[delivery.ID] = delivery
	return cloneDelivery(delivery), nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id string) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delivery, ok := m.deliveries[strings.TrimSpace(id)]
	if !ok {
		return Delivery{}, notFoundf("delivery %q", id)
	}
	return cloneDelivery(delivery), nil
}

func (m *MemoryStore) ListDeliveries(_ context.Context, filter DeliveryFilter) (DeliveryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]Delivery, 0)
	for _, delivery := range m.deliveries {
		if filter.WebhookID != "" && delivery.WebhookID != filter.WebhookID {
			continue
		}
		if filter.BusinessID != "" && delivery.BusinessID != filter.BusinessID {
			continue
		}
		if filter.Status != "" && delivery.Status != filter.Status {
			continue
		}
		matched = append(matched, cloneDelivery(delivery))
	}
	slices.SortFunc(matched, func(a, b Delivery) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	page := DeliveryPage{Total: len(matched), Limit: filter.Limit, Offset: filter.Offset}
	start := min(max(filter.Offset, 0), len(matched))
	end := len(matched)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(matched))
	}
	page.Deliveries = matched[start:end]
	return page, nil
}

func (m *MemoryStore) Transition(
	_ context.Context,
	id string,
	expected DeliveryStatus,
	next DeliveryStatus,
	update DeliveryUpdate,
) (Delivery, error) {
	if err := ValidateTransition(next, update); err != nil {
		return Delivery{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delivery, ok := m.deliveries[id]
	if !ok {
		return Delivery{}, notFoundf("delivery %q", id)
	}
	if delivery.Status != expected {
		return Delivery{}, &ConflictError{DeliveryID: id, Expected: expected, Actual: delivery.Status}
	}
	delivery.Status = next
	if update.IncrementAttempts {
		delivery.Attempts++
	}
	if update.LastError != nil {
		delivery.LastError = *update.LastError
	}
	if update.LastStatusCode != nil {
		delivery.LastStatusCode = *update.LastStatusCode
	}
	if update.LastAttemptedAt != nil {
		at := *update.LastAttemptedAt
		delivery.LastAttemptedAt = &at
	}
	if update.DeliveredAt != nil {
		at := *update.DeliveredAt
		delivery.DeliveredAt = &at
	}
	delivery.NextRetryAt = nil
	if next == DeliveryStatusRetrying && update.NextRetryAt != nil {
		at := *update.NextRetryAt
		delivery.NextRetryAt = &at
	}
	delivery.UpdatedAt = m.now()
	m.deliveries[id] = delivery
	return cloneDelivery(delivery), nil
}

func (m *MemoryStore) DueForRetry(ctx context.Context, now time.Time, batchSize int) iter.Seq2[Delivery, error] {
	return func(yield func(Delivery, error) bool) {
		m.mu.Lock()
		due := make([]Delivery, 0)
		for _, delivery := range m.deliveries {
			if delivery.Status == DeliveryStatusRetrying && delivery.NextRetryAt != nil && !delivery.NextRetryAt.After(now) {
				due = append(due, cloneDelivery(delivery))
			}
		}
		m.mu.Unlock()
		slices.SortFunc(due, func(a, b Delivery) int {
			if c := a.NextRetryAt.Compare(*b.NextRetryAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
		for _, delivery := range due {
			if err := ctx.Err(); err != nil {
				yield(Delivery{}, err)
				return
			}
			if !yield(delivery, nil) {
				return
			}
		}
	}
}

func (m *MemoryStore) StalePending(_ context.Context, olderThan time.Time, limit int) ([]Delivery, error) {
	return m.stale(DeliveryStatusPending, olderThan, limit, func(d Delivery) time.Time { return d.CreatedAt }), nil
}

func (m *MemoryStore) StaleDelivering(_ context.Context, olderThan time.Time, limit int) ([]Delivery, error) {
	return m.stale(DeliveryStatusDelivering, olderThan, limit, func(d Delivery) time.Time { return d.UpdatedAt }), nil
}

func (m *MemoryStore) stale(status DeliveryStatus, olderThan time.Time, limit int, at func(Delivery) time.Time) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, 0)
	for _, delivery := range m.deliveries {
		if delivery.Status == status && !at(delivery).After(olderThan) {
			out = append(out, cloneDelivery(delivery))
		}
	}
	slices.SortFunc(out, func(a, b Delivery) int { return at(a).Compare(at(b)) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortWebhooks(webhooks []Webhook) {
	slices.SortFunc(webhooks, func(a, b Webhook) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func cloneWebhook(webhook Webhook) Webhook {
	webhook.Secret = append([]byte(nil), webhook.Secret...)
	webhook.EventTypes = append([]string(nil), webhook.EventTypes...)
	if webhook.DeletedAt != nil {
		at := *webhook.DeletedAt
		webhook.DeletedAt = &at
	}
	return webhook
}

func cloneDelivery(delivery Delivery) Delivery {
	delivery.Payload = append([]byte(nil), delivery.Payload...)
	return delivery
}

var (
	_ WebhookStore  = (*MemoryStore)(nil)
	_ DeliveryStore = (*MemoryStore)(nil)
	_ StoreProvider = (*MemoryStore)(nil)
)
