package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-hooks/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubWebhookStore struct {
	mu        sync.Mutex
	webhooks  map[string]core.Webhook
	listCalls int
	listErr   error
	nextID    int
}

func newStubWebhookStore() *stubWebhookStore {
	return &stubWebhookStore{webhooks: map[string]core.Webhook{}}
}

func (s *stubWebhookStore) CreateWebhook(_ context.Context, in core.CreateWebhookInput) (core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	webhook := core.Webhook{
		ID:         "wh_" + string(rune('0'+s.nextID)),
		BusinessID: in.BusinessID,
		URL:        in.URL,
		Secret:     append([]byte(nil), in.Secret...),
		EventTypes: core.NormalizeEventTypes(in.EventTypes),
		Enabled:    in.Enabled,
		CreatedAt:  time.Now().UTC(),
	}
	s.webhooks[webhook.ID] = webhook
	return webhook, nil
}

func (s *stubWebhookStore) GetWebhook(_ context.Context, id string) (core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[id]
	if !ok {
		return core.Webhook{}, core.ErrNotFound
	}
	return webhook, nil
}

func (s *stubWebhookStore) ListWebhooks(_ context.Context, businessID string) ([]core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []core.Webhook{}
	for _, webhook := range s.webhooks {
		if webhook.BusinessID == businessID && !webhook.Deleted() {
			out = append(out, webhook)
		}
	}
	return out, nil
}

func (s *stubWebhookStore) ListEnabledWebhooks(ctx context.Context, businessID string, eventType string) ([]core.Webhook, error) {
	return nil, errors.New("cached store must not call ListEnabledWebhooks on the base")
}

func (s *stubWebhookStore) SetWebhookEnabled(_ context.Context, id string, enabled bool) (core.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[id]
	if !ok {
		return core.Webhook{}, core.ErrNotFound
	}
	webhook.Enabled = enabled
	s.webhooks[id] = webhook
	return webhook, nil
}

func (s *stubWebhookStore) DeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[id]
	if !ok {
		return core.ErrNotFound
	}
	now := time.Now().UTC()
	webhook.DeletedAt = &now
	s.webhooks[id] = webhook
	return nil
}

func (s *stubWebhookStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func TestCachedWebhookStore_ListEnabled_MissFetchThenHit(t *testing.T) {
	ctx := context.Background()
	base := newStubWebhookStore()
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}

	if _, err := base.CreateWebhook(ctx, core.CreateWebhookInput{
		BusinessID: "biz_1",
		URL:        "https://example.com/a",
		Secret:     []byte("secret"),
		EventTypes: []string{"order.created"},
		Enabled:    true,
	}); err != nil {
		t.Fatalf("seed webhook: %v", err)
	}

	first, err := store.ListEnabledWebhooks(ctx, "biz_1", "order.created")
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := store.ListEnabledWebhooks(ctx, "biz_1", "order.created")
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one subscribed webhook, got %d and %d", len(first), len(second))
	}
	if got := base.calls(); got != 1 {
		t.Fatalf("expected a single base list call, got %d", got)
	}

	none, err := store.ListEnabledWebhooks(ctx, "biz_1", "order.cancelled")
	if err != nil {
		t.Fatalf("list unsubscribed type: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no webhooks for unsubscribed event type, got %d", len(none))
	}
}

func TestCachedWebhookStore_MutationsInvalidate(t *testing.T) {
	ctx := context.Background()
	base := newStubWebhookStore()
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}

	created, err := store.CreateWebhook(ctx, core.CreateWebhookInput{
		BusinessID: "biz_1",
		URL:        "https://example.com/a",
		Secret:     []byte("secret"),
		EventTypes: []string{"*"},
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	if listed, _ := store.ListEnabledWebhooks(ctx, "biz_1", "order.created"); len(listed) != 1 {
		t.Fatalf("expected wildcard webhook to be listed, got %d", len(listed))
	}

	if _, err := store.SetWebhookEnabled(ctx, created.ID, false); err != nil {
		t.Fatalf("disable webhook: %v", err)
	}
	if listed, _ := store.ListEnabledWebhooks(ctx, "biz_1", "order.created"); len(listed) != 0 {
		t.Fatalf("expected disabled webhook to drop out of the cached listing, got %d", len(listed))
	}

	if _, err := store.SetWebhookEnabled(ctx, created.ID, true); err != nil {
		t.Fatalf("enable webhook: %v", err)
	}
	if listed, _ := store.ListEnabledWebhooks(ctx, "biz_1", "order.created"); len(listed) != 1 {
		t.Fatalf("expected re-enabled webhook in listing, got %d", len(listed))
	}

	if err := store.DeleteWebhook(ctx, created.ID); err != nil {
		t.Fatalf("delete webhook: %v", err)
	}
	if listed, _ := store.ListEnabledWebhooks(ctx, "biz_1", "order.created"); len(listed) != 0 {
		t.Fatalf("expected deleted webhook to drop out of the cached listing, got %d", len(listed))
	}
	if got := base.calls(); got != 4 {
		t.Fatalf("expected one base fetch per invalidation, got %d", got)
	}
}

func TestCachedWebhookStore_ReturnsClones(t *testing.T) {
	ctx := context.Background()
	base := newStubWebhookStore()
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}
	if _, err := store.CreateWebhook(ctx, core.CreateWebhookInput{
		BusinessID: "biz_1",
		URL:        "https://example.com/a",
		Secret:     []byte("secret"),
		EventTypes: []string{"order.created"},
		Enabled:    true,
	}); err != nil {
		t.Fatalf("create webhook: %v", err)
	}

	listed, err := store.ListWebhooks(ctx, "biz_1")
	if err != nil {
		t.Fatalf("list webhooks: %v", err)
	}
	listed[0].Secret[0] = 'X'
	listed[0].EventTypes[0] = "mutated"

	again, err := store.ListWebhooks(ctx, "biz_1")
	if err != nil {
		t.Fatalf("list webhooks again: %v", err)
	}
	if string(again[0].Secret) != "secret" || again[0].EventTypes[0] != "order.created" {
		t.Fatalf("expected cached entry to be isolated from caller mutation, got %+v", again[0])
	}
}

func TestCachedWebhookStore_PropagatesBaseError(t *testing.T) {
	base := newStubWebhookStore()
	base.listErr = errors.New("db down")
	store, err := NewCachedWebhookStore(base, newTestWebhookCacheService(t))
	if err != nil {
		t.Fatalf("new cached webhook store: %v", err)
	}
	if _, err := store.ListEnabledWebhooks(context.Background(), "biz_1", "order.created"); !errors.Is(err, base.listErr) {
		t.Fatalf("expected base error propagation, got %v", err)
	}
}

func TestWebhookListCacheKey(t *testing.T) {
	key, err := WebhookListCacheKey("biz/1")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-hooks::webhooks::v1::biz%2F1" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := WebhookListCacheKey("  "); err == nil {
		t.Fatalf("expected error for empty business id")
	}
}

func newTestWebhookCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
