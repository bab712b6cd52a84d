package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-hooks/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const webhookListCacheKeyPrefix = "go-hooks::webhooks::v1"

// CachedWebhookStore serves the dispatcher's per-event webhook lookup from
// a cached per-business listing. Every mutation drops the business entry.
type CachedWebhookStore struct {
	base  core.WebhookStore
	cache repositorycache.CacheService
}

func NewCachedWebhookStore(base core.WebhookStore, cacheService repositorycache.CacheService) (*CachedWebhookStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook cache service is required")
	}
	return &CachedWebhookStore{base: base, cache: cacheService}, nil
}

// WebhookListCacheKey is go-hooks::webhooks::v1::<business_id>, with the
// business id URL-path escaped.
func WebhookListCacheKey(businessID string) (string, error) {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return "", fmt.Errorf("sqlstore: business id is required")
	}
	return webhookListCacheKeyPrefix + "::" + url.PathEscape(businessID), nil
}

func (s *CachedWebhookStore) CreateWebhook(ctx context.Context, in core.CreateWebhookInput) (core.Webhook, error) {
	if s == nil || s.base == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	created, err := s.base.CreateWebhook(ctx, in)
	if err != nil {
		return core.Webhook{}, err
	}
	if err := s.invalidate(ctx, created.BusinessID); err != nil {
		return core.Webhook{}, err
	}
	return created, nil
}

func (s *CachedWebhookStore) GetWebhook(ctx context.Context, id string) (core.Webhook, error) {
	if s == nil || s.base == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return s.base.GetWebhook(ctx, id)
}

func (s *CachedWebhookStore) ListWebhooks(ctx context.Context, businessID string) ([]core.Webhook, error) {
	listed, err := s.cachedList(ctx, businessID)
	if err != nil {
		return nil, err
	}
	return cloneWebhooks(listed), nil
}

func (s *CachedWebhookStore) ListEnabledWebhooks(ctx context.Context, businessID string, eventType string) ([]core.Webhook, error) {
	listed, err := s.cachedList(ctx, businessID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Webhook, 0, len(listed))
	for _, webhook := range listed {
		if webhook.Available() && webhook.Subscribes(eventType) {
			out = append(out, cloneWebhook(webhook))
		}
	}
	return out, nil
}

func (s *CachedWebhookStore) SetWebhookEnabled(ctx context.Context, id string, enabled bool) (core.Webhook, error) {
	if s == nil || s.base == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	updated, err := s.base.SetWebhookEnabled(ctx, id, enabled)
	if err != nil {
		return core.Webhook{}, err
	}
	if err := s.invalidate(ctx, updated.BusinessID); err != nil {
		return core.Webhook{}, err
	}
	return updated, nil
}

func (s *CachedWebhookStore) DeleteWebhook(ctx context.Context, id string) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	existing, err := s.base.GetWebhook(ctx, id)
	if err != nil {
		return err
	}
	if err := s.base.DeleteWebhook(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, existing.BusinessID)
}

func (s *CachedWebhookStore) cachedList(ctx context.Context, businessID string) ([]core.Webhook, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	businessID = strings.TrimSpace(businessID)
	cacheKey, err := WebhookListCacheKey(businessID)
	if err != nil {
		return nil, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.Webhook, error) {
		fetched, fetchErr := s.base.ListWebhooks(ctx, businessID)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return cloneWebhooks(fetched), nil
	})
}

func (s *CachedWebhookStore) invalidate(ctx context.Context, businessID string) error {
	cacheKey, err := WebhookListCacheKey(businessID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneWebhooks(webhooks []core.Webhook) []core.Webhook {
	out := make([]core.Webhook, 0, len(webhooks))
	for _, webhook := range webhooks {
		out = append(out, cloneWebhook(webhook))
	}
	return out
}

func cloneWebhook(webhook core.Webhook) core.Webhook {
	webhook.Secret = append([]byte(nil), webhook.Secret...)
	webhook.EventTypes = append([]string(nil), webhook.EventTypes...)
	webhook.DeletedAt = utcTimePointer(webhook.DeletedAt)
	return webhook
}

var _ core.WebhookStore = (*CachedWebhookStore)(nil)
