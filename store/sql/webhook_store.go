package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-hooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WebhookStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookRecord]
}

func NewWebhookStore(db *bun.DB) (*WebhookStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookRecord](db, webhookHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook repository wiring: %w", err)
		}
	}
	return &WebhookStore{db: db, repo: repo}, nil
}

func (s *WebhookStore) CreateWebhook(ctx context.Context, in core.CreateWebhookInput) (core.Webhook, error) {
	if s == nil || s.repo == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	if strings.TrimSpace(in.BusinessID) == "" {
		return core.Webhook{}, fmt.Errorf("sqlstore: business id is required")
	}
	if strings.TrimSpace(in.URL) == "" {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook url is required")
	}
	if len(in.Secret) == 0 {
		return core.Webhook{}, core.ErrSecretRequired
	}

	created, err := s.repo.Create(ctx, newWebhookRecord(uuid.NewString(), in, time.Now().UTC()))
	if err != nil {
		return core.Webhook{}, err
	}
	return created.toDomain(), nil
}

// GetWebhook returns soft-deleted rows too; callers decide visibility.
func (s *WebhookStore) GetWebhook(ctx context.Context, id string) (core.Webhook, error) {
	if s == nil || s.db == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	record := &webhookRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Webhook{}, fmt.Errorf("%w: webhook %q", core.ErrNotFound, id)
		}
		return core.Webhook{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookStore) ListWebhooks(ctx context.Context, businessID string) ([]core.Webhook, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("business_id", "=", strings.TrimSpace(businessID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Webhook, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ListEnabledWebhooks filters subscriptions in Go so the same query serves
// both the postgres jsonb and the sqlite text encodings of event_types.
func (s *WebhookStore) ListEnabledWebhooks(ctx context.Context, businessID string, eventType string) ([]core.Webhook, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("business_id", "=", strings.TrimSpace(businessID)),
		repository.SelectBy("enabled", "=", true),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Webhook, 0, len(records))
	for _, record := range records {
		webhook := record.toDomain()
		if webhook.Subscribes(eventType) {
			out = append(out, webhook)
		}
	}
	return out, nil
}

func (s *WebhookStore) SetWebhookEnabled(ctx context.Context, id string, enabled bool) (core.Webhook, error) {
	if s == nil || s.db == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	res, err := s.db.NewUpdate().
		Model((*webhookRecord)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return core.Webhook{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.Webhook{}, fmt.Errorf("%w: webhook %q", core.ErrNotFound, id)
	}
	return s.GetWebhook(ctx, id)
}

// DeleteWebhook soft-deletes the row and disables it. Delivery history is
// kept.
func (s *WebhookStore) DeleteWebhook(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*webhookRecord)(nil)).
		Set("enabled = ?", false).
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: webhook %q", core.ErrNotFound, id)
	}
	return nil
}
