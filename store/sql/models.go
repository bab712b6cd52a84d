package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-hooks/core"
	"github.com/uptrace/bun"
)

type webhookRecord struct {
	bun.BaseModel `bun:"table:hook_webhooks,alias:hw"`

	ID          string     `bun:"id,pk"`
	BusinessID  string     `bun:"business_id,notnull"`
	URL         string     `bun:"url,notnull"`
	Secret      []byte     `bun:"secret,notnull"`
	EventTypes  []string   `bun:"event_types,type:jsonb,notnull"`
	Enabled     bool       `bun:"enabled,notnull"`
	Description string     `bun:"description,notnull"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt   *time.Time `bun:"deleted_at,nullzero"`
}

type deliveryRecord struct {
	bun.BaseModel `bun:"table:hook_deliveries,alias:hd"`

	ID              string     `bun:"id,pk"`
	WebhookID       string     `bun:"webhook_id,notnull"`
	BusinessID      string     `bun:"business_id,notnull"`
	EventID         string     `bun:"event_id,notnull"`
	EventType       string     `bun:"event_type,notnull"`
	Payload         []byte     `bun:"payload,notnull"`
	Status          string     `bun:"status,notnull"`
	Attempts        int        `bun:"attempts,notnull"`
	LastError       string     `bun:"last_error,notnull"`
	LastStatusCode  int        `bun:"last_status_code,notnull"`
	NextRetryAt     *time.Time `bun:"next_retry_at,nullzero"`
	LastAttemptedAt *time.Time `bun:"last_attempted_at,nullzero"`
	DeliveredAt     *time.Time `bun:"delivered_at,nullzero"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newWebhookRecord(id string, in core.CreateWebhookInput, now time.Time) *webhookRecord {
	eventTypes := core.NormalizeEventTypes(in.EventTypes)
	if eventTypes == nil {
		eventTypes = []string{}
	}
	return &webhookRecord{
		ID:          id,
		BusinessID:  strings.TrimSpace(in.BusinessID),
		URL:         strings.TrimSpace(in.URL),
		Secret:      append([]byte(nil), in.Secret...),
		EventTypes:  eventTypes,
		Enabled:     in.Enabled,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *webhookRecord) toDomain() core.Webhook {
	if r == nil {
		return core.Webhook{}
	}
	return core.Webhook{
		ID:          r.ID,
		BusinessID:  r.BusinessID,
		URL:         r.URL,
		Secret:      append([]byte(nil), r.Secret...),
		EventTypes:  append([]string(nil), r.EventTypes...),
		Enabled:     r.Enabled,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		DeletedAt:   utcTimePointer(r.DeletedAt),
	}
}

func newDeliveryRecord(id string, in core.CreateDeliveryInput, now time.Time) *deliveryRecord {
	return &deliveryRecord{
		ID:         id,
		WebhookID:  strings.TrimSpace(in.WebhookID),
		BusinessID: strings.TrimSpace(in.BusinessID),
		EventID:    strings.TrimSpace(in.EventID),
		EventType:  strings.TrimSpace(in.EventType),
		Payload:    append([]byte(nil), in.Payload...),
		Status:     string(core.DeliveryStatusPending),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r *deliveryRecord) toDomain() core.Delivery {
	if r == nil {
		return core.Delivery{}
	}
	return core.Delivery{
		ID:              r.ID,
		WebhookID:       r.WebhookID,
		BusinessID:      r.BusinessID,
		EventID:         r.EventID,
		EventType:       r.EventType,
		Payload:         append([]byte(nil), r.Payload...),
		Status:          core.DeliveryStatus(r.Status),
		Attempts:        r.Attempts,
		LastError:       r.LastError,
		LastStatusCode:  r.LastStatusCode,
		NextRetryAt:     utcTimePointer(r.NextRetryAt),
		CreatedAt:       r.CreatedAt.UTC(),
		LastAttemptedAt: utcTimePointer(r.LastAttemptedAt),
		DeliveredAt:     utcTimePointer(r.DeliveredAt),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func utcTimePointer(input *time.Time) *time.Time {
	if input == nil || input.IsZero() {
		return nil
	}
	value := input.UTC()
	return &value
}
