package httpapi

import (
	"encoding/json"
	"time"

	"github.com/goliatone/go-hooks/core"
)

type DeliveryResponse struct {
	ID              string          `json:"id"`
	WebhookID       string          `json:"webhook_id"`
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          string          `json:"status"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
	LastStatusCode  int             `json:"last_status_code,omitempty"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	LastAttemptedAt *time.Time      `json:"last_attempted_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type DeliveryPageResponse struct {
	Deliveries []DeliveryResponse `json:"deliveries"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// WebhookResponse never carries the signing secret. Secret is filled only on
// the creation response.
type WebhookResponse struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	EventTypes  []string   `json:"event_types"`
	Enabled     bool       `json:"enabled"`
	Description string     `json:"description,omitempty"`
	Secret      string     `json:"secret,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type CreateWebhookBody struct {
	URL         string   `json:"url"`
	EventTypes  []string `json:"event_types"`
	Description string   `json:"description"`
	Disabled    bool     `json:"disabled"`
}

func toDeliveryResponse(delivery core.Delivery) DeliveryResponse {
	out := DeliveryResponse{
		ID:              delivery.ID,
		WebhookID:       delivery.WebhookID,
		EventID:         delivery.EventID,
		EventType:       delivery.EventType,
		Status:          string(delivery.Status),
		Attempts:        delivery.Attempts,
		LastError:       delivery.LastError,
		LastStatusCode:  delivery.LastStatusCode,
		NextRetryAt:     delivery.NextRetryAt,
		LastAttemptedAt: delivery.LastAttemptedAt,
		DeliveredAt:     delivery.DeliveredAt,
		CreatedAt:       delivery.CreatedAt,
		UpdatedAt:       delivery.UpdatedAt,
	}
	if json.Valid(delivery.Payload) {
		out.Payload = json.RawMessage(delivery.Payload)
	}
	return out
}

func toDeliveryPageResponse(page core.DeliveryPage) DeliveryPageResponse {
	items := make([]DeliveryResponse, 0, len(page.Deliveries))
	for _, delivery := range page.Deliveries {
		items = append(items, toDeliveryResponse(delivery))
	}
	return DeliveryPageResponse{
		Deliveries: items,
		Total:      page.Total,
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
}

func toWebhookResponse(webhook core.Webhook) WebhookResponse {
	eventTypes := webhook.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}
	return WebhookResponse{
		ID:          webhook.ID,
		URL:         webhook.URL,
		EventTypes:  eventTypes,
		Enabled:     webhook.Enabled,
		Description: webhook.Description,
		CreatedAt:   webhook.CreatedAt,
		UpdatedAt:   webhook.UpdatedAt,
		DeletedAt:   webhook.DeletedAt,
	}
}
