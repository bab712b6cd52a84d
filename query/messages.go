package query

import (
	"strings"

	"github.com/goliatone/go-hooks/core"
)

const (
	TypeGetDelivery    = "hooks.query.delivery.get"
	TypeListDeliveries = "hooks.query.delivery.list"
	TypeGetWebhook     = "hooks.query.webhook.get"
	TypeListWebhooks   = "hooks.query.webhook.list"
)

type GetDeliveryMessage struct {
	Ref        core.WebhookRef
	DeliveryID string
}

func (GetDeliveryMessage) Type() string { return TypeGetDelivery }

func (m GetDeliveryMessage) Validate() error {
	if err := validateRef(m.Ref); err != nil {
		return err
	}
	if strings.TrimSpace(m.DeliveryID) == "" {
		return queryValidationError("delivery_id", "delivery id is required")
	}
	return nil
}

type ListDeliveriesMessage struct {
	Filter core.DeliveryFilter
}

func (ListDeliveriesMessage) Type() string { return TypeListDeliveries }

func (m ListDeliveriesMessage) Validate() error {
	if strings.TrimSpace(m.Filter.BusinessID) == "" {
		return queryValidationError("business_id", "business id is required")
	}
	if strings.TrimSpace(m.Filter.WebhookID) == "" {
		return queryValidationError("webhook_id", "webhook id is required")
	}
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	if m.Filter.Status != "" && !m.Filter.Status.Valid() {
		return queryValidationError("status", "unknown delivery status")
	}
	return nil
}

type GetWebhookMessage struct {
	Ref core.WebhookRef
}

func (GetWebhookMessage) Type() string { return TypeGetWebhook }

func (m GetWebhookMessage) Validate() error {
	return validateRef(m.Ref)
}

type ListWebhooksMessage struct {
	BusinessID string
}

func (ListWebhooksMessage) Type() string { return TypeListWebhooks }

func (m ListWebhooksMessage) Validate() error {
	if strings.TrimSpace(m.BusinessID) == "" {
		return queryValidationError("business_id", "business id is required")
	}
	return nil
}

func validateRef(ref core.WebhookRef) error {
	if strings.TrimSpace(ref.BusinessID) == "" {
		return queryValidationError("business_id", "business id is required")
	}
	if strings.TrimSpace(ref.WebhookID) == "" {
		return queryValidationError("webhook_id", "webhook id is required")
	}
	return nil
}
