package command

import (
	"strings"

	"github.com/goliatone/go-hooks/core"
)

const (
	TypeDispatchEvent  = "hooks.command.event.dispatch"
	TypeRetryDelivery  = "hooks.command.delivery.retry"
	TypeCreateWebhook  = "hooks.command.webhook.create"
	TypeDisableWebhook = "hooks.command.webhook.disable"
	TypeEnableWebhook  = "hooks.command.webhook.enable"
	TypeDeleteWebhook  = "hooks.command.webhook.delete"
)

type DispatchEventMessage struct {
	Event core.Event
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.BusinessID) == "" {
		return commandValidationError("business_id", "business id is required")
	}
	if strings.TrimSpace(m.Event.Type) == "" {
		return commandValidationError("type", "event type is required")
	}
	if err := m.Event.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid event")
	}
	return nil
}

type RetryDeliveryMessage struct {
	Request core.ManualRetryRequest
}

func (RetryDeliveryMessage) Type() string { return TypeRetryDelivery }

func (m RetryDeliveryMessage) Validate() error {
	if strings.TrimSpace(m.Request.BusinessID) == "" {
		return commandValidationError("business_id", "business id is required")
	}
	if strings.TrimSpace(m.Request.WebhookID) == "" {
		return commandValidationError("webhook_id", "webhook id is required")
	}
	if strings.TrimSpace(m.Request.DeliveryID) == "" {
		return commandValidationError("delivery_id", "delivery id is required")
	}
	return nil
}

type CreateWebhookMessage struct {
	Request core.CreateWebhookRequest
}

func (CreateWebhookMessage) Type() string { return TypeCreateWebhook }

func (m CreateWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.BusinessID) == "" {
		return commandValidationError("business_id", "business id is required")
	}
	if strings.TrimSpace(m.Request.URL) == "" {
		return commandValidationError("url", "url is required")
	}
	if len(core.NormalizeEventTypes(m.Request.EventTypes)) == 0 {
		return commandValidationError("event_types", "at least one event type is required")
	}
	return nil
}

type DisableWebhookMessage struct {
	Ref core.WebhookRef
}

func (DisableWebhookMessage) Type() string { return TypeDisableWebhook }

func (m DisableWebhookMessage) Validate() error {
	return validateRef(m.Ref)
}

type EnableWebhookMessage struct {
	Ref core.WebhookRef
}

func (EnableWebhookMessage) Type() string { return TypeEnableWebhook }

func (m EnableWebhookMessage) Validate() error {
	return validateRef(m.Ref)
}

type DeleteWebhookMessage struct {
	Ref core.WebhookRef
}

func (DeleteWebhookMessage) Type() string { return TypeDeleteWebhook }

func (m DeleteWebhookMessage) Validate() error {
	return validateRef(m.Ref)
}

func validateRef(ref core.WebhookRef) error {
	if strings.TrimSpace(ref.BusinessID) == "" {
		return commandValidationError("business_id", "business id is required")
	}
	if strings.TrimSpace(ref.WebhookID) == "" {
		return commandValidationError("webhook_id", "webhook id is required")
	}
	return nil
}
