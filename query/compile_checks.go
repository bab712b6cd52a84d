package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-hooks/core"
)

var (
	_ gocmd.Querier[GetDeliveryMessage, core.Delivery]        = (*GetDeliveryQuery)(nil)
	_ gocmd.Querier[ListDeliveriesMessage, core.DeliveryPage] = (*ListDeliveriesQuery)(nil)
	_ gocmd.Querier[GetWebhookMessage, core.Webhook]          = (*GetWebhookQuery)(nil)
	_ gocmd.Querier[ListWebhooksMessage, []core.Webhook]      = (*ListWebhooksQuery)(nil)

	_ DeliveryReader = (core.HookService)(nil)
	_ WebhookReader  = (core.HookService)(nil)
)
