package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-hooks/core"
)

var (
	_ gocmd.Commander[DispatchEventMessage]  = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[RetryDeliveryMessage]  = (*RetryDeliveryCommand)(nil)
	_ gocmd.Commander[CreateWebhookMessage]  = (*CreateWebhookCommand)(nil)
	_ gocmd.Commander[DisableWebhookMessage] = (*DisableWebhookCommand)(nil)
	_ gocmd.Commander[EnableWebhookMessage]  = (*EnableWebhookCommand)(nil)
	_ gocmd.Commander[DeleteWebhookMessage]  = (*DeleteWebhookCommand)(nil)

	_ MutatingService = (core.HookService)(nil)
)
