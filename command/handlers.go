package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-hooks/core"
)

// MutatingService is the write half of core.HookService.
type MutatingService interface {
	Dispatch(ctx context.Context, event core.Event) (core.DispatchResult, error)
	RetryDelivery(ctx context.Context, req core.ManualRetryRequest) (core.Delivery, error)
	CreateWebhook(ctx context.Context, req core.CreateWebhookRequest) (core.CreatedWebhook, error)
	DisableWebhook(ctx context.Context, ref core.WebhookRef) (core.Webhook, error)
	EnableWebhook(ctx context.Context, ref core.WebhookRef) (core.Webhook, error)
	DeleteWebhook(ctx context.Context, ref core.WebhookRef) error
}

type DispatchEventCommand struct {
	service MutatingService
}

func NewDispatchEventCommand(service MutatingService) *DispatchEventCommand {
	return &DispatchEventCommand{service: service}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.Dispatch(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RetryDeliveryCommand struct {
	service MutatingService
}

func NewRetryDeliveryCommand(service MutatingService) *RetryDeliveryCommand {
	return &RetryDeliveryCommand{service: service}
}

func (c *RetryDeliveryCommand) Execute(ctx context.Context, msg RetryDeliveryMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: retry service is required")
	}
	out, err := c.service.RetryDelivery(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateWebhookCommand struct {
	service MutatingService
}

func NewCreateWebhookCommand(service MutatingService) *CreateWebhookCommand {
	return &CreateWebhookCommand{service: service}
}

func (c *CreateWebhookCommand) Execute(ctx context.Context, msg CreateWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.CreateWebhook(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisableWebhookCommand struct {
	service MutatingService
}

func NewDisableWebhookCommand(service MutatingService) *DisableWebhookCommand {
	return &DisableWebhookCommand{service: service}
}

func (c *DisableWebhookCommand) Execute(ctx context.Context, msg DisableWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.DisableWebhook(ctx, msg.Ref)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnableWebhookCommand struct {
	service MutatingService
}

func NewEnableWebhookCommand(service MutatingService) *EnableWebhookCommand {
	return &EnableWebhookCommand{service: service}
}

func (c *EnableWebhookCommand) Execute(ctx context.Context, msg EnableWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.EnableWebhook(ctx, msg.Ref)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteWebhookCommand struct {
	service MutatingService
}

func NewDeleteWebhookCommand(service MutatingService) *DeleteWebhookCommand {
	return &DeleteWebhookCommand{service: service}
}

func (c *DeleteWebhookCommand) Execute(ctx context.Context, msg DeleteWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	return c.service.DeleteWebhook(ctx, msg.Ref)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
