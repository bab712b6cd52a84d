package hooks

import (
	"fmt"

	hookscommand "github.com/goliatone/go-hooks/command"
	"github.com/goliatone/go-hooks/core"
	hooksquery "github.com/goliatone/go-hooks/query"
)

type Commands struct {
	Dispatch       *hookscommand.DispatchEventCommand
	RetryDelivery  *hookscommand.RetryDeliveryCommand
	CreateWebhook  *hookscommand.CreateWebhookCommand
	DisableWebhook *hookscommand.DisableWebhookCommand
	EnableWebhook  *hookscommand.EnableWebhookCommand
	DeleteWebhook  *hookscommand.DeleteWebhookCommand
}

type Queries struct {
	GetDelivery    *hooksquery.GetDeliveryQuery
	ListDeliveries *hooksquery.ListDeliveriesQuery
	GetWebhook     *hooksquery.GetWebhookQuery
	ListWebhooks   *hooksquery.ListWebhooksQuery
}

// Facade bundles the command and query handlers built over one HookService
// so hosts can call them directly or hand them to a dispatcher.
type Facade struct {
	service  core.HookService
	commands Commands
	queries  Queries
}

func NewFacade(service core.HookService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("hooks: hook service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			Dispatch:       hookscommand.NewDispatchEventCommand(service),
			RetryDelivery:  hookscommand.NewRetryDeliveryCommand(service),
			CreateWebhook:  hookscommand.NewCreateWebhookCommand(service),
			DisableWebhook: hookscommand.NewDisableWebhookCommand(service),
			EnableWebhook:  hookscommand.NewEnableWebhookCommand(service),
			DeleteWebhook:  hookscommand.NewDeleteWebhookCommand(service),
		},
		queries: Queries{
			GetDelivery:    hooksquery.NewGetDeliveryQuery(service),
			ListDeliveries: hooksquery.NewListDeliveriesQuery(service),
			GetWebhook:     hooksquery.NewGetWebhookQuery(service),
			ListWebhooks:   hooksquery.NewListWebhooksQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() core.HookService {
	if f == nil {
		return nil
	}
	return f.service
}
