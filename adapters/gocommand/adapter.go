package gocommand

import (
	"errors"
	"fmt"
	"sync"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	hookscommand "github.com/goliatone/go-hooks/command"
	"github.com/goliatone/go-hooks/core"
	hooksquery "github.com/goliatone/go-hooks/query"
)

// Registrar puts the hooks commands and queries on a go-command registry
// and subscribes them on the global dispatcher, so producers can send
// hooks.command.* and hooks.query.* messages without holding the service.
type Registrar struct {
	registry *gocmd.Registry

	mu   sync.Mutex
	subs []commanddispatcher.Subscription
}

func NewRegistrar(registry *gocmd.Registry) *Registrar {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &Registrar{registry: registry}
}

func (r *Registrar) Registry() *gocmd.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Register subscribes every handler built over service. It is all or
// nothing: on failure the subscriptions already made are removed.
func (r *Registrar) Register(service core.HookService, runnerOpts ...runner.Option) error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if service == nil {
		return fmt.Errorf("gocommand: hook service is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) > 0 {
		return fmt.Errorf("gocommand: hooks handlers are already registered")
	}

	var (
		subs []commanddispatcher.Subscription
		errs []error
	)
	track := func(sub commanddispatcher.Subscription, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		subs = append(subs, sub)
	}

	track(registerCommand[hookscommand.DispatchEventMessage](r.registry, hookscommand.NewDispatchEventCommand(service), runnerOpts))
	track(registerCommand[hookscommand.RetryDeliveryMessage](r.registry, hookscommand.NewRetryDeliveryCommand(service), runnerOpts))
	track(registerCommand[hookscommand.CreateWebhookMessage](r.registry, hookscommand.NewCreateWebhookCommand(service), runnerOpts))
	track(registerCommand[hookscommand.DisableWebhookMessage](r.registry, hookscommand.NewDisableWebhookCommand(service), runnerOpts))
	track(registerCommand[hookscommand.EnableWebhookMessage](r.registry, hookscommand.NewEnableWebhookCommand(service), runnerOpts))
	track(registerCommand[hookscommand.DeleteWebhookMessage](r.registry, hookscommand.NewDeleteWebhookCommand(service), runnerOpts))

	track(registerQuery[hooksquery.GetDeliveryMessage, core.Delivery](r.registry, hooksquery.NewGetDeliveryQuery(service), runnerOpts))
	track(registerQuery[hooksquery.ListDeliveriesMessage, core.DeliveryPage](r.registry, hooksquery.NewListDeliveriesQuery(service), runnerOpts))
	track(registerQuery[hooksquery.GetWebhookMessage, core.Webhook](r.registry, hooksquery.NewGetWebhookQuery(service), runnerOpts))
	track(registerQuery[hooksquery.ListWebhooksMessage, []core.Webhook](r.registry, hooksquery.NewListWebhooksQuery(service), runnerOpts))

	if len(errs) > 0 {
		unsubscribe(subs)
		return errors.Join(errs...)
	}
	r.subs = subs
	return nil
}

// Subscribed reports how many dispatcher subscriptions are live.
func (r *Registrar) Subscribed() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close removes the dispatcher subscriptions. Register may be called again
// afterwards with a fresh registry.
func (r *Registrar) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	unsubscribe(r.subs)
	r.subs = nil
}

func registerCommand[T any](
	registry *gocmd.Registry,
	cmd gocmd.Commander[T],
	runnerOpts []runner.Option,
) (commanddispatcher.Subscription, error) {
	sub := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := registry.RegisterCommand(cmd); err != nil {
		unsubscribe([]commanddispatcher.Subscription{sub})
		return nil, fmt.Errorf("gocommand: register %T: %w", cmd, err)
	}
	return sub, nil
}

func registerQuery[T any, R any](
	registry *gocmd.Registry,
	qry gocmd.Querier[T, R],
	runnerOpts []runner.Option,
) (commanddispatcher.Subscription, error) {
	sub := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := registry.RegisterCommand(qry); err != nil {
		unsubscribe([]commanddispatcher.Subscription{sub})
		return nil, fmt.Errorf("gocommand: register %T: %w", qry, err)
	}
	return sub, nil
}

func unsubscribe(subs []commanddispatcher.Subscription) {
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}
