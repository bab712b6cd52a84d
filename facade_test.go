package hooks

import (
	"context"
	"testing"

	hookscommand "github.com/goliatone/go-hooks/command"
	"github.com/goliatone/go-hooks/core"
	hooksquery "github.com/goliatone/go-hooks/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.Dispatch == nil || commands.RetryDelivery == nil || commands.DeleteWebhook == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetDelivery == nil || queries.ListDeliveries == nil || queries.ListWebhooks == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().RetryDelivery.Execute(context.Background(), hookscommand.RetryDeliveryMessage{
		Request: core.ManualRetryRequest{BusinessID: "biz_1", WebhookID: "wh_1", DeliveryID: "dlv_1"},
	}); err != nil {
		t.Fatalf("execute retry command: %v", err)
	}
	if svc.lastRetry.DeliveryID != "dlv_1" || svc.lastRetry.BusinessID != "biz_1" {
		t.Fatalf("unexpected retry delegation payload: %#v", svc.lastRetry)
	}

	page, err := facade.Queries().ListDeliveries.Query(context.Background(), hooksquery.ListDeliveriesMessage{
		Filter: core.DeliveryFilter{BusinessID: "biz_1", WebhookID: "wh_1", Limit: 10},
	})
	if err != nil {
		t.Fatalf("query list deliveries: %v", err)
	}
	if page.Total != 1 || len(page.Deliveries) != 1 || page.Deliveries[0].ID != "dlv_1" {
		t.Fatalf("unexpected delivery page: %#v", page)
	}
	if svc.lastFilter.WebhookID != "wh_1" {
		t.Fatalf("expected filter to reach the service, got %#v", svc.lastFilter)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

type stubFacadeService struct {
	lastRetry  core.ManualRetryRequest
	lastFilter core.DeliveryFilter
}

func (s *stubFacadeService) Dispatch(_ context.Context, event core.Event) (core.DispatchResult, error) {
	return core.DispatchResult{EventID: event.ID}, nil
}

func (s *stubFacadeService) RetryDelivery(_ context.Context, req core.ManualRetryRequest) (core.Delivery, error) {
	s.lastRetry = req
	return core.Delivery{ID: req.DeliveryID, Status: core.DeliveryStatusPending}, nil
}

func (s *stubFacadeService) GetDelivery(_ context.Context, _ core.WebhookRef, deliveryID string) (core.Delivery, error) {
	return core.Delivery{ID: deliveryID}, nil
}

func (s *stubFacadeService) ListDeliveries(_ context.Context, filter core.DeliveryFilter) (core.DeliveryPage, error) {
	s.lastFilter = filter
	return core.DeliveryPage{
		Deliveries: []core.Delivery{{ID: "dlv_1", Status: core.DeliveryStatusFailed}},
		Total:      1,
		Limit:      filter.Limit,
	}, nil
}

func (s *stubFacadeService) CreateWebhook(_ context.Context, req core.CreateWebhookRequest) (core.CreatedWebhook, error) {
	return core.CreatedWebhook{Webhook: core.Webhook{ID: "wh_1", BusinessID: req.BusinessID}, Secret: "secret"}, nil
}

func (s *stubFacadeService) GetWebhook(_ context.Context, ref core.WebhookRef) (core.Webhook, error) {
	return core.Webhook{ID: ref.WebhookID, BusinessID: ref.BusinessID}, nil
}

func (s *stubFacadeService) ListWebhooks(_ context.Context, businessID string) ([]core.Webhook, error) {
	return []core.Webhook{{ID: "wh_1", BusinessID: businessID}}, nil
}

func (s *stubFacadeService) DisableWebhook(_ context.Context, ref core.WebhookRef) (core.Webhook, error) {
	return core.Webhook{ID: ref.WebhookID, BusinessID: ref.BusinessID}, nil
}

func (s *stubFacadeService) EnableWebhook(_ context.Context, ref core.WebhookRef) (core.Webhook, error) {
	return core.Webhook{ID: ref.WebhookID, BusinessID: ref.BusinessID, Enabled: true}, nil
}

func (s *stubFacadeService) DeleteWebhook(context.Context, core.WebhookRef) error {
	return nil
}

var _ core.HookService = (*stubFacadeService)(nil)
