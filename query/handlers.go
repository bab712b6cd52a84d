package query

import (
	"context"

	"github.com/goliatone/go-hooks/core"
)

type DeliveryReader interface {
	GetDelivery(ctx context.Context, ref core.WebhookRef, deliveryID string) (core.Delivery, error)
	ListDeliveries(ctx context.Context, filter core.DeliveryFilter) (core.DeliveryPage, error)
}

type WebhookReader interface {
	GetWebhook(ctx context.Context, ref core.WebhookRef) (core.Webhook, error)
	ListWebhooks(ctx context.Context, businessID string) ([]core.Webhook, error)
}

type GetDeliveryQuery struct {
	reader DeliveryReader
}

func NewGetDeliveryQuery(reader DeliveryReader) *GetDeliveryQuery {
	return &GetDeliveryQuery{reader: reader}
}

func (q *GetDeliveryQuery) Query(ctx context.Context, msg GetDeliveryMessage) (core.Delivery, error) {
	if q == nil || q.reader == nil {
		return core.Delivery{}, queryDependencyError("query: delivery reader is required")
	}
	return q.reader.GetDelivery(ctx, msg.Ref, msg.DeliveryID)
}

type ListDeliveriesQuery struct {
	reader DeliveryReader
}

func NewListDeliveriesQuery(reader DeliveryReader) *ListDeliveriesQuery {
	return &ListDeliveriesQuery{reader: reader}
}

func (q *ListDeliveriesQuery) Query(ctx context.Context, msg ListDeliveriesMessage) (core.DeliveryPage, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryPage{}, queryDependencyError("query: delivery reader is required")
	}
	return q.reader.ListDeliveries(ctx, msg.Filter)
}

type GetWebhookQuery struct {
	reader WebhookReader
}

func NewGetWebhookQuery(reader WebhookReader) *GetWebhookQuery {
	return &GetWebhookQuery{reader: reader}
}

func (q *GetWebhookQuery) Query(ctx context.Context, msg GetWebhookMessage) (core.Webhook, error) {
	if q == nil || q.reader == nil {
		return core.Webhook{}, queryDependencyError("query: webhook reader is required")
	}
	return q.reader.GetWebhook(ctx, msg.Ref)
}

type ListWebhooksQuery struct {
	reader WebhookReader
}

func NewListWebhooksQuery(reader WebhookReader) *ListWebhooksQuery {
	return &ListWebhooksQuery{reader: reader}
}

func (q *ListWebhooksQuery) Query(ctx context.Context, msg ListWebhooksMessage) ([]core.Webhook, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: webhook reader is required")
	}
	return q.reader.ListWebhooks(ctx, msg.BusinessID)
}
