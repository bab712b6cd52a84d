package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-hooks/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantHeader = "X-Business-Id"

type statusTransport struct {
	mu     sync.Mutex
	status int
	calls  int
}

func (t *statusTransport) Send(context.Context, core.OutboundRequest) (core.OutboundResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return core.OutboundResponse{StatusCode: t.status}, nil
}

func (t *statusTransport) set(status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

type fixture struct {
	svc       *core.Service
	store     *core.MemoryStore
	transport *statusTransport
	router    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := core.NewMemoryStore()
	transport := &statusTransport{status: http.StatusOK}
	svc, err := core.NewService(core.Config{},
		core.WithLogger(glog.Nop()),
		core.WithRepositoryFactory(store),
		core.WithTransport(transport),
	)
	require.NoError(t, err)

	handler, err := NewHandler(svc, HeaderTenantResolver(tenantHeader))
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, transport: transport, router: handler.Router()}
}

func (f *fixture) do(t *testing.T, method, path, businessID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if businessID != "" {
		req.Header.Set(tenantHeader, businessID)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedDelivery(t *testing.T, businessID string) (core.Webhook, core.Delivery) {
	t.Helper()
	created, err := f.svc.CreateWebhook(context.Background(), core.CreateWebhookRequest{
		BusinessID: businessID,
		URL:        "https://hooks.example.com/in",
		EventTypes: []string{"order.created"},
	})
	require.NoError(t, err)
	delivery, err := f.store.CreateDelivery(context.Background(), core.CreateDeliveryInput{
		WebhookID:  created.Webhook.ID,
		BusinessID: businessID,
		EventID:    "evt_1",
		EventType:  "order.created",
		Payload:    []byte(`{"order_id":"o1"}`),
	})
	require.NoError(t, err)
	return created.Webhook, delivery
}

type errorBody struct {
	Error struct {
		TextCode string `json:"text_code"`
		Code     int    `json:"code"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRetryDelivery_ReplaysRetryingDelivery(t *testing.T) {
	f := newFixture(t)
	webhook, delivery := f.seedDelivery(t, "biz_1")

	f.transport.set(http.StatusInternalServerError)
	outcome, err := f.svc.Attempt(context.Background(), delivery.ID)
	require.NoError(t, err)
	require.Equal(t, core.DeliveryStatusRetrying, outcome.Delivery.Status)

	f.transport.set(http.StatusOK)
	rec := f.do(t, http.MethodPost, "/webhooks/"+webhook.ID+"/deliveries/"+delivery.ID+"/retry", "biz_1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body DeliveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "succeeded", body.Status)
	assert.Equal(t, 2, body.Attempts)
	assert.Nil(t, body.NextRetryAt)
	assert.NotNil(t, body.DeliveredAt)
	assert.JSONEq(t, `{"order_id":"o1"}`, string(body.Payload))
}

func TestRetryDelivery_RejectsIneligibleStatus(t *testing.T) {
	f := newFixture(t)
	webhook, delivery := f.seedDelivery(t, "biz_1")
	_, err := f.svc.Attempt(context.Background(), delivery.ID)
	require.NoError(t, err)
	calls := f.transport.calls

	rec := f.do(t, http.MethodPost, "/webhooks/"+webhook.ID+"/deliveries/"+delivery.ID+"/retry", "biz_1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, core.HookErrorDeliveryNotRetryable, decodeError(t, rec).Error.TextCode)
	assert.Equal(t, calls, f.transport.calls)
}

func TestRetryDelivery_ForeignBusinessIsNotFound(t *testing.T) {
	f := newFixture(t)
	webhook, delivery := f.seedDelivery(t, "biz_1")

	rec := f.do(t, http.MethodPost, "/webhooks/"+webhook.ID+"/deliveries/"+delivery.ID+"/retry", "biz_2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, core.HookErrorNotFound, decodeError(t, rec).Error.TextCode)

	rec = f.do(t, http.MethodGet, "/webhooks/"+webhook.ID+"/deliveries/"+delivery.ID, "biz_2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequests_WithoutTenantAreUnauthorized(t *testing.T) {
	f := newFixture(t)
	webhook, _ := f.seedDelivery(t, "biz_1")

	rec := f.do(t, http.MethodGet, "/webhooks/"+webhook.ID+"/deliveries", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "HOOKS_UNAUTHORIZED", decodeError(t, rec).Error.TextCode)
}

func TestListDeliveries_PaginatesAndFilters(t *testing.T) {
	f := newFixture(t)
	webhook, first := f.seedDelivery(t, "biz_1")
	for range 2 {
		_, err := f.store.CreateDelivery(context.Background(), core.CreateDeliveryInput{
			WebhookID:  webhook.ID,
			BusinessID: "biz_1",
			EventID:    "evt_more",
			EventType:  "order.created",
			Payload:    []byte(`{}`),
		})
		require.NoError(t, err)
	}
	f.transport.set(http.StatusGone)
	_, err := f.svc.Attempt(context.Background(), first.ID)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/webhooks/"+webhook.ID+"/deliveries?limit=2&offset=0", "biz_1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page DeliveryPageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Deliveries, 2)
	assert.Equal(t, 2, page.Limit)

	rec = f.do(t, http.MethodGet, "/webhooks/"+webhook.ID+"/deliveries?status=failed", "biz_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Deliveries, 1)
	assert.Equal(t, first.ID, page.Deliveries[0].ID)
	assert.Equal(t, http.StatusGone, page.Deliveries[0].LastStatusCode)
}

func TestListDeliveries_RejectsBadQueryParams(t *testing.T) {
	f := newFixture(t)
	webhook, _ := f.seedDelivery(t, "biz_1")

	for _, query := range []string{"limit=abc", "limit=0", "offset=-1", "status=exploded"} {
		rec := f.do(t, http.MethodGet, "/webhooks/"+webhook.ID+"/deliveries?"+query, "biz_1", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Equal(t, core.HookErrorBadInput, decodeError(t, rec).Error.TextCode, query)
	}
}

func TestWebhookAdministration(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/webhooks", "biz_1",
		`{"url":"https://hooks.example.com/in","event_types":["order.created"],"description":"orders"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Secret)
	assert.True(t, created.Enabled)

	rec = f.do(t, http.MethodGet, "/webhooks/"+created.ID, "biz_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Secret)

	rec = f.do(t, http.MethodPost, "/webhooks/"+created.ID+"/disable", "biz_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var disabled WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &disabled))
	assert.False(t, disabled.Enabled)

	rec = f.do(t, http.MethodGet, "/webhooks", "biz_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	rec = f.do(t, http.MethodDelete, "/webhooks/"+created.ID, "biz_2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/webhooks/"+created.ID, "biz_1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreateWebhook_RejectsInvalidBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/webhooks", "biz_1", `{"url":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/webhooks", "biz_1", `{"url":"http://plain.example.com","event_types":["a"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, core.HookErrorBadInput, decodeError(t, rec).Error.TextCode)
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	_, err := NewHandler(nil, HeaderTenantResolver(tenantHeader))
	assert.Error(t, err)
	_, err = NewHandler(&core.Service{}, nil)
	assert.Error(t, err)
}
