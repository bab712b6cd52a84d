package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hooks/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/gorilla/mux"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200

	maxRequestBodyBytes = 1 << 20
)

var ErrTenantUnresolved = errors.New("httpapi: business could not be resolved")

// TenantResolverFunc adapts a function to core.TenantResolver.
type TenantResolverFunc func(r *http.Request) (string, error)

func (f TenantResolverFunc) ResolveBusinessID(r *http.Request) (string, error) {
	return f(r)
}

// HeaderTenantResolver reads the business id from a trusted request header,
// typically one set by an authenticating gateway.
func HeaderTenantResolver(header string) core.TenantResolver {
	return TenantResolverFunc(func(r *http.Request) (string, error) {
		businessID := strings.TrimSpace(r.Header.Get(header))
		if businessID == "" {
			return "", ErrTenantUnresolved
		}
		return businessID, nil
	})
}

type Option func(*Handler)

func WithLogger(logger glog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithPathPrefix(prefix string) Option {
	return func(h *Handler) {
		h.prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

// Handler exposes delivery inspection, manual retry and webhook
// administration scoped to the business resolved for each request.
type Handler struct {
	service core.HookService
	tenants core.TenantResolver
	logger  glog.Logger
	prefix  string
}

func NewHandler(service core.HookService, tenants core.TenantResolver, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("httpapi: hook service is required")
	}
	if tenants == nil {
		return nil, fmt.Errorf("httpapi: tenant resolver is required")
	}
	h := &Handler{service: service, tenants: tenants, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

func (h *Handler) Register(r *mux.Router) {
	router := r
	if h.prefix != "" {
		router = r.PathPrefix(h.prefix).Subrouter()
	}
	router.HandleFunc("/webhooks", h.ListWebhooks).Methods(http.MethodGet)
	router.HandleFunc("/webhooks", h.CreateWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{id}", h.GetWebhook).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}", h.DeleteWebhook).Methods(http.MethodDelete)
	router.HandleFunc("/webhooks/{id}/disable", h.DisableWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{id}/enable", h.EnableWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{id}/deliveries", h.ListDeliveries).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}/deliveries/{deliveryId}", h.GetDelivery).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}/deliveries/{deliveryId}/retry", h.RetryDelivery).Methods(http.MethodPost)
}

// Router returns a fresh mux router with every route registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.webhookRef(w, r)
	if !ok {
		return
	}
	delivery, err := h.service.RetryDelivery(r.Context(), core.ManualRetryRequest{
		BusinessID: ref.BusinessID,
		WebhookID:  ref.WebhookID,
		DeliveryID: mux.Vars(r)["deliveryId"],
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryResponse(delivery))
}

func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.webhookRef(w, r)
	if !ok {
		return
	}
	delivery, err := h.service.GetDelivery(r.Context(), ref, mux.Vars(r)["deliveryId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryResponse(delivery))
}

func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.webhookRef(w, r)
	if !ok {
		return
	}
	filter, err := parseDeliveryFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter.BusinessID = ref.BusinessID
	filter.WebhookID = ref.WebhookID

	page, err := h.service.ListDeliveries(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryPageResponse(page))
}

func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	businessID, ok := h.businessID(w, r)
	if !ok {
		return
	}
	webhooks, err := h.service.ListWebhooks(r.Context(), businessID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]WebhookResponse, 0, len(webhooks))
	for _, webhook := range webhooks {
		out = append(out, toWebhookResponse(webhook))
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	businessID, ok := h.businessID(w, r)
	if !ok {
		return
	}
	var body CreateWebhookBody
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		h.writeError(w, r, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid json body").
			WithTextCode(core.HookErrorBadInput))
		return
	}
	created, err := h.service.CreateWebhook(r.Context(), core.CreateWebhookRequest{
		BusinessID:  businessID,
		URL:         body.URL,
		EventTypes:  body.EventTypes,
		Description: body.Description,
		Disabled:    body.Disabled,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := toWebhookResponse(created.Webhook)
	out.Secret = created.Secret
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.webhookRef(w, r)
	if !ok {
		return
	}
	webhook, err := h.service.GetWebhook(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(webhook))
}

func (h *Handler) DisableWebhook(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.webhookRef(w, r)
	if !ok {
		return
	}
	webhook, err := h.service.DisableWebhook(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(webhook))
}

func (h *Handler) EnableWebhook(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.webhookRef(w, r)
	if !ok {
		return
	}
	webhook, err := h.service.EnableWebhook(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(webhook))
}

func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.webhookRef(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteWebhook(r.Context(), ref); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) businessID(w http.ResponseWriter, r *http.Request) (string, bool) {
	businessID, err := h.tenants.ResolveBusinessID(r)
	if err == nil && strings.TrimSpace(businessID) == "" {
		err = ErrTenantUnresolved
	}
	if err != nil {
		h.writeError(w, r, goerrors.Wrap(err, goerrors.CategoryAuth, "business could not be resolved").
			WithCode(http.StatusUnauthorized).
			WithTextCode("HOOKS_UNAUTHORIZED"))
		return "", false
	}
	return strings.TrimSpace(businessID), true
}

func (h *Handler) webhookRef(w http.ResponseWriter, r *http.Request) (core.WebhookRef, bool) {
	businessID, ok := h.businessID(w, r)
	if !ok {
		return core.WebhookRef{}, false
	}
	return core.WebhookRef{BusinessID: businessID, WebhookID: mux.Vars(r)["id"]}, true
}

func parseDeliveryFilter(r *http.Request) (core.DeliveryFilter, error) {
	values := r.URL.Query()
	filter := core.DeliveryFilter{Limit: DefaultPageLimit}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, badQueryParam("limit", "limit must be a positive integer")
		}
		filter.Limit = min(limit, MaxPageLimit)
	}
	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, badQueryParam("offset", "offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		status, err := core.ParseDeliveryStatus(raw)
		if err != nil {
			return filter, badQueryParam("status", err.Error())
		}
		filter.Status = status
	}
	return filter, nil
}

func badQueryParam(field, message string) error {
	return goerrors.NewValidation("invalid query parameters", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.HookErrorBadInput)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("hooks api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"text_code", mapped.TextCode,
			"error", err,
		)
	}
	writeJSON(w, status, mapped.ToErrorResponse(false, nil))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
