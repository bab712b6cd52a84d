package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hooks/core"
	"golang.org/x/time/rate"
)

const (
	defaultResponseBodyLimit int64 = 64 << 10
	// drainLimit bounds how much of an oversized body is discarded so the
	// connection can be reused.
	drainLimit int64 = 256 << 10
	userAgent        = "go-hooks/1"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport POSTs signed deliveries. Redirects are never followed: a 3xx
// is returned to the caller as the attempt's response.
type HTTPTransport struct {
	client       HTTPDoer
	bodyLimit    int64
	limiter      *rate.Limiter
	breakers     *BreakerRegistry
	extraHeaders http.Header
}

type Option func(*HTTPTransport)

// WithHTTPClient replaces the default client. The caller owns its redirect
// policy.
func WithHTTPClient(client HTTPDoer) Option {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

func WithResponseBodyLimit(limit int64) Option {
	return func(t *HTTPTransport) {
		if limit > 0 {
			t.bodyLimit = limit
		}
	}
}

// WithRateLimit paces all outbound attempts through one token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *HTTPTransport) {
		if perSecond <= 0 {
			t.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithBreakers(breakers *BreakerRegistry) Option {
	return func(t *HTTPTransport) {
		t.breakers = breakers
	}
}

func WithHeader(key string, value string) Option {
	return func(t *HTTPTransport) {
		if strings.TrimSpace(key) == "" {
			return
		}
		t.extraHeaders.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
}

func NewHTTPTransport(opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		bodyLimit:    defaultResponseBodyLimit,
		extraHeaders: http.Header{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// NewHTTPTransportFromConfig builds the transport described by the
// transport config section.
func NewHTTPTransportFromConfig(cfg core.TransportConfig, opts ...Option) (*HTTPTransport, error) {
	base := []Option{WithRateLimit(cfg.RatePerSecond, cfg.Burst)}
	if cfg.BreakerEnabled {
		breakers, err := NewBreakerRegistry(BreakerConfig{
			Failures: cfg.BreakerFailures,
			Timeout:  cfg.BreakerTimeout,
		})
		if err != nil {
			return nil, err
		}
		base = append(base, WithBreakers(breakers))
	}
	return NewHTTPTransport(append(base, opts...)...), nil
}

func (t *HTTPTransport) Breakers() *BreakerRegistry {
	if t == nil {
		return nil
	}
	return t.breakers
}

func (t *HTTPTransport) Send(ctx context.Context, req core.OutboundRequest) (core.OutboundResponse, error) {
	if t == nil || t.client == nil {
		return core.OutboundResponse{}, transportError(
			"transport: http transport requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || target.Host == "" {
		return core.OutboundResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid endpoint url",
			http.StatusBadRequest,
			map[string]any{"url": strings.TrimSpace(req.URL)},
		)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return core.OutboundResponse{}, transportWrapError(
				err,
				goerrors.CategoryRateLimit,
				"transport: outbound rate limit wait",
				http.StatusTooManyRequests,
				map[string]any{"host": target.Host},
			)
		}
	}

	if t.breakers == nil {
		return t.do(ctx, target, req)
	}

	var resp core.OutboundResponse
	_, err = t.breakers.For(target.Host).Execute(func() (any, error) {
		var sendErr error
		resp, sendErr = t.do(ctx, target, req)
		if sendErr != nil {
			return nil, sendErr
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errServerStatus
		}
		return nil, nil
	})
	switch {
	case err == nil, errors.Is(err, errServerStatus):
		return resp, nil
	case isBreakerRejection(err):
		return core.OutboundResponse{}, transportWrapError(
			ErrBreakerOpen,
			goerrors.CategoryExternal,
			"transport: endpoint circuit open",
			http.StatusBadGateway,
			map[string]any{"host": target.Host},
		)
	default:
		return core.OutboundResponse{}, err
	}
}

func (t *HTTPTransport) do(ctx context.Context, target *url.URL, req core.OutboundRequest) (core.OutboundResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return core.OutboundResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"host": target.Host},
		)
	}
	for key, values := range t.extraHeaders {
		httpReq.Header[key] = append([]string(nil), values...)
	}
	for key, values := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", userAgent)
	}

	httpRes, err := t.client.Do(httpReq)
	if err != nil {
		return core.OutboundResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"host": target.Host},
		)
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, t.bodyLimit))
	if err != nil {
		return core.OutboundResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"host": target.Host, "status_code": httpRes.StatusCode},
		)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(httpRes.Body, drainLimit))

	return core.OutboundResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    httpRes.Header.Clone(),
		Body:       body,
	}, nil
}

var _ core.Transport = (*HTTPTransport)(nil)
