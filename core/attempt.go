package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	lastErrorWebhookUnavailable = "webhook unavailable"
	lastErrorMaxAttempts        = "max attempts exhausted"
	lastErrorInterrupted        = "attempt interrupted"
)

type AttempterConfig struct {
	MaxAttempts        int
	AttemptTimeout     time.Duration
	LastErrorMaxLen    int
	ResponseSnippetLen int
}

func attempterConfigFrom(cfg Config) AttempterConfig {
	return AttempterConfig{
		MaxAttempts:        cfg.Delivery.MaxAttempts,
		AttemptTimeout:     cfg.Delivery.AttemptTimeout,
		LastErrorMaxLen:    cfg.Delivery.LastErrorMaxLen,
		ResponseSnippetLen: cfg.Delivery.ResponseSnippetLen,
	}
}

// DeliveryAttempter runs one claimed HTTP attempt for a delivery and records
// the outcome on the row. Concurrent callers on the same delivery race on
// the pending/retrying -> delivering transition; only the winner sends.
type DeliveryAttempter struct {
	webhooks   WebhookStore
	deliveries DeliveryStore
	transport  Transport
	signer     Signer
	backoff    BackoffPolicy
	secrets    SecretProvider
	config     AttempterConfig
	now        func() time.Time
	obs        instrumentation
}

type AttempterDependencies struct {
	Webhooks   WebhookStore
	Deliveries DeliveryStore
	Transport  Transport
	Signer     Signer
	Backoff    BackoffPolicy
	Secrets    SecretProvider
	Logger     Logger
	Metrics    MetricsRecorder
	Now        func() time.Time
}

func NewDeliveryAttempter(deps AttempterDependencies, config AttempterConfig) (*DeliveryAttempter, error) {
	if deps.Webhooks == nil {
		return nil, fmt.Errorf("core: webhook store is required")
	}
	if deps.Deliveries == nil {
		return nil, fmt.Errorf("core: delivery store is required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("core: transport is required")
	}
	defaults := attempterConfigFrom(DefaultConfig())
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.LastErrorMaxLen <= 0 {
		config.LastErrorMaxLen = defaults.LastErrorMaxLen
	}
	if config.ResponseSnippetLen < 0 {
		config.ResponseSnippetLen = defaults.ResponseSnippetLen
	}
	if deps.Signer == nil {
		deps.Signer = HMACSigner{}
	}
	if deps.Backoff == nil {
		cfg := DefaultConfig().Delivery
		deps.Backoff = NewExponentialJitterBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.JitterFraction, nil)
	}
	if deps.Now == nil {
		deps.Now = utcNow
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetricsRecorder{}
	}
	return &DeliveryAttempter{
		webhooks:   deps.Webhooks,
		deliveries: deps.Deliveries,
		transport:  deps.Transport,
		signer:     deps.Signer,
		backoff:    deps.Backoff,
		secrets:    deps.Secrets,
		config:     config,
		now:        deps.Now,
		obs:        instrumentation{logger: deps.Logger, metrics: deps.Metrics},
	}, nil
}

func (a *DeliveryAttempter) MaxAttempts() int {
	if a == nil {
		return 0
	}
	return a.config.MaxAttempts
}

// Attempt returns an error only when the store fails. HTTP failures are
// recorded on the delivery and reported through the outcome.
func (a *DeliveryAttempter) Attempt(ctx context.Context, deliveryID string) (AttemptOutcome, error) {
	if a == nil {
		return AttemptOutcome{}, fmt.Errorf("core: delivery attempter is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return AttemptOutcome{}, fmt.Errorf("core: delivery id is required")
	}

	current, err := a.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		return AttemptOutcome{}, err
	}
	if !current.Status.Attemptable() {
		return AttemptOutcome{Result: AttemptResultSkipped, Delivery: current}, nil
	}

	webhook, err := a.webhooks.GetWebhook(ctx, current.WebhookID)
	switch {
	case errors.Is(err, ErrNotFound):
		return a.abandon(ctx, current, lastErrorWebhookUnavailable)
	case err != nil:
		return AttemptOutcome{}, err
	case !webhook.Available():
		return a.abandon(ctx, current, lastErrorWebhookUnavailable)
	}
	if current.Attempts >= a.config.MaxAttempts {
		return a.abandon(ctx, current, lastErrorMaxAttempts)
	}

	startedAt := a.now()
	claimed, err := a.deliveries.Transition(ctx, current.ID, current.Status, DeliveryStatusDelivering, DeliveryUpdate{
		IncrementAttempts: true,
		LastAttemptedAt:   &startedAt,
	})
	if IsConflict(err) {
		return a.conflictOutcome(ctx, current.ID)
	}
	if err != nil {
		return AttemptOutcome{}, err
	}

	resp, sendErr := a.send(ctx, claimed, webhook, startedAt)
	duration := a.now().Sub(startedAt)

	// The row is delivering now; shutdown must not leave it there.
	recordCtx := context.WithoutCancel(ctx)
	outcome, err := a.record(recordCtx, claimed, resp, sendErr)
	outcome.Duration = duration
	outcome.StatusCode = resp.StatusCode
	if err != nil {
		return outcome, err
	}
	a.obs.recordAttempt(recordCtx, outcome)
	fields := deliveryFields(outcome.Delivery)
	fields["result"] = string(outcome.Result)
	fields["status_code"] = resp.StatusCode
	fields["duration_ms"] = duration.Milliseconds()
	if outcome.Err != nil {
		fields["error"] = outcome.Err.Error()
		a.obs.logWarn(recordCtx, "webhook delivery attempt failed", fields)
	} else {
		a.obs.logDebug(recordCtx, "webhook delivery attempt succeeded", fields)
	}
	return outcome, nil
}

func (a *DeliveryAttempter) send(
	ctx context.Context,
	delivery Delivery,
	webhook Webhook,
	timestamp time.Time,
) (OutboundResponse, error) {
	secret, err := a.signingSecret(ctx, webhook)
	if err != nil {
		return OutboundResponse{}, &permanentSendError{err: err}
	}
	signature, err := a.signer.Sign(secret, timestamp, delivery.Payload)
	if err != nil {
		return OutboundResponse{}, &permanentSendError{err: fmt.Errorf("core: sign payload: %w", err)}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, a.config.AttemptTimeout)
	defer cancel()
	return a.transport.Send(attemptCtx, OutboundRequest{
		URL:     webhook.URL,
		Headers: deliveryHeaders(delivery, delivery.Attempts, timestamp, signature),
		Body:    delivery.Payload,
		Timeout: a.config.AttemptTimeout,
	})
}

// permanentSendError is a failure before the request left the process that
// a later attempt would hit again, such as an undecryptable secret.
type permanentSendError struct {
	err error
}

func (e *permanentSendError) Error() string {
	return e.err.Error()
}

func (e *permanentSendError) Unwrap() error {
	return e.err
}

func (a *DeliveryAttempter) signingSecret(ctx context.Context, webhook Webhook) ([]byte, error) {
	if a.secrets == nil {
		return webhook.Secret, nil
	}
	secret, err := a.secrets.Decrypt(ctx, webhook.Secret)
	if err != nil {
		return nil, fmt.Errorf("core: decrypt webhook secret: %w", err)
	}
	return secret, nil
}

func (a *DeliveryAttempter) record(
	ctx context.Context,
	claimed Delivery,
	resp OutboundResponse,
	sendErr error,
) (AttemptOutcome, error) {
	now := a.now()
	statusCode := resp.StatusCode
	update := DeliveryUpdate{LastStatusCode: &statusCode}

	var (
		next   DeliveryStatus
		result AttemptResult
		cause  error
	)
	switch classifyAttempt(resp, sendErr) {
	case attemptSuccess:
		cleared := ""
		update.LastError = &cleared
		update.DeliveredAt = &now
		next, result = DeliveryStatusSucceeded, AttemptResultSucceeded
	case attemptPermanent:
		cause = errors.New(describeAttemptFailure(a.snippet(resp), sendErr))
		next, result = DeliveryStatusFailed, AttemptResultFailed
	default:
		cause = errors.New(describeAttemptFailure(a.snippet(resp), sendErr))
		if claimed.Attempts >= a.config.MaxAttempts {
			cause = fmt.Errorf("%s: %w", lastErrorMaxAttempts, cause)
			next, result = DeliveryStatusFailed, AttemptResultFailed
			break
		}
		retryAt := now.Add(a.backoff.Delay(claimed.Attempts))
		update.NextRetryAt = &retryAt
		next, result = DeliveryStatusRetrying, AttemptResultRetrying
	}
	if cause != nil {
		lastError := truncateString(cause.Error(), a.config.LastErrorMaxLen)
		update.LastError = &lastError
	}

	recorded, err := a.deliveries.Transition(ctx, claimed.ID, DeliveryStatusDelivering, next, update)
	if IsConflict(err) {
		// A stale-lease recovery already resolved the row.
		outcome, getErr := a.conflictOutcome(ctx, claimed.ID)
		outcome.Err = cause
		return outcome, getErr
	}
	if err != nil {
		return AttemptOutcome{Result: result, Delivery: claimed, Err: cause}, err
	}
	return AttemptOutcome{Result: result, Delivery: recorded, Err: cause}, nil
}

func (a *DeliveryAttempter) snippet(resp OutboundResponse) OutboundResponse {
	if a.config.ResponseSnippetLen >= 0 && len(resp.Body) > a.config.ResponseSnippetLen {
		resp.Body = []byte(truncateString(string(resp.Body), a.config.ResponseSnippetLen))
	}
	return resp
}

// abandon fails a delivery without sending anything, so attempts are left
// as they are.
func (a *DeliveryAttempter) abandon(ctx context.Context, current Delivery, reason string) (AttemptOutcome, error) {
	lastError := truncateString(reason, a.config.LastErrorMaxLen)
	failed, err := a.deliveries.Transition(ctx, current.ID, current.Status, DeliveryStatusFailed, DeliveryUpdate{
		LastError: &lastError,
	})
	if IsConflict(err) {
		return a.conflictOutcome(ctx, current.ID)
	}
	if err != nil {
		return AttemptOutcome{}, err
	}
	outcome := AttemptOutcome{Result: AttemptResultFailed, Delivery: failed, Err: errors.New(reason)}
	a.obs.recordAttempt(ctx, outcome)
	fields := deliveryFields(failed)
	fields["reason"] = reason
	a.obs.logWarn(ctx, "webhook delivery abandoned", fields)
	return outcome, nil
}

func (a *DeliveryAttempter) conflictOutcome(ctx context.Context, deliveryID string) (AttemptOutcome, error) {
	latest, err := a.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		return AttemptOutcome{Result: AttemptResultConflict}, err
	}
	outcome := AttemptOutcome{Result: AttemptResultConflict, Delivery: latest}
	a.obs.recordAttempt(ctx, outcome)
	return outcome, nil
}
