package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusDelivering DeliveryStatus = "delivering"
	DeliveryStatusSucceeded  DeliveryStatus = "succeeded"
	DeliveryStatusRetrying   DeliveryStatus = "retrying"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// EventTypeWildcard subscribes a webhook to every event type.
const EventTypeWildcard = "*"

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending,
		DeliveryStatusDelivering,
		DeliveryStatusSucceeded,
		DeliveryStatusRetrying,
		DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSucceeded || s == DeliveryStatusFailed
}

// Attemptable reports whether the attempt primitive may claim a delivery
// in this status.
func (s DeliveryStatus) Attemptable() bool {
	return s == DeliveryStatusPending || s == DeliveryStatusRetrying
}

func (s DeliveryStatus) ManuallyRetryable() bool {
	return s == DeliveryStatusFailed || s == DeliveryStatusRetrying
}

func ParseDeliveryStatus(raw string) (DeliveryStatus, error) {
	status := DeliveryStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("core: invalid delivery status %q", raw)
	}
	return status, nil
}

type Webhook struct {
	ID          string
	BusinessID  string
	URL         string
	Secret      []byte
	EventTypes  []string
	Enabled     bool
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

func (w Webhook) Deleted() bool {
	return w.DeletedAt != nil
}

// Available reports whether new attempts may be sent to the webhook.
func (w Webhook) Available() bool {
	return w.Enabled && !w.Deleted()
}

func (w Webhook) Subscribes(eventType string) bool {
	eventType = normalizeEventType(eventType)
	if eventType == "" {
		return false
	}
	for _, subscribed := range w.EventTypes {
		if subscribed == EventTypeWildcard || subscribed == eventType {
			return true
		}
	}
	return false
}

// Redacted returns a copy without the signing secret.
func (w Webhook) Redacted() Webhook {
	w.Secret = nil
	w.EventTypes = append([]string(nil), w.EventTypes...)
	return w
}

type Delivery struct {
	ID              string
	WebhookID       string
	BusinessID      string
	EventID         string
	EventType       string
	Payload         []byte
	Status          DeliveryStatus
	Attempts        int
	LastError       string
	LastStatusCode  int
	NextRetryAt     *time.Time
	CreatedAt       time.Time
	LastAttemptedAt *time.Time
	DeliveredAt     *time.Time
	UpdatedAt       time.Time
}

type Event struct {
	ID         string
	BusinessID string
	Type       string
	Payload    []byte
	OccurredAt time.Time
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.BusinessID) == "" {
		return fmt.Errorf("core: event business id is required")
	}
	if normalizeEventType(e.Type) == "" {
		return fmt.Errorf("core: event type is required")
	}
	if e.Type == EventTypeWildcard {
		return fmt.Errorf("core: event type %q is reserved", EventTypeWildcard)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("core: event payload is required")
	}
	if !json.Valid(e.Payload) {
		return fmt.Errorf("core: event payload is invalid json")
	}
	return nil
}

type DispatchResult struct {
	EventID     string
	DeliveryIDs []string
	// Deferred counts deliveries left pending for the scheduler because the
	// attempt queue did not accept them in time.
	Deferred int
}

type CreateWebhookInput struct {
	BusinessID  string
	URL         string
	Secret      []byte
	EventTypes  []string
	Enabled     bool
	Description string
}

type CreateDeliveryInput struct {
	WebhookID  string
	BusinessID string
	EventID    string
	EventType  string
	Payload    []byte
}

// DeliveryUpdate carries the field changes applied together with a status
// transition. Nil pointers leave the column untouched except for
// NextRetryAt, which the store clears on every non-retrying target.
type DeliveryUpdate struct {
	IncrementAttempts bool
	LastError         *string
	LastStatusCode    *int
	NextRetryAt       *time.Time
	LastAttemptedAt   *time.Time
	DeliveredAt       *time.Time
}

// ValidateTransition enforces that a retry time accompanies every move into
// retrying, which keeps next_retry_at set exactly while a row is retrying.
func ValidateTransition(next DeliveryStatus, update DeliveryUpdate) error {
	if !next.Valid() {
		return fmt.Errorf("core: invalid delivery status %q", next)
	}
	if next == DeliveryStatusRetrying && update.NextRetryAt == nil {
		return fmt.Errorf("core: next retry time is required when retrying")
	}
	return nil
}

type DeliveryFilter struct {
	BusinessID string
	WebhookID  string
	Status     DeliveryStatus
	Limit      int
	Offset     int
}

type DeliveryPage struct {
	Deliveries []Delivery
	Total      int
	Limit      int
	Offset     int
}

type AttemptResult string

const (
	AttemptResultSucceeded AttemptResult = "succeeded"
	AttemptResultRetrying  AttemptResult = "retrying"
	AttemptResultFailed    AttemptResult = "failed"
	AttemptResultConflict  AttemptResult = "conflict"
	AttemptResultSkipped   AttemptResult = "skipped"
)

type AttemptOutcome struct {
	Result     AttemptResult
	Delivery   Delivery
	StatusCode int
	Duration   time.Duration
	Err        error
}

type ManualRetryRequest struct {
	BusinessID string
	WebhookID  string
	DeliveryID string
}

type CreateWebhookRequest struct {
	BusinessID  string
	URL         string
	EventTypes  []string
	Description string
	Disabled    bool
}

// CreatedWebhook is the only value that ever exposes the signing secret.
type CreatedWebhook struct {
	Webhook Webhook
	Secret  string
}

type WebhookRef struct {
	BusinessID string
	WebhookID  string
}

type SweepStats struct {
	Due       int
	Succeeded int
	Retried   int
	Failed    int
	Conflicts int
	Skipped   int
	Recovered int
	Errors    int
}

func (s *SweepStats) add(outcome AttemptOutcome) {
	switch outcome.Result {
	case AttemptResultSucceeded:
		s.Succeeded++
	case AttemptResultRetrying:
		s.Retried++
	case AttemptResultFailed:
		s.Failed++
	case AttemptResultConflict:
		s.Conflicts++
	default:
		s.Skipped++
	}
}

func normalizeEventType(eventType string) string {
	return strings.ToLower(strings.TrimSpace(eventType))
}

// NormalizeEventTypes lowercases, trims and deduplicates event types while
// keeping their first-seen order.
func NormalizeEventTypes(eventTypes []string) []string {
	out := make([]string, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		normalized := normalizeEventType(eventType)
		if normalized == "" || slices.Contains(out, normalized) {
			continue
		}
		out = append(out, normalized)
	}
	return out
}
