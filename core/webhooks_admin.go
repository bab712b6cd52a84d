package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const webhookSecretBytes = 32

func generateWebhookSecret() (string, error) {
	buf := make([]byte, webhookSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("core: generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidateWebhookURL accepts absolute http(s) urls with a host and no
// credentials. Plain http is only accepted when requireHTTPS is false.
func ValidateWebhookURL(raw string, requireHTTPS bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidWebhookURL)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWebhookURL, err)
	}
	if !parsed.IsAbs() || parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: url must be absolute", ErrInvalidWebhookURL)
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch {
	case scheme == "https":
	case scheme == "http" && !requireHTTPS:
	default:
		return "", fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidWebhookURL, parsed.Scheme)
	}
	if parsed.User != nil {
		return "", fmt.Errorf("%w: credentials are not allowed in the url", ErrInvalidWebhookURL)
	}
	if parsed.Fragment != "" {
		return "", fmt.Errorf("%w: fragments are not allowed", ErrInvalidWebhookURL)
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}

func (s *Service) CreateWebhook(ctx context.Context, req CreateWebhookRequest) (created CreatedWebhook, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"business_id": req.BusinessID}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "create_webhook", err, fields)
	}()

	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		err = s.mapError(fmt.Errorf("core: business id is required"))
		return CreatedWebhook{}, err
	}
	target, err := ValidateWebhookURL(req.URL, s.config.Security.RequireHTTPS && !s.allowInsecureURLs)
	if err != nil {
		err = s.mapError(err)
		return CreatedWebhook{}, err
	}
	eventTypes := NormalizeEventTypes(req.EventTypes)
	if len(eventTypes) == 0 {
		err = s.mapError(fmt.Errorf("core: at least one event type is required"))
		return CreatedWebhook{}, err
	}

	secret, err := generateWebhookSecret()
	if err != nil {
		err = s.mapError(err)
		return CreatedWebhook{}, err
	}
	stored := []byte(secret)
	if s.secretProvider != nil {
		stored, err = s.secretProvider.Encrypt(ctx, []byte(secret))
		if err != nil {
			err = s.mapError(fmt.Errorf("core: encrypt webhook secret: %w", err))
			return CreatedWebhook{}, err
		}
	}

	webhook, err := s.webhookStore.CreateWebhook(ctx, CreateWebhookInput{
		BusinessID:  businessID,
		URL:         target,
		Secret:      stored,
		EventTypes:  eventTypes,
		Enabled:     !req.Disabled,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		err = s.mapError(err)
		return CreatedWebhook{}, err
	}
	fields["webhook_id"] = webhook.ID
	return CreatedWebhook{Webhook: webhook.Redacted(), Secret: secret}, nil
}

func (s *Service) GetWebhook(ctx context.Context, ref WebhookRef) (Webhook, error) {
	webhook, err := ownedWebhook(ctx, s.webhookStore, strings.TrimSpace(ref.BusinessID), strings.TrimSpace(ref.WebhookID))
	if err != nil {
		return Webhook{}, s.mapError(err)
	}
	return webhook.Redacted(), nil
}

func (s *Service) ListWebhooks(ctx context.Context, businessID string) ([]Webhook, error) {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return nil, s.mapError(fmt.Errorf("core: business id is required"))
	}
	webhooks, err := s.webhookStore.ListWebhooks(ctx, businessID)
	if err != nil {
		return nil, s.mapError(err)
	}
	out := make([]Webhook, 0, len(webhooks))
	for _, webhook := range webhooks {
		if webhook.Deleted() {
			continue
		}
		out = append(out, webhook.Redacted())
	}
	return out, nil
}

// DisableWebhook stops new deliveries. Existing delivery rows are left as
// they are; pending attempts fail with "webhook unavailable".
func (s *Service) DisableWebhook(ctx context.Context, ref WebhookRef) (Webhook, error) {
	return s.setWebhookEnabled(ctx, ref, false)
}

func (s *Service) EnableWebhook(ctx context.Context, ref WebhookRef) (Webhook, error) {
	return s.setWebhookEnabled(ctx, ref, true)
}

func (s *Service) setWebhookEnabled(ctx context.Context, ref WebhookRef, enabled bool) (webhook Webhook, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"business_id": ref.BusinessID,
		"webhook_id":  ref.WebhookID,
		"enabled":     enabled,
	}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "set_webhook_enabled", err, fields)
	}()

	owned, err := ownedWebhook(ctx, s.webhookStore, strings.TrimSpace(ref.BusinessID), strings.TrimSpace(ref.WebhookID))
	if err != nil {
		err = s.mapError(err)
		return Webhook{}, err
	}
	if owned.Enabled == enabled {
		return owned.Redacted(), nil
	}
	updated, err := s.webhookStore.SetWebhookEnabled(ctx, owned.ID, enabled)
	if err != nil {
		err = s.mapError(err)
		return Webhook{}, err
	}
	return updated.Redacted(), nil
}

func (s *Service) DeleteWebhook(ctx context.Context, ref WebhookRef) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"business_id": ref.BusinessID,
		"webhook_id":  ref.WebhookID,
	}
	defer func() {
		s.obs.observeOperation(ctx, startedAt, "delete_webhook", err, fields)
	}()

	owned, err := ownedWebhook(ctx, s.webhookStore, strings.TrimSpace(ref.BusinessID), strings.TrimSpace(ref.WebhookID))
	if err != nil {
		err = s.mapError(err)
		return err
	}
	if err = s.webhookStore.DeleteWebhook(ctx, owned.ID); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}
