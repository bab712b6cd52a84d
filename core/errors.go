package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	HookErrorBadInput             = "HOOKS_BAD_INPUT"
	HookErrorNotFound             = "HOOKS_NOT_FOUND"
	HookErrorDeliveryNotRetryable = "HOOKS_DELIVERY_NOT_RETRYABLE"
	HookErrorConflict             = "HOOKS_CONFLICT"
	HookErrorRateLimited          = "HOOKS_RATE_LIMITED"
	HookErrorExternalFailure      = "HOOKS_EXTERNAL_FAILURE"
	HookErrorInternal             = "HOOKS_INTERNAL_ERROR"
)

var (
	ErrNotFound             = errors.New("core: not found")
	ErrConflict             = errors.New("core: delivery status conflict")
	ErrDeliveryNotRetryable = errors.New("core: delivery is not eligible for retry")
	ErrSecretRequired       = errors.New("core: signing secret is required")
	ErrServiceStopped       = errors.New("core: service was stopped and cannot be restarted")
	ErrInvalidWebhookURL    = errors.New("core: invalid webhook url")
	ErrWebhookUnavailable   = errors.New("core: webhook unavailable")
)

// ConflictError reports a lost compare-and-set on a delivery row.
type ConflictError struct {
	DeliveryID string
	Expected   DeliveryStatus
	Actual     DeliveryStatus
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("core: delivery %q status conflict: expected %q, found %q", e.DeliveryID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// MapError converts domain failures into go-errors envelopes carrying the
// HTTP status and text code rendered at the boundary.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureHookErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return newHookError(err.Error(), goerrors.CategoryNotFound, HookErrorNotFound)
	case errors.Is(err, ErrDeliveryNotRetryable):
		return newHookError(err.Error(), goerrors.CategoryBadInput, HookErrorDeliveryNotRetryable)
	case errors.Is(err, ErrConflict):
		return newHookError(err.Error(), goerrors.CategoryConflict, HookErrorConflict)
	case errors.Is(err, ErrSecretRequired), errors.Is(err, ErrInvalidWebhookURL):
		return newHookError(err.Error(), goerrors.CategoryBadInput, HookErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "rate limit"):
		return newHookError(err.Error(), goerrors.CategoryRateLimit, HookErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "reserved"):
		return newHookError(err.Error(), goerrors.CategoryBadInput, HookErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureHookErrorEnvelope(mapped)
}

func newHookError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureHookErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureHookErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = hookHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultHookTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultHookTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return HookErrorBadInput
	case goerrors.CategoryNotFound:
		return HookErrorNotFound
	case goerrors.CategoryConflict:
		return HookErrorConflict
	case goerrors.CategoryRateLimit:
		return HookErrorRateLimited
	case goerrors.CategoryExternal:
		return HookErrorExternalFailure
	default:
		return HookErrorInternal
	}
}

func hookHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
