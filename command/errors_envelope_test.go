package command

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hooks/core"
)

func TestRetryDeliveryMessage_ValidateReturnsRichError(t *testing.T) {
	err := (RetryDeliveryMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.HookErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.HookErrorBadInput, rich.TextCode)
	}
}

func TestDispatchEventMessage_InvalidPayloadWrapsValidation(t *testing.T) {
	err := (DispatchEventMessage{Event: core.Event{BusinessID: "b", Type: "x", Payload: []byte("nope")}}).Validate()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Code != 400 {
		t.Fatalf("expected 400 code, got %d", rich.Code)
	}
}

func TestRetryDeliveryCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *RetryDeliveryCommand
	err := cmd.Execute(context.Background(), RetryDeliveryMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
