package gologger

import (
	"strings"

	"github.com/goliatone/go-hooks/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultName = "hooks"

// Resolve uses deterministic precedence provider > logger > nop. An empty
// name resolves the "hooks" logger.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the logger once and hands the same sink to go-job
// workers draining the attempt queue.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// ForDelivery scopes logger to one delivery when it supports structured
// fields. Payloads and secrets are never attached.
func ForDelivery(logger glog.Logger, delivery core.Delivery) glog.Logger {
	if logger == nil {
		return glog.Nop()
	}
	fieldsLogger, ok := logger.(glog.FieldsLogger)
	if !ok {
		return logger
	}
	return fieldsLogger.WithFields(map[string]any{
		"delivery_id": delivery.ID,
		"webhook_id":  delivery.WebhookID,
		"business_id": delivery.BusinessID,
		"event_id":    delivery.EventID,
		"event_type":  delivery.EventType,
		"status":      string(delivery.Status),
		"attempts":    delivery.Attempts,
	})
}
