package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	MetricAttemptsTotal          = "hooks_attempts_total"
	MetricAttemptDurationSeconds = "hooks_attempt_duration_seconds"
	MetricDispatchTotal          = "hooks_dispatch_total"
	MetricSchedulerSweepTotal    = "hooks_scheduler_sweep_total"
	MetricRecoveredTotal         = "hooks_deliveries_recovered_total"
	MetricOperationTotal         = "hooks_operation_total"
	MetricOperationDurationMS    = "hooks_operation_duration_ms"
	MetricQueueJobs              = "hooks_queue_jobs_total"
	MetricQueueJobDuration       = "hooks_queue_job_duration_seconds"
)

// instrumentation is shared by the dispatcher, attempter, scheduler and
// service so they log and record metrics the same way.
type instrumentation struct {
	logger  Logger
	metrics MetricsRecorder
}

func (i instrumentation) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["operation"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	i.recordCounter(ctx, MetricOperationTotal, 1, tags)
	i.recordHistogram(ctx, MetricOperationDurationMS, float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		i.logError(ctx, operation+" failed", contextFields)
		return
	}
	i.logDebug(ctx, operation+" succeeded", contextFields)
}

func (i instrumentation) logDebug(ctx context.Context, message string, fields map[string]any) {
	i.logWithLevel(ctx, "debug", message, fields)
}

func (i instrumentation) logInfo(ctx context.Context, message string, fields map[string]any) {
	i.logWithLevel(ctx, "info", message, fields)
}

func (i instrumentation) logWarn(ctx context.Context, message string, fields map[string]any) {
	i.logWithLevel(ctx, "warn", message, fields)
}

func (i instrumentation) logError(ctx context.Context, message string, fields map[string]any) {
	i.logWithLevel(ctx, "error", message, fields)
}

func (i instrumentation) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if i.logger == nil {
		return
	}
	logger := i.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (i instrumentation) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if i.metrics == nil {
		return
	}
	i.metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (i instrumentation) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if i.metrics == nil {
		return
	}
	i.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (i instrumentation) recordAttempt(ctx context.Context, outcome AttemptOutcome) {
	tags := map[string]string{"outcome": string(outcome.Result)}
	i.recordCounter(ctx, MetricAttemptsTotal, 1, tags)
	if outcome.Duration > 0 {
		i.recordHistogram(ctx, MetricAttemptDurationSeconds, outcome.Duration.Seconds(), tags)
	}
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}

func deliveryFields(delivery Delivery) map[string]any {
	return map[string]any{
		"delivery_id": delivery.ID,
		"webhook_id":  delivery.WebhookID,
		"business_id": delivery.BusinessID,
		"event_type":  delivery.EventType,
		"status":      string(delivery.Status),
		"attempts":    delivery.Attempts,
	}
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
