package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-hooks/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDDeliveryAttempt = "hooks.delivery.attempt"
	ParamDeliveryID      = "delivery_id"

	defaultIdlePoll = 250 * time.Millisecond
)

// RetryPolicy bounds how queue messages are redelivered after a store
// failure. Delivery retries themselves are driven by the retry scheduler.
type RetryPolicy struct {
	MaxAttempts     int
	Delay           time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// AttemptMessage builds the go-job message carrying one delivery id.
func AttemptMessage(deliveryID string) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      JobIDDeliveryAttempt,
		ScriptPath: JobIDDeliveryAttempt,
		Parameters: map[string]any{ParamDeliveryID: strings.TrimSpace(deliveryID)},
	}
}

// DeliveryIDFrom extracts the delivery id from an attempt message.
func DeliveryIDFrom(msg *job.ExecutionMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDDeliveryAttempt {
		return "", fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	raw, ok := msg.Parameters[ParamDeliveryID]
	if !ok {
		return "", fmt.Errorf("gojob: message has no %s parameter", ParamDeliveryID)
	}
	id, ok := raw.(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("gojob: invalid %s parameter %v", ParamDeliveryID, raw)
	}
	return strings.TrimSpace(id), nil
}

type AttemptQueueOption func(*AttemptQueue)

func WithRetryPolicy(policy RetryPolicy) AttemptQueueOption {
	return func(q *AttemptQueue) {
		q.policy = policy
	}
}

// WithIdlePoll sets the pause between Dequeue calls that returned nothing.
func WithIdlePoll(interval time.Duration) AttemptQueueOption {
	return func(q *AttemptQueue) {
		if interval > 0 {
			q.idlePoll = interval
		}
	}
}

// AttemptQueue carries delivery ids over a go-job queue backend so attempt
// workers can run in separate processes from the dispatcher.
type AttemptQueue struct {
	enqueuer queue.Enqueuer
	dequeuer queue.Dequeuer
	policy   RetryPolicy
	idlePoll time.Duration

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	failures map[string]int
}

func NewAttemptQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer, opts ...AttemptQueueOption) (*AttemptQueue, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	q := &AttemptQueue{
		enqueuer: enqueuer,
		dequeuer: dequeuer,
		policy:   RetryPolicy{MaxAttempts: 5, Delay: time.Second, MaxDelay: time.Minute, DeadLetterOnMax: true},
		idlePoll: defaultIdlePoll,
		closed:   make(chan struct{}),
		failures: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

func (q *AttemptQueue) Enqueue(ctx context.Context, deliveryID string) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("gojob: attempt queue is not configured")
	}
	if strings.TrimSpace(deliveryID) == "" {
		return fmt.Errorf("gojob: delivery id is required")
	}
	select {
	case <-q.closed:
		return core.ErrQueueClosed
	default:
	}
	return q.enqueuer.Enqueue(ctx, AttemptMessage(deliveryID))
}

// Consume dequeues until ctx is done or the queue is closed. A message is
// acked once its outcome is recorded and nacked with the retry policy when
// the handler fails.
func (q *AttemptQueue) Consume(ctx context.Context, handle func(context.Context, string) error) error {
	if q == nil || q.dequeuer == nil {
		return fmt.Errorf("gojob: attempt queue is not configured")
	}
	if handle == nil {
		return fmt.Errorf("gojob: attempt queue handler is required")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return nil
		default:
		}

		delivery, err := q.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !q.idle(ctx) {
				return ctx.Err()
			}
			continue
		}
		if delivery == nil {
			if !q.idle(ctx) {
				return ctx.Err()
			}
			continue
		}
		if err := q.process(ctx, delivery, handle); err != nil {
			return err
		}
	}
}

func (q *AttemptQueue) process(ctx context.Context, delivery queue.Delivery, handle func(context.Context, string) error) error {
	deliveryID, err := DeliveryIDFrom(delivery.Message())
	if err != nil {
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	if handleErr := handle(ctx, deliveryID); handleErr != nil {
		attempt := q.recordFailure(deliveryID)
		opts := q.policy.NormalizeAttempt(queue.NackOptions{
			Delay:   q.policy.Delay * time.Duration(attempt),
			Requeue: true,
			Reason:  handleErr.Error(),
		}, attempt)
		if opts.DeadLetter || !opts.Requeue {
			q.clearFailures(deliveryID)
		}
		return ignoreCanceled(delivery.Nack(ctx, opts))
	}
	q.clearFailures(deliveryID)
	return ignoreCanceled(delivery.Ack(ctx))
}

func (q *AttemptQueue) Close() error {
	if q == nil {
		return nil
	}
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	return nil
}

func (q *AttemptQueue) idle(ctx context.Context) bool {
	timer := time.NewTimer(q.idlePoll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-q.closed:
		return true
	case <-timer.C:
		return true
	}
}

func (q *AttemptQueue) recordFailure(deliveryID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failures[deliveryID]++
	return q.failures[deliveryID]
}

func (q *AttemptQueue) clearFailures(deliveryID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.failures, deliveryID)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// MetricsWorkerHook reports go-job worker lifecycle events as hooks queue
// metrics.
type MetricsWorkerHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsWorkerHook(recorder core.MetricsRecorder) *MetricsWorkerHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsWorkerHook{recorder: recorder}
}

func (h *MetricsWorkerHook) OnStart(ctx context.Context, event worker.Event) {
	h.record(ctx, "start", event)
}

func (h *MetricsWorkerHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "success", event)
	h.recorder.ObserveHistogram(ctx, core.MetricQueueJobDuration, event.Duration.Seconds(), jobTags(event))
}

func (h *MetricsWorkerHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, "failure", event)
	h.recorder.ObserveHistogram(ctx, core.MetricQueueJobDuration, event.Duration.Seconds(), jobTags(event))
}

func (h *MetricsWorkerHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, "retry", event)
}

func (h *MetricsWorkerHook) record(ctx context.Context, stage string, event worker.Event) {
	if h == nil || h.recorder == nil {
		return
	}
	tags := jobTags(event)
	tags["stage"] = stage
	h.recorder.IncCounter(ctx, core.MetricQueueJobs, 1, tags)
}

func jobTags(event worker.Event) map[string]string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	jobID := "unknown"
	if message != nil && strings.TrimSpace(message.JobID) != "" {
		jobID = strings.TrimSpace(message.JobID)
	}
	return map[string]string{"job_id": jobID}
}

var (
	_ core.AttemptQueue = (*AttemptQueue)(nil)
	_ worker.Hook       = (*MetricsWorkerHook)(nil)
)
