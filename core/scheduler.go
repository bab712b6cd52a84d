package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Scheduler periodically replays due retries, recovers deliveries that
// never reached the attempt queue and releases rows whose attempt was
// interrupted mid-flight.
type Scheduler struct {
	deliveries  DeliveryStore
	attempter   Attempter
	backoff     BackoffPolicy
	config      SchedulerConfig
	maxAttempts int
	now         func() time.Time
	obs         instrumentation
}

func NewScheduler(
	deliveries DeliveryStore,
	attempter Attempter,
	backoff BackoffPolicy,
	config SchedulerConfig,
	maxAttempts int,
) (*Scheduler, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("core: delivery store is required")
	}
	if attempter == nil {
		return nil, fmt.Errorf("core: attempter is required")
	}
	defaults := DefaultConfig()
	if backoff == nil {
		backoff = NewExponentialJitterBackoff(
			defaults.Delivery.BackoffBase,
			defaults.Delivery.BackoffMax,
			defaults.Delivery.JitterFraction,
			nil,
		)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.Scheduler.PollInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Scheduler.Concurrency
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.Scheduler.BatchSize
	}
	if config.PendingRecoveryAfter <= 0 {
		config.PendingRecoveryAfter = defaults.Scheduler.PendingRecoveryAfter
	}
	if config.DeliveringLeaseTimeout <= 0 {
		config.DeliveringLeaseTimeout = defaults.Scheduler.DeliveringLeaseTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = defaults.Delivery.MaxAttempts
	}
	return &Scheduler{
		deliveries:  deliveries,
		attempter:   attempter,
		backoff:     backoff,
		config:      config,
		maxAttempts: maxAttempts,
		now:         utcNow,
		obs:         instrumentation{metrics: NopMetricsRecorder{}},
	}, nil
}

// Run sweeps once immediately and then on every poll interval until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.run(ctx, ctx.Done())
}

// run stops ticking once stop is closed while letting the sweep in progress
// finish under ctx.
func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}) error {
	if s == nil {
		return fmt.Errorf("core: scheduler is not configured")
	}
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		s.sweepAndLog(ctx)
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) sweepAndLog(ctx context.Context) {
	stats, err := s.Sweep(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.obs.logError(ctx, "webhook retry sweep failed", map[string]any{"error": err.Error()})
	}
	if stats.Due > 0 || stats.Recovered > 0 {
		s.obs.logInfo(ctx, "webhook retry sweep completed", map[string]any{
			"due":       stats.Due,
			"succeeded": stats.Succeeded,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
			"conflicts": stats.Conflicts,
			"recovered": stats.Recovered,
			"errors":    stats.Errors,
		})
	}
}

// Sweep performs one pass. A failing delivery never aborts the pass; the
// returned error only reports store failures while listing work.
func (s *Scheduler) Sweep(ctx context.Context) (SweepStats, error) {
	if s == nil {
		return SweepStats{}, fmt.Errorf("core: scheduler is not configured")
	}
	now := s.now()
	stats := SweepStats{}
	var sweepErr error

	recovered, err := s.recoverInterrupted(ctx, now)
	stats.Recovered = recovered
	sweepErr = joinErrors(sweepErr, err)

	pool := newAttemptPool(s.attempter, s.config.Concurrency)

	pending, err := s.deliveries.StalePending(ctx, now.Add(-s.config.PendingRecoveryAfter), s.config.BatchSize)
	sweepErr = joinErrors(sweepErr, err)
	for _, delivery := range pending {
		if ctx.Err() != nil {
			break
		}
		stats.Due++
		pool.submit(ctx, delivery.ID)
	}

	for delivery, iterErr := range s.deliveries.DueForRetry(ctx, now, s.config.BatchSize) {
		if iterErr != nil {
			sweepErr = joinErrors(sweepErr, iterErr)
			break
		}
		if ctx.Err() != nil {
			break
		}
		stats.Due++
		pool.submit(ctx, delivery.ID)
	}

	attempted := pool.wait()
	stats.Succeeded = attempted.Succeeded
	stats.Retried = attempted.Retried
	stats.Failed = attempted.Failed
	stats.Conflicts = attempted.Conflicts
	stats.Skipped = attempted.Skipped
	stats.Errors = attempted.Errors

	s.obs.recordCounter(ctx, MetricSchedulerSweepTotal, 1, map[string]string{
		"status": sweepStatus(sweepErr),
	})
	if stats.Recovered > 0 {
		s.obs.recordCounter(ctx, MetricRecoveredTotal, int64(stats.Recovered), map[string]string{})
	}
	if sweepErr == nil && ctx.Err() != nil {
		sweepErr = ctx.Err()
	}
	return stats, sweepErr
}

// recoverInterrupted releases deliveries stuck in delivering past the lease.
// The HTTP outcome is unknown, so they re-enter the retry curve.
func (s *Scheduler) recoverInterrupted(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.deliveries.StaleDelivering(ctx, now.Add(-s.config.DeliveringLeaseTimeout), s.config.BatchSize)
	if err != nil {
		return 0, err
	}
	recovered := 0
	var recoverErr error
	for _, delivery := range stale {
		lastError := lastErrorInterrupted
		update := DeliveryUpdate{LastError: &lastError}
		next := DeliveryStatusRetrying
		if delivery.Attempts >= s.maxAttempts {
			lastError = lastErrorMaxAttempts + ": " + lastErrorInterrupted
			next = DeliveryStatusFailed
		} else {
			retryAt := now.Add(s.backoff.Delay(delivery.Attempts))
			update.NextRetryAt = &retryAt
		}
		_, transitionErr := s.deliveries.Transition(ctx, delivery.ID, DeliveryStatusDelivering, next, update)
		if IsConflict(transitionErr) {
			continue
		}
		if transitionErr != nil {
			recoverErr = joinErrors(recoverErr, transitionErr)
			continue
		}
		recovered++
		fields := deliveryFields(delivery)
		fields["next_status"] = string(next)
		s.obs.logWarn(ctx, "interrupted webhook delivery released", fields)
	}
	return recovered, recoverErr
}

func sweepStatus(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

type attemptPool struct {
	attempter Attempter
	slots     chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	stats     SweepStats
}

func newAttemptPool(attempter Attempter, size int) *attemptPool {
	if size <= 0 {
		size = 1
	}
	return &attemptPool{
		attempter: attempter,
		slots:     make(chan struct{}, size),
	}
}

// submit blocks while every slot is busy.
func (p *attemptPool) submit(ctx context.Context, deliveryID string) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		outcome, err := p.attempter.Attempt(ctx, deliveryID)
		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			p.stats.Errors++
			return
		}
		p.stats.add(outcome)
	}()
}

func (p *attemptPool) wait() SweepStats {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
