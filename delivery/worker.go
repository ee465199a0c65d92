package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dispatch/core"
)

// PoolDependencies carries the collaborators a Pool needs to run.
type PoolDependencies struct {
	Attempts      core.AttemptStore
	Subscriptions core.SubscriptionStore
	Events        core.EventStore
	Sender        Sender
	Schedule      *Schedule
}

// Pool drains the retry schedule with a bounded set of workers. Each worker
// claims an attempt, performs the outbound call, and records the resulting
// transition; a poller sweeps the store for due retries and recovers rows a
// crashed process left in delivering.
type Pool struct {
	attempts      core.AttemptStore
	subscriptions core.SubscriptionStore
	events        core.EventStore
	sender        Sender
	schedule      *Schedule

	policy       core.RetryPolicy
	workers      int
	pollInterval time.Duration
	idleDelay    time.Duration
	burst        int
	orphanAge    time.Duration

	logger  core.Logger
	metrics core.MetricsRecorder
	hooks   []core.DeliveryWorkerHook
	now     func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PoolOption mutates a Pool during construction.
type PoolOption func(*Pool)

// WithRetryPolicy overrides the backoff policy between attempts.
func WithRetryPolicy(policy core.RetryPolicy) PoolOption {
	return func(p *Pool) {
		p.policy = policy
	}
}

// WithWorkerCount bounds the number of concurrent delivery workers.
func WithWorkerCount(workers int) PoolOption {
	return func(p *Pool) {
		if workers > 0 {
			p.workers = workers
		}
	}
}

// WithPollInterval sets how often the poller sweeps the store for due work.
func WithPollInterval(interval time.Duration) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// WithIdleDelay sets how long an idle worker sleeps before checking again.
func WithIdleDelay(delay time.Duration) PoolOption {
	return func(p *Pool) {
		if delay > 0 {
			p.idleDelay = delay
		}
	}
}

// WithBurst caps how many due attempts one poll sweep loads.
func WithBurst(burst int) PoolOption {
	return func(p *Pool) {
		if burst > 0 {
			p.burst = burst
		}
	}
}

// WithOrphanAge sets how long a delivering row must sit untouched before
// startup recovery re-queues it.
func WithOrphanAge(age time.Duration) PoolOption {
	return func(p *Pool) {
		if age > 0 {
			p.orphanAge = age
		}
	}
}

// WithPoolLogger overrides the pool logger.
func WithPoolLogger(logger core.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPoolMetrics overrides the pool metrics recorder.
func WithPoolMetrics(metrics core.MetricsRecorder) PoolOption {
	return func(p *Pool) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// WithHook registers an execution observer.
func WithHook(hook core.DeliveryWorkerHook) PoolOption {
	return func(p *Pool) {
		if hook != nil {
			p.hooks = append(p.hooks, hook)
		}
	}
}

// WithRandomSource injects the jitter source; a nil rng disables jitter.
func WithRandomSource(rng *rand.Rand) PoolOption {
	return func(p *Pool) {
		p.rng = rng
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPool builds a stopped pool; call Start to begin processing.
func NewPool(deps PoolDependencies, options ...PoolOption) (*Pool, error) {
	if deps.Attempts == nil {
		return nil, goerrors.New("delivery: attempt store is required", goerrors.CategoryBadInput).
			WithTextCode("DISPATCH_BAD_INPUT")
	}
	if deps.Subscriptions == nil {
		return nil, goerrors.New("delivery: subscription store is required", goerrors.CategoryBadInput).
			WithTextCode("DISPATCH_BAD_INPUT")
	}
	if deps.Events == nil {
		return nil, goerrors.New("delivery: event store is required", goerrors.CategoryBadInput).
			WithTextCode("DISPATCH_BAD_INPUT")
	}
	if deps.Sender == nil {
		return nil, goerrors.New("delivery: sender is required", goerrors.CategoryBadInput).
			WithTextCode("DISPATCH_BAD_INPUT")
	}
	if deps.Schedule == nil {
		deps.Schedule = NewSchedule()
	}

	defaults := core.DefaultConfig().Delivery
	pool := &Pool{
		attempts:      deps.Attempts,
		subscriptions: deps.Subscriptions,
		events:        deps.Events,
		sender:        deps.Sender,
		schedule:      deps.Schedule,
		policy:        core.DefaultRetryPolicy(),
		workers:       defaults.Workers,
		pollInterval:  defaults.PollInterval,
		idleDelay:     defaults.IdleDelay,
		burst:         16,
		orphanAge:     5 * time.Minute,
		metrics:       core.NopMetricsRecorder{},
		now:           time.Now,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, option := range options {
		if option != nil {
			option(pool)
		}
	}
	return pool, nil
}

// Schedule exposes the pool's retry queue so dispatchers can push new work.
func (p *Pool) Schedule() *Schedule {
	if p == nil {
		return nil
	}
	return p.schedule
}

// Start recovers orphaned attempts, then launches the poller and workers.
// It returns immediately; processing stops when ctx is canceled or Stop is
// called.
func (p *Pool) Start(ctx context.Context) error {
	if p == nil {
		return goerrors.New("delivery: pool is not configured", goerrors.CategoryInternal).
			WithTextCode("DISPATCH_INTERNAL_ERROR")
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return goerrors.New("delivery: pool already started", goerrors.CategoryConflict).
			WithTextCode("DISPATCH_DELIVERY_CONFLICT")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.started = true
	p.cancel = cancel
	p.mu.Unlock()

	if recovered, err := p.attempts.RecoverOrphans(runCtx, p.now().Add(-p.orphanAge)); err != nil {
		p.logError(runCtx, "orphan recovery failed", map[string]any{"error": err.Error()})
	} else if recovered > 0 {
		p.logInfo(runCtx, "orphaned attempts re-queued", map[string]any{"count": recovered})
		p.incCounter(runCtx, "dispatch.delivery.orphans_recovered", int64(recovered), nil)
	}

	p.wg.Add(1)
	go p.poll(runCtx)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(runCtx, i)
	}

	p.logInfo(runCtx, "delivery pool started", map[string]any{
		"workers":       p.workers,
		"poll_interval": p.pollInterval.String(),
	})
	return nil
}

// Stop cancels processing and waits for in-flight attempts to settle.
func (p *Pool) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	cancel := p.cancel
	p.started = false
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// poll sweeps the store for due attempts and feeds them into the schedule.
// The sweep also picks up rows pushed by other processes or left behind by
// a restart, so the in-memory schedule never has to be durable.
func (p *Pool) poll(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := p.now()
			due, err := p.attempts.DueBefore(ctx, now, p.burst)
			if err != nil {
				p.logError(ctx, "due sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			for _, attempt := range due {
				p.schedule.PushDue(attempt.ID, now)
			}
		}
	}
}

func (p *Pool) run(ctx context.Context, worker int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		attemptID, ok := p.schedule.PopReady(p.now())
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idleDelay):
			}
			continue
		}
		p.processAttempt(ctx, worker, attemptID)
	}
}

// processAttempt claims one attempt and drives it through a single
// delivery cycle. A lost claim means another worker or process already
// owns the row; that is not an error.
func (p *Pool) processAttempt(ctx context.Context, worker int, attemptID string) {
	startedAt := p.now()
	attempt, claimed, err := p.attempts.Claim(ctx, attemptID)
	if err != nil {
		p.logError(ctx, "claim failed", map[string]any{
			"attempt_id": attemptID,
			"error":      err.Error(),
		})
		return
	}
	if !claimed {
		return
	}

	hookEvent := core.DeliveryWorkerEvent{
		AttemptID: attempt.ID,
		EventID:   attempt.EventID,
		PartnerID: attempt.PartnerID,
		Attempt:   attempt.AttemptCount,
		StartedAt: startedAt,
	}
	p.fireHooks(ctx, hookEvent, func(h core.DeliveryWorkerHook, e core.DeliveryWorkerEvent) { h.OnStart(ctx, e) })

	outcome := p.execute(ctx, attempt)
	hookEvent.Duration = p.now().Sub(startedAt)

	fields := map[string]any{
		"attempt_id":    attempt.ID,
		"event_id":      attempt.EventID,
		"partner_id":    attempt.PartnerID,
		"attempt_count": attempt.AttemptCount,
		"worker":        worker,
		"duration_ms":   hookEvent.Duration.Milliseconds(),
	}
	if outcome.ResponseCode != nil {
		fields["response_code"] = *outcome.ResponseCode
	}

	switch outcome.Class {
	case OutcomeDelivered:
		code := 0
		if outcome.ResponseCode != nil {
			code = *outcome.ResponseCode
		}
		if err := p.attempts.MarkDelivered(ctx, attempt.ID, code); err != nil {
			p.logError(ctx, "mark delivered failed", mergeFields(fields, map[string]any{"error": err.Error()}))
			return
		}
		p.incCounter(ctx, "dispatch.delivery.total", 1, map[string]string{"status": "delivered", "partner_id": attempt.PartnerID})
		p.logInfo(ctx, "delivery succeeded", fields)
		p.fireHooks(ctx, hookEvent, func(h core.DeliveryWorkerHook, e core.DeliveryWorkerEvent) { h.OnSuccess(ctx, e) })

	case OutcomeRetryable:
		cause := goerrors.New(outcome.Cause, goerrors.CategoryExternal)
		if outcome.ResponseCode != nil && *outcome.ResponseCode == 429 {
			cause = cause.WithTextCode("DISPATCH_RATE_LIMITED")
		}
		if p.policy.Exhausted(attempt.AttemptCount) {
			exhausted := goerrors.Wrap(cause, goerrors.CategoryExternal,
				fmt.Sprintf("retries exhausted after %d attempts", attempt.AttemptCount))
			if err := p.attempts.MarkFailed(ctx, attempt.ID, exhausted, outcome.ResponseCode); err != nil {
				p.logError(ctx, "mark failed failed", mergeFields(fields, map[string]any{"error": err.Error()}))
				return
			}
			hookEvent.Err = exhausted
			p.incCounter(ctx, "dispatch.delivery.total", 1, map[string]string{"status": "failed", "partner_id": attempt.PartnerID})
			p.logError(ctx, "delivery exhausted", mergeFields(fields, map[string]any{"cause": outcome.Cause}))
			p.fireHooks(ctx, hookEvent, func(h core.DeliveryWorkerHook, e core.DeliveryWorkerEvent) { h.OnFailure(ctx, e) })
			return
		}
		delay := p.nextDelay(attempt.AttemptCount)
		nextAt := p.now().Add(delay)
		if err := p.attempts.MarkRetryScheduled(ctx, attempt.ID, cause, outcome.ResponseCode, nextAt); err != nil {
			p.logError(ctx, "mark retry failed", mergeFields(fields, map[string]any{"error": err.Error()}))
			return
		}
		p.schedule.PushDue(attempt.ID, nextAt)
		hookEvent.Err = cause
		hookEvent.Delay = delay
		p.incCounter(ctx, "dispatch.delivery.total", 1, map[string]string{"status": "retry_scheduled", "partner_id": attempt.PartnerID})
		p.logInfo(ctx, "delivery scheduled for retry", mergeFields(fields, map[string]any{
			"cause":    outcome.Cause,
			"delay_ms": delay.Milliseconds(),
		}))
		p.fireHooks(ctx, hookEvent, func(h core.DeliveryWorkerHook, e core.DeliveryWorkerEvent) { h.OnRetry(ctx, e) })

	default:
		cause := goerrors.New(outcome.Cause, goerrors.CategoryExternal)
		if err := p.attempts.MarkFailed(ctx, attempt.ID, cause, outcome.ResponseCode); err != nil {
			p.logError(ctx, "mark failed failed", mergeFields(fields, map[string]any{"error": err.Error()}))
			return
		}
		hookEvent.Err = cause
		p.incCounter(ctx, "dispatch.delivery.total", 1, map[string]string{"status": "failed", "partner_id": attempt.PartnerID})
		p.logError(ctx, "delivery failed permanently", mergeFields(fields, map[string]any{"cause": outcome.Cause}))
		p.fireHooks(ctx, hookEvent, func(h core.DeliveryWorkerHook, e core.DeliveryWorkerEvent) { h.OnFailure(ctx, e) })
	}
}

// execute loads the event and subscription and performs the outbound call.
// Local failures are folded into an Outcome so processAttempt has a single
// settlement path.
func (p *Pool) execute(ctx context.Context, attempt core.DeliveryAttempt) Outcome {
	event, err := p.events.Get(ctx, attempt.EventID)
	if err != nil {
		return Outcome{Class: OutcomePermanent, Cause: "event not found: " + err.Error()}
	}
	sub, err := p.subscriptions.Get(ctx, attempt.PartnerID)
	if err != nil {
		return Outcome{Class: OutcomePermanent, Cause: "subscription not found: " + err.Error()}
	}
	// Deactivation between enqueue and delivery fails the attempt rather
	// than calling an endpoint the partner no longer wants.
	if !sub.Active {
		return Outcome{Class: OutcomePermanent, Cause: "subscription inactive"}
	}

	outcome, err := p.sender.Send(ctx, sub, event)
	if err != nil {
		return Outcome{Class: OutcomePermanent, Cause: err.Error()}
	}
	return outcome
}

func (p *Pool) nextDelay(attemptCount int) time.Duration {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return core.NextAttemptDelay(attemptCount, p.policy, p.rng)
}

func (p *Pool) fireHooks(ctx context.Context, event core.DeliveryWorkerEvent, fire func(core.DeliveryWorkerHook, core.DeliveryWorkerEvent)) {
	for _, hook := range p.hooks {
		if hook != nil {
			fire(hook, event)
		}
	}
}

func (p *Pool) incCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if p == nil || p.metrics == nil {
		return
	}
	p.metrics.IncCounter(ctx, name, value, tags)
}

func (p *Pool) logInfo(ctx context.Context, message string, fields map[string]any) {
	p.logWithLevel(ctx, "info", message, fields)
}

func (p *Pool) logError(ctx context.Context, message string, fields map[string]any) {
	p.logWithLevel(ctx, "error", message, fields)
}

func (p *Pool) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if p == nil || p.logger == nil {
		return
	}
	logger := p.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func mergeFields(base map[string]any, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
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
