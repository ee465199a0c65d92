package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// PayloadSigner produces the authentication tag carried on every outbound
// delivery. Sign is deterministic over (body, secret) so operators can
// re-verify deliveries independently.
type PayloadSigner interface {
	Sign(body []byte, secret string) (string, error)
	Verify(body []byte, secret string, tag string) error
}

type EventStore interface {
	Create(ctx context.Context, event Event) error
	Get(ctx context.Context, id string) (Event, error)
}

// SubscriptionStore resolves which partners want an event type. Resolve
// returns only active subscriptions; an empty result is not an error.
type SubscriptionStore interface {
	Upsert(ctx context.Context, in UpsertSubscriptionInput) (Subscription, error)
	Get(ctx context.Context, partnerID string) (Subscription, error)
	Resolve(ctx context.Context, eventType string) ([]Subscription, error)
}

// AttemptStore owns delivery attempt rows and their transition history.
//
// Create is idempotent on (event_id, partner_id): when a row already exists
// for the pair the existing attempt is returned with created=false.
//
// Claim performs the queued|retry_scheduled -> delivering transition as an
// atomic compare-and-set, incrementing the attempt count; at most one caller
// wins per claim. Terminal rows never match.
//
// The Mark* transitions append an immutable history entry in the same unit
// of work as the current-row update.
type AttemptStore interface {
	Create(ctx context.Context, in CreateAttemptInput) (attempt DeliveryAttempt, created bool, err error)
	Get(ctx context.Context, id string) (DeliveryAttempt, error)
	Claim(ctx context.Context, id string) (attempt DeliveryAttempt, claimed bool, err error)
	MarkDelivered(ctx context.Context, id string, responseCode int) error
	MarkRetryScheduled(ctx context.Context, id string, cause error, responseCode *int, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id string, cause error, responseCode *int) error
	History(ctx context.Context, attemptID string) ([]AttemptTransition, error)
	// DueBefore lists retry_scheduled and queued attempts whose next due
	// time has elapsed, oldest first.
	DueBefore(ctx context.Context, now time.Time, limit int) ([]DeliveryAttempt, error)
	// RecoverOrphans re-queues delivering rows older than olderThan; no
	// live worker can still hold them after a restart.
	RecoverOrphans(ctx context.Context, olderThan time.Time) (int, error)
}

// DeliveryLogReader answers the partner-facing audit query.
type DeliveryLogReader interface {
	List(ctx context.Context, filter DeliveryLogFilter) (DeliveryLogPage, error)
}

// AttemptQueue is the retry scheduler's write side: the dispatcher pushes
// every new or rescheduled attempt with its due time.
type AttemptQueue interface {
	PushDue(attemptID string, when time.Time)
}

// DeliveryWorkerHook observes attempt execution from the worker pool.
type DeliveryWorkerHook interface {
	OnStart(ctx context.Context, event DeliveryWorkerEvent)
	OnSuccess(ctx context.Context, event DeliveryWorkerEvent)
	OnFailure(ctx context.Context, event DeliveryWorkerEvent)
	OnRetry(ctx context.Context, event DeliveryWorkerEvent)
}

type DeliveryWorkerEvent struct {
	AttemptID string
	EventID   string
	PartnerID string
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

// StoreProvider hands the service its persistence-backed stores.
type StoreProvider interface {
	EventStore() EventStore
	SubscriptionStore() SubscriptionStore
	AttemptStore() AttemptStore
	DeliveryLogReader() DeliveryLogReader
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}
