package dispatch

import "github.com/goliatone/go-dispatch/core"

type Config = core.Config

type DeliveryConfig = core.DeliveryConfig

type LogConfig = core.LogConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type EventStore = core.EventStore
type SubscriptionStore = core.SubscriptionStore
type AttemptStore = core.AttemptStore
type DeliveryLogReader = core.DeliveryLogReader
type AttemptQueue = core.AttemptQueue
type PayloadSigner = core.PayloadSigner
type MetricsRecorder = core.MetricsRecorder

type Event = core.Event
type EventInput = core.EventInput
type Subscription = core.Subscription
type UpsertSubscriptionInput = core.UpsertSubscriptionInput
type DeliveryAttempt = core.DeliveryAttempt
type AttemptTransition = core.AttemptTransition
type AttemptStatus = core.AttemptStatus
type DispatchResult = core.DispatchResult
type DeliveryLogFilter = core.DeliveryLogFilter
type DeliveryLogPage = core.DeliveryLogPage
type EventDefinition = core.EventDefinition
type RetryPolicy = core.RetryPolicy

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithEventStore        = core.WithEventStore
	WithSubscriptionStore = core.WithSubscriptionStore
	WithAttemptStore      = core.WithAttemptStore
	WithDeliveryLogReader = core.WithDeliveryLogReader
	WithAttemptQueue      = core.WithAttemptQueue
	WithSigner            = core.WithSigner
	WithCatalog           = core.WithCatalog
	WithRuntimeConfig     = core.WithRuntimeConfig
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
