package core

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the dispatch engine's orchestration surface: event ingestion,
// subscription fan-out, the sandbox trigger, and the delivery log query.
// It owns no goroutines; the delivery worker pool is constructed separately
// and shares the same stores.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	eventStore        EventStore
	subscriptionStore SubscriptionStore
	attemptStore      AttemptStore
	logReader         DeliveryLogReader
	queue             AttemptQueue
	signer            PayloadSigner
	catalog           catalog
	now               func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	EventStore        EventStore
	SubscriptionStore SubscriptionStore
	AttemptStore      AttemptStore
	DeliveryLogReader DeliveryLogReader
	AttemptQueue      AttemptQueue
	Signer            PayloadSigner
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("dispatch", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("dispatch"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.signer == nil {
		builder.signer = HMACSigner{}
	}
	if builder.now == nil {
		builder.now = func() time.Time {
			return time.Now().UTC()
		}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			provider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if provider != nil {
				if builder.eventStore == nil {
					builder.eventStore = provider.EventStore()
				}
				if builder.subscriptionStore == nil {
					builder.subscriptionStore = provider.SubscriptionStore()
				}
				if builder.attemptStore == nil {
					builder.attemptStore = provider.AttemptStore()
				}
				if builder.logReader == nil {
					builder.logReader = provider.DeliveryLogReader()
				}
			}
		} else if provider, ok := builder.repositoryFactory.(StoreProvider); ok {
			if builder.eventStore == nil {
				builder.eventStore = provider.EventStore()
			}
			if builder.subscriptionStore == nil {
				builder.subscriptionStore = provider.SubscriptionStore()
			}
			if builder.attemptStore == nil {
				builder.attemptStore = provider.AttemptStore()
			}
			if builder.logReader == nil {
				builder.logReader = provider.DeliveryLogReader()
			}
		}
	}
	if builder.eventStore == nil {
		builder.eventStore = NewMemoryEventStore()
	}
	if builder.subscriptionStore == nil {
		builder.subscriptionStore = NewMemorySubscriptionRegistry()
	}
	if builder.attemptStore == nil {
		memoryEvents, _ := builder.eventStore.(*MemoryEventStore)
		memoryStore := NewMemoryAttemptStore(memoryEvents)
		builder.attemptStore = memoryStore
		if builder.logReader == nil {
			builder.logReader = memoryStore
		}
	}
	if builder.logReader == nil {
		if reader, ok := builder.attemptStore.(DeliveryLogReader); ok {
			builder.logReader = reader
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		eventStore:        builder.eventStore,
		subscriptionStore: builder.subscriptionStore,
		attemptStore:      builder.attemptStore,
		logReader:         builder.logReader,
		queue:             builder.queue,
		signer:            builder.signer,
		catalog:           newCatalog(builder.catalog),
		now:               builder.now,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// RetryPolicy returns the backoff bounds resolved from configuration.
func (s *Service) RetryPolicy() RetryPolicy {
	if s == nil {
		return DefaultRetryPolicy()
	}
	return RetryPolicy{
		BaseDelay:   s.config.Delivery.BaseDelay,
		MaxDelay:    s.config.Delivery.MaxDelay,
		MaxAttempts: s.config.Delivery.MaxAttempts,
	}
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		EventStore:        s.eventStore,
		SubscriptionStore: s.subscriptionStore,
		AttemptStore:      s.attemptStore,
		DeliveryLogReader: s.logReader,
		AttemptQueue:      s.queue,
		Signer:            s.signer,
	}
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
