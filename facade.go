package dispatch

import (
	"fmt"

	dispatchcommand "github.com/goliatone/go-dispatch/command"
	dispatchquery "github.com/goliatone/go-dispatch/query"
)

// CommandQueryService is the surface the facade wires commands and queries
// against. *core.Service satisfies it.
type CommandQueryService interface {
	dispatchcommand.MutatingService
	dispatchquery.AttemptReader
	dispatchquery.CatalogReader
	dispatchquery.SubscriptionReader
	dispatchquery.DeliveryLogReader
}

type Commands struct {
	DispatchEvent      *dispatchcommand.DispatchEventCommand
	TriggerEvent       *dispatchcommand.TriggerEventCommand
	UpsertSubscription *dispatchcommand.UpsertSubscriptionCommand
}

type Queries struct {
	ListDeliveries     *dispatchquery.ListDeliveriesQuery
	GetDeliveryAttempt *dispatchquery.GetDeliveryAttemptQuery
	GetAttemptHistory  *dispatchquery.GetAttemptHistoryQuery
	ListEventTypes     *dispatchquery.ListEventTypesQuery
	GetSubscription    *dispatchquery.GetSubscriptionQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	logReader dispatchquery.DeliveryLogReader
}

// WithFacadeLogReader routes the delivery log query to a dedicated reader
// instead of the service itself.
func WithFacadeLogReader(reader dispatchquery.DeliveryLogReader) FacadeOption {
	return func(options *facadeOptions) {
		options.logReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.logReader
	if reader == nil {
		reader = service
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		DispatchEvent:      dispatchcommand.NewDispatchEventCommand(service),
		TriggerEvent:       dispatchcommand.NewTriggerEventCommand(service),
		UpsertSubscription: dispatchcommand.NewUpsertSubscriptionCommand(service),
	}
	facade.queries = Queries{
		ListDeliveries:     dispatchquery.NewListDeliveriesQuery(reader),
		GetDeliveryAttempt: dispatchquery.NewGetDeliveryAttemptQuery(service),
		GetAttemptHistory:  dispatchquery.NewGetAttemptHistoryQuery(service),
		ListEventTypes:     dispatchquery.NewListEventTypesQuery(service),
		GetSubscription:    dispatchquery.NewGetSubscriptionQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
