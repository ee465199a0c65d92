package query

import (
	"context"

	"github.com/goliatone/go-dispatch/core"
)

type DeliveryLogReader interface {
	ListDeliveries(ctx context.Context, filter core.DeliveryLogFilter) (core.DeliveryLogPage, error)
}

type AttemptReader interface {
	GetAttempt(ctx context.Context, id string) (core.DeliveryAttempt, error)
	AttemptHistory(ctx context.Context, attemptID string) ([]core.AttemptTransition, error)
}

type CatalogReader interface {
	Catalog() []core.EventDefinition
}

type SubscriptionReader interface {
	GetSubscription(ctx context.Context, partnerID string) (core.Subscription, error)
}

type ListDeliveriesQuery struct {
	reader DeliveryLogReader
}

func NewListDeliveriesQuery(reader DeliveryLogReader) *ListDeliveriesQuery {
	return &ListDeliveriesQuery{reader: reader}
}

func (q *ListDeliveriesQuery) Query(
	ctx context.Context,
	msg ListDeliveriesMessage,
) (core.DeliveryLogPage, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryLogPage{}, queryDependencyError("query: delivery log reader is required")
	}
	return q.reader.ListDeliveries(ctx, msg.Filter)
}

type GetDeliveryAttemptQuery struct {
	reader AttemptReader
}

func NewGetDeliveryAttemptQuery(reader AttemptReader) *GetDeliveryAttemptQuery {
	return &GetDeliveryAttemptQuery{reader: reader}
}

func (q *GetDeliveryAttemptQuery) Query(
	ctx context.Context,
	msg GetDeliveryAttemptMessage,
) (core.DeliveryAttempt, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryAttempt{}, queryDependencyError("query: attempt reader is required")
	}
	return q.reader.GetAttempt(ctx, msg.AttemptID)
}

type GetAttemptHistoryQuery struct {
	reader AttemptReader
}

func NewGetAttemptHistoryQuery(reader AttemptReader) *GetAttemptHistoryQuery {
	return &GetAttemptHistoryQuery{reader: reader}
}

func (q *GetAttemptHistoryQuery) Query(
	ctx context.Context,
	msg GetAttemptHistoryMessage,
) ([]core.AttemptTransition, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: attempt reader is required")
	}
	return q.reader.AttemptHistory(ctx, msg.AttemptID)
}

type ListEventTypesQuery struct {
	reader CatalogReader
}

func NewListEventTypesQuery(reader CatalogReader) *ListEventTypesQuery {
	return &ListEventTypesQuery{reader: reader}
}

func (q *ListEventTypesQuery) Query(
	ctx context.Context,
	msg ListEventTypesMessage,
) ([]core.EventDefinition, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: event catalog reader is required")
	}
	return q.reader.Catalog(), nil
}

type GetSubscriptionQuery struct {
	reader SubscriptionReader
}

func NewGetSubscriptionQuery(reader SubscriptionReader) *GetSubscriptionQuery {
	return &GetSubscriptionQuery{reader: reader}
}

func (q *GetSubscriptionQuery) Query(
	ctx context.Context,
	msg GetSubscriptionMessage,
) (core.Subscription, error) {
	if q == nil || q.reader == nil {
		return core.Subscription{}, queryDependencyError("query: subscription reader is required")
	}
	return q.reader.GetSubscription(ctx, msg.PartnerID)
}
