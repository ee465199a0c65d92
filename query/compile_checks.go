package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

var (
	_ gocmd.Querier[ListDeliveriesMessage, core.DeliveryLogPage]        = (*ListDeliveriesQuery)(nil)
	_ gocmd.Querier[GetDeliveryAttemptMessage, core.DeliveryAttempt]    = (*GetDeliveryAttemptQuery)(nil)
	_ gocmd.Querier[GetAttemptHistoryMessage, []core.AttemptTransition] = (*GetAttemptHistoryQuery)(nil)
	_ gocmd.Querier[ListEventTypesMessage, []core.EventDefinition]      = (*ListEventTypesQuery)(nil)
	_ gocmd.Querier[GetSubscriptionMessage, core.Subscription]          = (*GetSubscriptionQuery)(nil)
)
