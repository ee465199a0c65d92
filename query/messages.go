package query

import (
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TypeListDeliveries     = "dispatch.query.deliveries.list"
	TypeGetDeliveryAttempt = "dispatch.query.attempt.get"
	TypeGetAttemptHistory  = "dispatch.query.attempt.history"
	TypeListEventTypes     = "dispatch.query.catalog.list"
	TypeGetSubscription    = "dispatch.query.subscription.get"
)

type ListDeliveriesMessage struct {
	Filter core.DeliveryLogFilter
}

func (ListDeliveriesMessage) Type() string { return TypeListDeliveries }

func (m ListDeliveriesMessage) Validate() error {
	if strings.TrimSpace(m.Filter.PartnerID) == "" {
		return queryValidationError("partner_id", "partner id is required")
	}
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	if status := strings.TrimSpace(m.Filter.Status); status != "" && status != "all" {
		if !core.AttemptStatus(status).Valid() {
			return queryValidationError("status", "unknown delivery status")
		}
	}
	if m.Filter.Sort != "" && m.Filter.Sort != core.SortAsc && m.Filter.Sort != core.SortDesc {
		return queryValidationError("sort", "sort must be asc or desc")
	}
	return nil
}

type GetDeliveryAttemptMessage struct {
	AttemptID string
}

func (GetDeliveryAttemptMessage) Type() string { return TypeGetDeliveryAttempt }

func (m GetDeliveryAttemptMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return queryValidationError("attempt_id", "attempt id is required")
	}
	return nil
}

type GetAttemptHistoryMessage struct {
	AttemptID string
}

func (GetAttemptHistoryMessage) Type() string { return TypeGetAttemptHistory }

func (m GetAttemptHistoryMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return queryValidationError("attempt_id", "attempt id is required")
	}
	return nil
}

type ListEventTypesMessage struct{}

func (ListEventTypesMessage) Type() string { return TypeListEventTypes }

func (ListEventTypesMessage) Validate() error { return nil }

type GetSubscriptionMessage struct {
	PartnerID string
}

func (GetSubscriptionMessage) Type() string { return TypeGetSubscription }

func (m GetSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.PartnerID) == "" {
		return queryValidationError("partner_id", "partner id is required")
	}
	return nil
}
