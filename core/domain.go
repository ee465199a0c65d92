package core

import (
	"strings"
	"time"
)

// EventTypeWildcard matches every event type when present in a subscription's
// type set.
const EventTypeWildcard = "*"

type AttemptStatus string

const (
	AttemptStatusQueued         AttemptStatus = "queued"
	AttemptStatusDelivering     AttemptStatus = "delivering"
	AttemptStatusDelivered      AttemptStatus = "delivered"
	AttemptStatusRetryScheduled AttemptStatus = "retry_scheduled"
	AttemptStatusFailed         AttemptStatus = "failed"
)

func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptStatusQueued,
		AttemptStatusDelivering,
		AttemptStatusDelivered,
		AttemptStatusRetryScheduled,
		AttemptStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may leave this status.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusDelivered || s == AttemptStatusFailed
}

// CanTransition encodes the forward-only delivery lifecycle. Terminal
// statuses accept no outgoing edges.
func CanTransition(from AttemptStatus, to AttemptStatus) bool {
	switch from {
	case AttemptStatusQueued:
		return to == AttemptStatusDelivering
	case AttemptStatusDelivering:
		return to == AttemptStatusDelivered ||
			to == AttemptStatusRetryScheduled ||
			to == AttemptStatusFailed
	case AttemptStatusRetryScheduled:
		return to == AttemptStatusDelivering
	}
	return false
}

// Event is an immutable business fact referenced by delivery attempts.
type Event struct {
	ID         string
	Type       string
	Payload    map[string]any
	OccurredAt time.Time
}

// EventInput is the inbound ingestion shape; ID is generated when omitted.
type EventInput struct {
	ID      string
	Type    string
	Payload map[string]any
}

// EventTypeSet is an explicit set of subscribed event types.
type EventTypeSet map[string]struct{}

func NewEventTypeSet(types ...string) EventTypeSet {
	set := EventTypeSet{}
	for _, value := range types {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		set[trimmed] = struct{}{}
	}
	return set
}

// Matches reports whether the set subscribes to eventType, honoring the
// wildcard entry.
func (s EventTypeSet) Matches(eventType string) bool {
	if len(s) == 0 {
		return false
	}
	if _, ok := s[EventTypeWildcard]; ok {
		return true
	}
	_, ok := s[strings.TrimSpace(eventType)]
	return ok
}

func (s EventTypeSet) Values() []string {
	if len(s) == 0 {
		return nil
	}
	values := make([]string, 0, len(s))
	for value := range s {
		values = append(values, value)
	}
	return values
}

// Subscription is a partner's registered interest in one or more event
// types, with delivery endpoint and signing secret. Mutated only through
// subscription management; read-only to the dispatcher.
type Subscription struct {
	ID          string
	PartnerID   string
	EndpointURL string
	Secret      string
	EventTypes  EventTypeSet
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type UpsertSubscriptionInput struct {
	PartnerID   string
	EndpointURL string
	Secret      string
	EventTypes  []string
	Active      bool
}

// DeliveryAttempt tracks one partner's receipt of one event through retries.
// Exactly one attempt exists per (event, partner) pair.
type DeliveryAttempt struct {
	ID               string
	EventID          string
	PartnerID        string
	Status           AttemptStatus
	AttemptCount     int
	NextAttemptAt    *time.Time
	LastResponseCode *int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AttemptTransition is an immutable audit entry appended on every status
// change; the partner-facing delivery log exposes these alongside the
// current row.
type AttemptTransition struct {
	ID           string
	AttemptID    string
	Status       AttemptStatus
	ResponseCode *int
	Error        string
	At           time.Time
}

type CreateAttemptInput struct {
	EventID   string
	PartnerID string
}

// DispatchResult reports the outcome of ingesting one event.
type DispatchResult struct {
	EventID    string
	AttemptIDs []string
	Created    int
	Matched    int
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// DeliveryLogFilter selects delivery records for one partner. Status "all"
// or empty disables the status filter; Query matches event type and payload
// summary.
type DeliveryLogFilter struct {
	PartnerID string
	Status    string
	Query     string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
	Sort      SortDirection
}

// DeliveryLogEntry is one projected attempt row with its event context.
type DeliveryLogEntry struct {
	Attempt   DeliveryAttempt
	EventType string
	Summary   string
}

// DeliveryLogPage echoes the effective limit/offset so clients can page
// reliably; Total counts the full filtered set independent of the window.
type DeliveryLogPage struct {
	Items  []DeliveryLogEntry
	Total  int
	Limit  int
	Offset int
}

// EventDefinition describes one known event type for partner onboarding;
// Sample is illustrative only and not part of the delivery contract.
type EventDefinition struct {
	Type        string
	Description string
	Sample      map[string]any
}
