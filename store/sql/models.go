package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type eventRecord struct {
	bun.BaseModel `bun:"table:dispatch_events,alias:de"`

	ID         string         `bun:"id,pk"`
	EventType  string         `bun:"event_type,notnull"`
	Payload    map[string]any `bun:"payload,type:jsonb,notnull"`
	OccurredAt time.Time      `bun:"occurred_at,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type partnerSubscriptionRecord struct {
	bun.BaseModel `bun:"table:partner_subscriptions,alias:ps"`

	ID          string    `bun:"id,pk"`
	PartnerID   string    `bun:"partner_id,notnull,unique"`
	EndpointURL string    `bun:"endpoint_url,notnull"`
	Secret      string    `bun:"secret,notnull"`
	EventTypes  []string  `bun:"event_types,type:jsonb,notnull"`
	Active      bool      `bun:"active,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// deliveryAttemptRecord rows are unique on (event_id, partner_id); the
// schema carries the constraint and Create leans on it for idempotency.
type deliveryAttemptRecord struct {
	bun.BaseModel `bun:"table:delivery_attempts,alias:da"`

	ID               string     `bun:"id,pk"`
	EventID          string     `bun:"event_id,notnull,unique:delivery_attempts_event_partner"`
	PartnerID        string     `bun:"partner_id,notnull,unique:delivery_attempts_event_partner"`
	Status           string     `bun:"status,notnull"`
	AttemptCount     int        `bun:"attempt_count,notnull"`
	NextAttemptAt    *time.Time `bun:"next_attempt_at,nullzero"`
	LastResponseCode *int       `bun:"last_response_code"`
	LastError        string     `bun:"last_error,notnull"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type attemptTransitionRecord struct {
	bun.BaseModel `bun:"table:delivery_attempt_transitions,alias:dat"`

	ID           string    `bun:"id,pk"`
	AttemptID    string    `bun:"attempt_id,notnull"`
	Status       string    `bun:"status,notnull"`
	ResponseCode *int      `bun:"response_code"`
	Error        string    `bun:"error,notnull"`
	At           time.Time `bun:"at,nullzero,notnull,default:current_timestamp"`
}
