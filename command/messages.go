package command

import (
	"net/url"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TypeDispatchEvent      = "dispatch.command.event.dispatch"
	TypeTriggerEvent       = "dispatch.command.event.trigger"
	TypeUpsertSubscription = "dispatch.command.subscription.upsert"
)

type DispatchEventMessage struct {
	Input core.EventInput
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if strings.TrimSpace(m.Input.Type) == "" {
		return commandValidationError("type", "event type is required")
	}
	return nil
}

// TriggerEventMessage drives the sandbox path; a nil payload asks the
// service to substitute the catalog sample for the event type.
type TriggerEventMessage struct {
	EventType string
	Payload   map[string]any
}

func (TriggerEventMessage) Type() string { return TypeTriggerEvent }

func (m TriggerEventMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return commandValidationError("event_type", "event type is required")
	}
	return nil
}

type UpsertSubscriptionMessage struct {
	Input core.UpsertSubscriptionInput
}

func (UpsertSubscriptionMessage) Type() string { return TypeUpsertSubscription }

func (m UpsertSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.Input.PartnerID) == "" {
		return commandValidationError("partner_id", "partner id is required")
	}
	endpoint := strings.TrimSpace(m.Input.EndpointURL)
	if endpoint == "" {
		return commandValidationError("endpoint_url", "endpoint url is required")
	}
	if parsed, err := url.Parse(endpoint); err != nil || parsed.Host == "" ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") {
		return commandValidationError("endpoint_url", "endpoint url must be an absolute http(s) url")
	}
	if strings.TrimSpace(m.Input.Secret) == "" {
		return commandValidationError("secret", "signing secret is required")
	}
	if len(core.NewEventTypeSet(m.Input.EventTypes...)) == 0 {
		return commandValidationError("event_types", "at least one event type is required")
	}
	return nil
}
