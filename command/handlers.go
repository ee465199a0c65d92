package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

type MutatingService interface {
	Dispatch(ctx context.Context, in core.EventInput) (core.DispatchResult, error)
	TriggerEvent(ctx context.Context, eventType string, payload map[string]any) (core.DispatchResult, error)
	UpsertSubscription(ctx context.Context, in core.UpsertSubscriptionInput) (core.Subscription, error)
}

type DispatchEventCommand struct {
	service MutatingService
}

func NewDispatchEventCommand(service MutatingService) *DispatchEventCommand {
	return &DispatchEventCommand{service: service}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.Dispatch(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TriggerEventCommand struct {
	service MutatingService
}

func NewTriggerEventCommand(service MutatingService) *TriggerEventCommand {
	return &TriggerEventCommand{service: service}
}

func (c *TriggerEventCommand) Execute(ctx context.Context, msg TriggerEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: trigger service is required")
	}
	out, err := c.service.TriggerEvent(ctx, msg.EventType, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpsertSubscriptionCommand struct {
	service MutatingService
}

func NewUpsertSubscriptionCommand(service MutatingService) *UpsertSubscriptionCommand {
	return &UpsertSubscriptionCommand{service: service}
}

func (c *UpsertSubscriptionCommand) Execute(ctx context.Context, msg UpsertSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	out, err := c.service.UpsertSubscription(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
