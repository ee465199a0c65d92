package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DispatchEventMessage]      = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[TriggerEventMessage]       = (*TriggerEventCommand)(nil)
	_ gocmd.Commander[UpsertSubscriptionMessage] = (*UpsertSubscriptionCommand)(nil)
)
