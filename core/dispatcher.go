package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dispatch ingests one domain event and fans it out to every matching
// active subscription. Attempt creation is idempotent on (event id, partner
// id): redelivering the same event never duplicates records. Delivery
// failures are not surfaced here; once attempts are queued the producer's
// call has succeeded and outcomes are visible only through the delivery log.
func (s *Service) Dispatch(ctx context.Context, in EventInput) (result DispatchResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"event_type": in.Type,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "dispatch", err, fields)
	}()

	if s == nil || s.eventStore == nil || s.subscriptionStore == nil || s.attemptStore == nil {
		err = s.mapError(fmt.Errorf("core: dispatch service is not configured"))
		return DispatchResult{}, err
	}

	eventType := strings.TrimSpace(in.Type)
	if eventType == "" {
		err = s.mapError(fmt.Errorf("core: event type is required"))
		return DispatchResult{}, err
	}

	eventID := strings.TrimSpace(in.ID)
	if eventID == "" {
		eventID = uuid.NewString()
	}
	fields["event_id"] = eventID

	subscriptions, err := s.subscriptionStore.Resolve(ctx, eventType)
	if err != nil {
		err = s.mapError(err)
		return DispatchResult{}, err
	}

	// unsignable events must not enter the pipeline at all
	for _, subscription := range subscriptions {
		if strings.TrimSpace(subscription.Secret) == "" {
			err = s.mapError(fmt.Errorf(
				"core: subscription for partner %q has no signing secret",
				subscription.PartnerID,
			))
			return DispatchResult{}, err
		}
	}

	event := Event{
		ID:         eventID,
		Type:       eventType,
		Payload:    copyAnyMap(in.Payload),
		OccurredAt: s.clock(),
	}
	if err = s.eventStore.Create(ctx, event); err != nil {
		err = s.mapError(err)
		return DispatchResult{}, err
	}

	result = DispatchResult{
		EventID: eventID,
		Matched: len(subscriptions),
	}
	if len(subscriptions) == 0 {
		s.logInfo(ctx, "event has no subscribers", map[string]any{
			"event_id":   eventID,
			"event_type": eventType,
		})
		return result, nil
	}

	now := s.clock()
	for _, subscription := range subscriptions {
		attempt, created, createErr := s.attemptStore.Create(ctx, CreateAttemptInput{
			EventID:   eventID,
			PartnerID: subscription.PartnerID,
		})
		if createErr != nil {
			err = s.mapError(createErr)
			return DispatchResult{}, err
		}
		result.AttemptIDs = append(result.AttemptIDs, attempt.ID)
		if !created {
			continue
		}
		result.Created++
		if s.queue != nil {
			s.queue.PushDue(attempt.ID, now)
		}
	}
	fields["attempts_created"] = result.Created
	return result, nil
}

// TriggerEvent is the operator-only sandbox path: it synthesizes the
// catalog sample payload for eventType when none is supplied, then runs the
// regular ingestion path.
func (s *Service) TriggerEvent(
	ctx context.Context,
	eventType string,
	payload map[string]any,
) (result DispatchResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"event_type": eventType,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "trigger_event", err, fields)
	}()

	if s == nil {
		err = dispatchErrorMapper(fmt.Errorf("core: dispatch service is not configured"))
		return DispatchResult{}, err
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		err = s.mapError(fmt.Errorf("core: event type is required"))
		return DispatchResult{}, err
	}
	if payload == nil {
		sample, ok := s.catalog.sample(eventType)
		if !ok {
			err = s.mapError(fmt.Errorf("core: no sample payload for unknown event type %q", eventType))
			return DispatchResult{}, err
		}
		payload = sample
	}
	return s.Dispatch(ctx, EventInput{Type: eventType, Payload: payload})
}

// ListDeliveries answers the partner-facing audit query with the effective
// page window echoed back.
func (s *Service) ListDeliveries(ctx context.Context, filter DeliveryLogFilter) (page DeliveryLogPage, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"partner_id": filter.PartnerID,
		"status":     filter.Status,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "list_deliveries", err, fields)
	}()

	if s == nil || s.logReader == nil {
		err = s.mapError(fmt.Errorf("core: delivery log reader is not configured"))
		return DeliveryLogPage{}, err
	}
	if strings.TrimSpace(filter.PartnerID) == "" {
		err = s.mapError(fmt.Errorf("core: partner id is required"))
		return DeliveryLogPage{}, err
	}
	if status := strings.TrimSpace(filter.Status); status != "" && status != "all" {
		if !AttemptStatus(status).Valid() {
			err = s.mapError(fmt.Errorf("core: invalid status filter %q", status))
			return DeliveryLogPage{}, err
		}
	}
	if filter.Sort != "" && filter.Sort != SortAsc && filter.Sort != SortDesc {
		err = s.mapError(fmt.Errorf("core: invalid sort direction %q", filter.Sort))
		return DeliveryLogPage{}, err
	}
	filter.Limit, filter.Offset = NormalizePage(filter.Limit, filter.Offset, s.config.Log)

	page, err = s.logReader.List(ctx, filter)
	if err != nil {
		err = s.mapError(err)
		return DeliveryLogPage{}, err
	}
	return page, nil
}

func (s *Service) GetAttempt(ctx context.Context, id string) (DeliveryAttempt, error) {
	if s == nil || s.attemptStore == nil {
		return DeliveryAttempt{}, s.mapError(fmt.Errorf("core: attempt store is not configured"))
	}
	if strings.TrimSpace(id) == "" {
		return DeliveryAttempt{}, s.mapError(fmt.Errorf("core: attempt id is required"))
	}
	attempt, err := s.attemptStore.Get(ctx, id)
	if err != nil {
		return DeliveryAttempt{}, s.mapError(err)
	}
	return attempt, nil
}

func (s *Service) AttemptHistory(ctx context.Context, attemptID string) ([]AttemptTransition, error) {
	if s == nil || s.attemptStore == nil {
		return nil, s.mapError(fmt.Errorf("core: attempt store is not configured"))
	}
	if strings.TrimSpace(attemptID) == "" {
		return nil, s.mapError(fmt.Errorf("core: attempt id is required"))
	}
	history, err := s.attemptStore.History(ctx, attemptID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return history, nil
}

// Catalog lists the known event types with a sample payload each, sorted by
// type for stable partner-facing output.
func (s *Service) Catalog() []EventDefinition {
	if s == nil {
		return nil
	}
	return s.catalog.list()
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
