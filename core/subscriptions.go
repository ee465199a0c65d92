package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// UpsertSubscription registers or replaces a partner's subscription. One
// subscription exists per partner; repeating a partner id overwrites the
// endpoint, secret, and event type set while keeping the subscription id.
func (s *Service) UpsertSubscription(
	ctx context.Context,
	in UpsertSubscriptionInput,
) (subscription Subscription, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"partner_id": in.PartnerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "upsert_subscription", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil {
		err = s.mapError(fmt.Errorf("core: subscription store is not configured"))
		return Subscription{}, err
	}
	if strings.TrimSpace(in.PartnerID) == "" {
		err = s.mapError(fmt.Errorf("core: partner id is required"))
		return Subscription{}, err
	}
	endpoint := strings.TrimSpace(in.EndpointURL)
	if endpoint == "" {
		err = s.mapError(fmt.Errorf("core: endpoint url is required"))
		return Subscription{}, err
	}
	parsed, parseErr := url.Parse(endpoint)
	if parseErr != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		err = s.mapError(fmt.Errorf("core: invalid endpoint url %q", endpoint))
		return Subscription{}, err
	}
	if strings.TrimSpace(in.Secret) == "" {
		err = s.mapError(fmt.Errorf("core: signing secret is required"))
		return Subscription{}, err
	}
	if len(NewEventTypeSet(in.EventTypes...)) == 0 {
		err = s.mapError(fmt.Errorf("core: at least one event type is required"))
		return Subscription{}, err
	}

	subscription, err = s.subscriptionStore.Upsert(ctx, in)
	if err != nil {
		err = s.mapError(err)
		return Subscription{}, err
	}
	fields["active"] = subscription.Active
	return subscription, nil
}

func (s *Service) GetSubscription(ctx context.Context, partnerID string) (Subscription, error) {
	if s == nil || s.subscriptionStore == nil {
		return Subscription{}, s.mapError(fmt.Errorf("core: subscription store is not configured"))
	}
	if strings.TrimSpace(partnerID) == "" {
		return Subscription{}, s.mapError(fmt.Errorf("core: partner id is required"))
	}
	subscription, err := s.subscriptionStore.Get(ctx, partnerID)
	if err != nil {
		return Subscription{}, s.mapError(err)
	}
	return subscription, nil
}
