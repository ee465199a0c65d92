package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-dispatch/core"
)

const subscriptionCacheKeyPrefix = "go-dispatch::subscriptions::v1"

// CachedSubscriptionStore fronts a SubscriptionStore with a read-through
// cache on the dispatch hot path. Partner reads are invalidated exactly on
// upsert; Resolve keys embed a generation counter bumped on every write, so
// a changed event-type set is never served stale.
type CachedSubscriptionStore struct {
	base       core.SubscriptionStore
	cache      repositorycache.CacheService
	generation atomic.Uint64
}

func NewCachedSubscriptionStore(
	base core.SubscriptionStore,
	cacheService repositorycache.CacheService,
) (*CachedSubscriptionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base subscription store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: subscription cache service is required")
	}
	return &CachedSubscriptionStore{base: base, cache: cacheService}, nil
}

func subscriptionPartnerCacheKey(partnerID string) string {
	return strings.Join([]string{
		subscriptionCacheKeyPrefix,
		"partner",
		url.PathEscape(partnerID),
	}, "::")
}

func subscriptionResolveCacheKey(generation uint64, eventType string) string {
	return strings.Join([]string{
		subscriptionCacheKeyPrefix,
		"resolve",
		strconv.FormatUint(generation, 10),
		url.PathEscape(eventType),
	}, "::")
}

func (s *CachedSubscriptionStore) Upsert(ctx context.Context, in core.UpsertSubscriptionInput) (core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	subscription, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.Subscription{}, err
	}
	if err := s.cache.Delete(ctx, subscriptionPartnerCacheKey(subscription.PartnerID)); err != nil {
		return core.Subscription{}, err
	}
	// stale resolve keys age out through the cache TTL
	s.generation.Add(1)
	return cloneSubscription(subscription), nil
}

func (s *CachedSubscriptionStore) Get(ctx context.Context, partnerID string) (core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return core.Subscription{}, fmt.Errorf("sqlstore: partner id is required")
	}

	cacheKey := subscriptionPartnerCacheKey(partnerID)
	subscription, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Subscription, error) {
		fetched, fetchErr := s.base.Get(ctx, partnerID)
		if fetchErr != nil {
			return core.Subscription{}, fetchErr
		}
		return cloneSubscription(fetched), nil
	})
	if err != nil {
		return core.Subscription{}, err
	}
	return cloneSubscription(subscription), nil
}

func (s *CachedSubscriptionStore) Resolve(ctx context.Context, eventType string) ([]core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("sqlstore: event type is required")
	}

	cacheKey := subscriptionResolveCacheKey(s.generation.Load(), eventType)
	subscriptions, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.Subscription, error) {
		fetched, fetchErr := s.base.Resolve(ctx, eventType)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return cloneSubscriptions(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneSubscriptions(subscriptions), nil
}

func cloneSubscription(subscription core.Subscription) core.Subscription {
	cloned := subscription
	cloned.EventTypes = core.NewEventTypeSet(subscription.EventTypes.Values()...)
	return cloned
}

func cloneSubscriptions(subscriptions []core.Subscription) []core.Subscription {
	if subscriptions == nil {
		return nil
	}
	cloned := make([]core.Subscription, len(subscriptions))
	for i, subscription := range subscriptions {
		cloned[i] = cloneSubscription(subscription)
	}
	return cloned
}

var _ core.SubscriptionStore = (*CachedSubscriptionStore)(nil)
