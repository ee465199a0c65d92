package sqlstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-dispatch/core"
	sqlstore "github.com/goliatone/go-dispatch/store/sql"
)

type countingSubscriptionStore struct {
	mu           sync.Mutex
	base         core.SubscriptionStore
	getCalls     int
	resolveCalls int
}

func (s *countingSubscriptionStore) Upsert(ctx context.Context, in core.UpsertSubscriptionInput) (core.Subscription, error) {
	return s.base.Upsert(ctx, in)
}

func (s *countingSubscriptionStore) Get(ctx context.Context, partnerID string) (core.Subscription, error) {
	s.mu.Lock()
	s.getCalls++
	s.mu.Unlock()
	return s.base.Get(ctx, partnerID)
}

func (s *countingSubscriptionStore) Resolve(ctx context.Context, eventType string) ([]core.Subscription, error) {
	s.mu.Lock()
	s.resolveCalls++
	s.mu.Unlock()
	return s.base.Resolve(ctx, eventType)
}

func newTestSubscriptionCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func newCachedSubscriptionFixture(t *testing.T) (*sqlstore.CachedSubscriptionStore, *countingSubscriptionStore) {
	t.Helper()
	base := &countingSubscriptionStore{base: core.NewMemorySubscriptionRegistry()}
	cached, err := sqlstore.NewCachedSubscriptionStore(base, newTestSubscriptionCacheService(t))
	if err != nil {
		t.Fatalf("new cached subscription store: %v", err)
	}
	return cached, base
}

func TestCachedSubscriptionStore_ResolveReadsThroughOnce(t *testing.T) {
	ctx := context.Background()
	cached, base := newCachedSubscriptionFixture(t)

	if _, err := cached.Upsert(ctx, core.UpsertSubscriptionInput{
		PartnerID:   "acme",
		EndpointURL: "https://acme.example.com/hooks",
		Secret:      "s3cr3t",
		EventTypes:  []string{"payment.succeeded"},
		Active:      true,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for i := 0; i < 3; i++ {
		subscriptions, err := cached.Resolve(ctx, "payment.succeeded")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if len(subscriptions) != 1 || subscriptions[0].PartnerID != "acme" {
			t.Fatalf("unexpected resolve result: %#v", subscriptions)
		}
	}
	if base.resolveCalls != 1 {
		t.Fatalf("expected one base resolve, got %d", base.resolveCalls)
	}
}

func TestCachedSubscriptionStore_UpsertInvalidatesReads(t *testing.T) {
	ctx := context.Background()
	cached, base := newCachedSubscriptionFixture(t)

	input := core.UpsertSubscriptionInput{
		PartnerID:   "acme",
		EndpointURL: "https://acme.example.com/hooks",
		Secret:      "s3cr3t",
		EventTypes:  []string{"payment.succeeded"},
		Active:      true,
	}
	if _, err := cached.Upsert(ctx, input); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := cached.Resolve(ctx, "payment.succeeded"); err != nil {
		t.Fatalf("warm resolve: %v", err)
	}
	if _, err := cached.Get(ctx, "acme"); err != nil {
		t.Fatalf("warm get: %v", err)
	}

	input.EventTypes = []string{"payment.failed"}
	if _, err := cached.Upsert(ctx, input); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	subscriptions, err := cached.Resolve(ctx, "payment.succeeded")
	if err != nil {
		t.Fatalf("resolve after upsert: %v", err)
	}
	if len(subscriptions) != 0 {
		t.Fatalf("expected retargeted subscription to stop matching, got %#v", subscriptions)
	}
	if base.resolveCalls != 2 {
		t.Fatalf("expected resolve to refetch after upsert, got %d calls", base.resolveCalls)
	}

	subscription, err := cached.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if !subscription.EventTypes.Matches("payment.failed") {
		t.Fatalf("expected refreshed event types, got %#v", subscription.EventTypes)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected get to refetch after upsert, got %d calls", base.getCalls)
	}
}

func TestCachedSubscriptionStore_GetReadsThroughOnce(t *testing.T) {
	ctx := context.Background()
	cached, base := newCachedSubscriptionFixture(t)

	if _, err := cached.Upsert(ctx, core.UpsertSubscriptionInput{
		PartnerID:   "globex",
		EndpointURL: "https://globex.example.com/hooks",
		Secret:      "s3cr3t",
		EventTypes:  []string{core.EventTypeWildcard},
		Active:      true,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := cached.Get(ctx, "globex"); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	if base.getCalls != 1 {
		t.Fatalf("expected one base get, got %d", base.getCalls)
	}

	if _, err := cached.Get(ctx, " "); err == nil {
		t.Fatalf("expected blank partner id error")
	}
}

func TestNewCachedSubscriptionStore_Guards(t *testing.T) {
	if _, err := sqlstore.NewCachedSubscriptionStore(nil, newTestSubscriptionCacheService(t)); err == nil {
		t.Fatalf("expected missing base store error")
	}
	if _, err := sqlstore.NewCachedSubscriptionStore(core.NewMemorySubscriptionRegistry(), nil); err == nil {
		t.Fatalf("expected missing cache service error")
	}
}
