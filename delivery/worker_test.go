package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

type poolFixture struct {
	events        *core.MemoryEventStore
	subscriptions *core.MemorySubscriptionRegistry
	attempts      *core.MemoryAttemptStore
	schedule      *Schedule
}

func newPoolFixture(t *testing.T, endpoint string, active bool) (*poolFixture, core.DeliveryAttempt) {
	t.Helper()
	events := core.NewMemoryEventStore()
	subscriptions := core.NewMemorySubscriptionRegistry()
	attempts := core.NewMemoryAttemptStore(events)

	event := core.Event{
		ID:         "evt-1",
		Type:       "payment.succeeded",
		Payload:    map[string]any{"paymentId": "pay-9"},
		OccurredAt: time.Now().UTC(),
	}
	if err := events.Create(context.Background(), event); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if _, err := subscriptions.Upsert(context.Background(), core.UpsertSubscriptionInput{
		PartnerID:   "partner-1",
		EndpointURL: endpoint,
		Secret:      "s3cret",
		EventTypes:  []string{"payment.succeeded"},
		Active:      active,
	}); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	attempt, created, err := attempts.Create(context.Background(), core.CreateAttemptInput{
		EventID:   event.ID,
		PartnerID: "partner-1",
	})
	if err != nil || !created {
		t.Fatalf("seed attempt: created=%v err=%v", created, err)
	}

	return &poolFixture{
		events:        events,
		subscriptions: subscriptions,
		attempts:      attempts,
		schedule:      NewSchedule(),
	}, attempt
}

func (f *poolFixture) startPool(t *testing.T, options ...PoolOption) *Pool {
	t.Helper()
	sender, err := NewHTTPSender(core.HMACSigner{}, WithCallTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewHTTPSender returned error: %v", err)
	}
	base := []PoolOption{
		WithWorkerCount(2),
		WithPollInterval(20 * time.Millisecond),
		WithIdleDelay(5 * time.Millisecond),
		WithRandomSource(nil),
		WithRetryPolicy(core.RetryPolicy{
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    50 * time.Millisecond,
			MaxAttempts: 8,
		}),
	}
	pool, err := NewPool(PoolDependencies{
		Attempts:      f.attempts,
		Subscriptions: f.subscriptions,
		Events:        f.events,
		Sender:        sender,
		Schedule:      f.schedule,
	}, append(base, options...)...)
	if err != nil {
		t.Fatalf("NewPool returned error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(pool.Stop)
	return pool
}

func waitForStatus(t *testing.T, attempts *core.MemoryAttemptStore, attemptID string, want core.AttemptStatus) core.DeliveryAttempt {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		attempt, err := attempts.Get(context.Background(), attemptID)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if attempt.Status == want {
			return attempt
		}
		time.Sleep(10 * time.Millisecond)
	}
	attempt, _ := attempts.Get(context.Background(), attemptID)
	t.Fatalf("attempt never reached %s, last status %s (count=%d, err=%q)",
		want, attempt.Status, attempt.AttemptCount, attempt.LastError)
	return core.DeliveryAttempt{}
}

func TestPoolDeliversOnFirstAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fixture, attempt := newPoolFixture(t, server.URL, true)
	fixture.startPool(t)
	fixture.schedule.PushDue(attempt.ID, time.Now())

	final := waitForStatus(t, fixture.attempts, attempt.ID, core.AttemptStatusDelivered)
	if final.AttemptCount != 1 {
		t.Fatalf("expected exactly one attempt, got %d", final.AttemptCount)
	}
	if final.LastResponseCode == nil || *final.LastResponseCode != http.StatusOK {
		t.Fatalf("expected recorded 200, got %v", final.LastResponseCode)
	}

	history, err := fixture.attempts.History(context.Background(), attempt.ID)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	statuses := make([]string, 0, len(history))
	for _, entry := range history {
		statuses = append(statuses, string(entry.Status))
	}
	want := "queued,delivering,delivered"
	if got := strings.Join(statuses, ","); got != want {
		t.Fatalf("expected history %s, got %s", want, got)
	}
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fixture, attempt := newPoolFixture(t, server.URL, true)
	fixture.startPool(t)
	fixture.schedule.PushDue(attempt.ID, time.Now())

	final := waitForStatus(t, fixture.attempts, attempt.ID, core.AttemptStatusDelivered)
	if final.AttemptCount != 2 {
		t.Fatalf("expected two attempts, got %d", final.AttemptCount)
	}

	history, err := fixture.attempts.History(context.Background(), attempt.ID)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	sawRetry := false
	for _, entry := range history {
		if entry.Status == core.AttemptStatusRetryScheduled {
			sawRetry = true
			if entry.ResponseCode == nil || *entry.ResponseCode != http.StatusServiceUnavailable {
				t.Fatalf("expected 503 on retry entry, got %v", entry.ResponseCode)
			}
		}
	}
	if !sawRetry {
		t.Fatal("expected a retry_scheduled transition in the history")
	}
}

func TestPoolFailsPermanentRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fixture, attempt := newPoolFixture(t, server.URL, true)
	fixture.startPool(t)
	fixture.schedule.PushDue(attempt.ID, time.Now())

	final := waitForStatus(t, fixture.attempts, attempt.ID, core.AttemptStatusFailed)
	if final.AttemptCount != 1 {
		t.Fatalf("4xx must not retry, got %d attempts", final.AttemptCount)
	}
	if !strings.Contains(final.LastError, "404") {
		t.Fatalf("expected last error to carry the status, got %q", final.LastError)
	}
}

func TestPoolExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fixture, attempt := newPoolFixture(t, server.URL, true)
	fixture.startPool(t, WithRetryPolicy(core.RetryPolicy{
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		MaxAttempts: 3,
	}))
	fixture.schedule.PushDue(attempt.ID, time.Now())

	final := waitForStatus(t, fixture.attempts, attempt.ID, core.AttemptStatusFailed)
	if final.AttemptCount != 3 {
		t.Fatalf("expected 3 attempts before exhaustion, got %d", final.AttemptCount)
	}
	if !strings.Contains(final.LastError, "exhausted") {
		t.Fatalf("expected exhaustion cause, got %q", final.LastError)
	}
}

func TestPoolFailsInactiveSubscription(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fixture, attempt := newPoolFixture(t, server.URL, false)
	fixture.startPool(t)
	fixture.schedule.PushDue(attempt.ID, time.Now())

	final := waitForStatus(t, fixture.attempts, attempt.ID, core.AttemptStatusFailed)
	if final.LastError != "subscription inactive" {
		t.Fatalf("expected inactive cause, got %q", final.LastError)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("inactive subscription must not be called")
	}
}

func TestPoolHooksObserveLifecycle(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := &recordingHook{}
	fixture, attempt := newPoolFixture(t, server.URL, true)
	fixture.startPool(t, WithHook(hook))
	fixture.schedule.PushDue(attempt.ID, time.Now())

	waitForStatus(t, fixture.attempts, attempt.ID, core.AttemptStatusDelivered)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hook.count("success") == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if hook.count("start") < 2 {
		t.Fatalf("expected OnStart per claim, got %d", hook.count("start"))
	}
	if hook.count("retry") != 1 {
		t.Fatalf("expected one OnRetry, got %d", hook.count("retry"))
	}
	if hook.count("success") != 1 {
		t.Fatalf("expected one OnSuccess, got %d", hook.count("success"))
	}
	if hook.count("failure") != 0 {
		t.Fatalf("expected no OnFailure, got %d", hook.count("failure"))
	}
}

func TestPoolRecoversOrphansOnStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fixture, attempt := newPoolFixture(t, server.URL, true)

	// Simulate a crash mid-delivery: the row is stuck in delivering with
	// no live worker holding it.
	if _, claimed, err := fixture.attempts.Claim(context.Background(), attempt.ID); err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}

	fixture.startPool(t, WithOrphanAge(time.Nanosecond))

	final := waitForStatus(t, fixture.attempts, attempt.ID, core.AttemptStatusDelivered)
	// One count from the simulated crash, one from the recovered delivery.
	if final.AttemptCount != 2 {
		t.Fatalf("expected recovered attempt to deliver on count 2, got %d", final.AttemptCount)
	}
}

func TestPoolClaimsEachAttemptOnce(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fixture, attempt := newPoolFixture(t, server.URL, true)
	fixture.startPool(t, WithWorkerCount(4))

	// Race many pushes of the same attempt against four workers.
	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fixture.schedule.PushDue(attempt.ID, now)
		}()
	}
	wg.Wait()

	final := waitForStatus(t, fixture.attempts, attempt.ID, core.AttemptStatusDelivered)
	if final.AttemptCount != 1 {
		t.Fatalf("expected a single claim, got %d attempts", final.AttemptCount)
	}
	// Give stray workers a moment to double-send if they were going to.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single outbound call, got %d", got)
	}
}

type recordingHook struct {
	mu     sync.Mutex
	counts map[string]int
}

func (h *recordingHook) record(kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.counts == nil {
		h.counts = map[string]int{}
	}
	h.counts[kind]++
}

func (h *recordingHook) count(kind string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[kind]
}

func (h *recordingHook) OnStart(context.Context, core.DeliveryWorkerEvent)   { h.record("start") }
func (h *recordingHook) OnSuccess(context.Context, core.DeliveryWorkerEvent) { h.record("success") }
func (h *recordingHook) OnFailure(context.Context, core.DeliveryWorkerEvent) { h.record("failure") }
func (h *recordingHook) OnRetry(context.Context, core.DeliveryWorkerEvent)   { h.record("retry") }
