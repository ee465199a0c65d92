package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemorySubscriptionRegistry_UpsertAndResolve(t *testing.T) {
	ctx := context.Background()
	registry := NewMemorySubscriptionRegistry()

	first, err := registry.Upsert(ctx, UpsertSubscriptionInput{
		PartnerID:   "acme",
		EndpointURL: "https://acme.example.com/hooks",
		Secret:      "s3cr3t",
		EventTypes:  []string{"payment.succeeded"},
		Active:      true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("expected generated subscription id")
	}

	replaced, err := registry.Upsert(ctx, UpsertSubscriptionInput{
		PartnerID:   "acme",
		EndpointURL: "https://acme.example.com/v2/hooks",
		Secret:      "rotated",
		EventTypes:  []string{"payment.succeeded", "payment.failed"},
		Active:      true,
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if replaced.ID != first.ID {
		t.Fatalf("expected stable id across upserts, got %q vs %q", replaced.ID, first.ID)
	}
	if replaced.EndpointURL != "https://acme.example.com/v2/hooks" {
		t.Fatalf("expected endpoint replacement, got %q", replaced.EndpointURL)
	}

	if _, err := registry.Upsert(ctx, UpsertSubscriptionInput{EndpointURL: "https://x.example.com"}); err == nil {
		t.Fatalf("expected missing partner id error")
	}

	if _, err := registry.Upsert(ctx, UpsertSubscriptionInput{
		PartnerID:   "globex",
		EndpointURL: "https://globex.example.com/hooks",
		Secret:      "gx",
		EventTypes:  []string{EventTypeWildcard},
		Active:      false,
	}); err != nil {
		t.Fatalf("upsert inactive: %v", err)
	}

	matches, err := registry.Resolve(ctx, "payment.succeeded")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 1 || matches[0].PartnerID != "acme" {
		t.Fatalf("expected only active matching subscription, got %#v", matches)
	}

	none, err := registry.Resolve(ctx, "hr.person.created")
	if err != nil {
		t.Fatalf("resolve unmatched: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %#v", none)
	}
}

func TestMemoryAttemptStore_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore(nil)

	attempt, created, err := store.Create(ctx, CreateAttemptInput{EventID: "evt_1", PartnerID: "acme"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected first create to report created")
	}
	if attempt.Status != AttemptStatusQueued || attempt.AttemptCount != 0 {
		t.Fatalf("unexpected initial attempt: %#v", attempt)
	}

	again, createdAgain, err := store.Create(ctx, CreateAttemptInput{EventID: "evt_1", PartnerID: "acme"})
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if createdAgain {
		t.Fatalf("expected duplicate create to report existing row")
	}
	if again.ID != attempt.ID {
		t.Fatalf("expected the same attempt row, got %q vs %q", again.ID, attempt.ID)
	}

	_, createdOther, err := store.Create(ctx, CreateAttemptInput{EventID: "evt_1", PartnerID: "globex"})
	if err != nil {
		t.Fatalf("create other partner: %v", err)
	}
	if !createdOther {
		t.Fatalf("expected distinct row per partner")
	}
}

func TestMemoryAttemptStore_ClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore(nil)
	attempt, _, err := store.Create(ctx, CreateAttemptInput{EventID: "evt_1", PartnerID: "acme"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, ok, err := store.Claim(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatalf("expected first claim to win")
	}
	if claimed.Status != AttemptStatusDelivering || claimed.AttemptCount != 1 {
		t.Fatalf("unexpected claimed attempt: %#v", claimed)
	}

	_, ok, err = store.Claim(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("expected second claim to lose")
	}
}

func TestMemoryAttemptStore_TransitionsAppendHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore(nil)
	attempt, _, err := store.Create(ctx, CreateAttemptInput{EventID: "evt_1", PartnerID: "acme"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.MarkDelivered(ctx, attempt.ID, 200); err == nil {
		t.Fatalf("expected queued -> delivered to be rejected")
	}

	if _, _, err := store.Claim(ctx, attempt.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	code := 503
	if err := store.MarkRetryScheduled(
		ctx,
		attempt.ID,
		fmt.Errorf("endpoint returned 503"),
		&code,
		time.Now().UTC().Add(5*time.Second),
	); err != nil {
		t.Fatalf("mark retry scheduled: %v", err)
	}

	if _, _, err := store.Claim(ctx, attempt.ID); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if err := store.MarkDelivered(ctx, attempt.ID, 200); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := store.MarkFailed(ctx, attempt.ID, fmt.Errorf("late failure"), nil); err == nil {
		t.Fatalf("expected terminal attempt to reject further transitions")
	}

	history, err := store.History(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	statuses := make([]AttemptStatus, 0, len(history))
	for _, entry := range history {
		statuses = append(statuses, entry.Status)
	}
	expected := []AttemptStatus{
		AttemptStatusQueued,
		AttemptStatusDelivering,
		AttemptStatusRetryScheduled,
		AttemptStatusDelivering,
		AttemptStatusDelivered,
	}
	if len(statuses) != len(expected) {
		t.Fatalf("expected %d history entries, got %d: %#v", len(expected), len(statuses), statuses)
	}
	for i, status := range expected {
		if statuses[i] != status {
			t.Fatalf("history[%d]: expected %s, got %s", i, status, statuses[i])
		}
	}

	final, err := store.Get(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.AttemptCount != 2 {
		t.Fatalf("expected two executions, got %d", final.AttemptCount)
	}
	if final.LastResponseCode == nil || *final.LastResponseCode != 200 {
		t.Fatalf("expected final response code 200, got %#v", final.LastResponseCode)
	}
}

func TestMemoryAttemptStore_DueBeforeAndRecoverOrphans(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore(nil)

	first, _, err := store.Create(ctx, CreateAttemptInput{EventID: "evt_1", PartnerID: "acme"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, _, err := store.Create(ctx, CreateAttemptInput{EventID: "evt_2", PartnerID: "acme"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	due, err := store.DueBefore(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("due before: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected both queued attempts due, got %d", len(due))
	}

	if _, _, err := store.Claim(ctx, first.ID); err != nil {
		t.Fatalf("claim first: %v", err)
	}
	code := 500
	if err := store.MarkRetryScheduled(
		ctx,
		first.ID,
		fmt.Errorf("endpoint returned 500"),
		&code,
		time.Now().UTC().Add(time.Hour),
	); err != nil {
		t.Fatalf("mark retry scheduled: %v", err)
	}

	due, err = store.DueBefore(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("due before after schedule: %v", err)
	}
	if len(due) != 1 || due[0].ID != second.ID {
		t.Fatalf("expected only the queued attempt, got %#v", due)
	}

	if _, _, err := store.Claim(ctx, second.ID); err != nil {
		t.Fatalf("claim second: %v", err)
	}
	recovered, err := store.RecoverOrphans(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("recover orphans: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected one recovered orphan, got %d", recovered)
	}
	requeued, err := store.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("get requeued: %v", err)
	}
	if requeued.Status != AttemptStatusRetryScheduled {
		t.Fatalf("expected recovered attempt to be retry_scheduled, got %q", requeued.Status)
	}
	if requeued.LastError != "recovered orphaned delivery" {
		t.Fatalf("unexpected recovery note: %q", requeued.LastError)
	}
}

func TestMemoryAttemptStore_ListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	events := NewMemoryEventStore()
	store := NewMemoryAttemptStore(events)

	if err := events.Create(ctx, Event{
		ID:      "evt_1",
		Type:    "payment.succeeded",
		Payload: map[string]any{"invoice_id": "inv_1"},
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := events.Create(ctx, Event{
		ID:      "evt_2",
		Type:    "hr.person.created",
		Payload: map[string]any{"id": "per_1"},
	}); err != nil {
		t.Fatalf("create second event: %v", err)
	}

	for _, eventID := range []string{"evt_1", "evt_2"} {
		if _, _, err := store.Create(ctx, CreateAttemptInput{EventID: eventID, PartnerID: "acme"}); err != nil {
			t.Fatalf("create attempt for %s: %v", eventID, err)
		}
	}
	if _, _, err := store.Create(ctx, CreateAttemptInput{EventID: "evt_1", PartnerID: "globex"}); err != nil {
		t.Fatalf("create attempt for other partner: %v", err)
	}

	page, err := store.List(ctx, DeliveryLogFilter{PartnerID: "acme"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("expected two partner rows, got %#v", page)
	}
	if page.Limit != DefaultConfig().Log.DefaultLimit {
		t.Fatalf("expected default limit echo, got %d", page.Limit)
	}

	filtered, err := store.List(ctx, DeliveryLogFilter{PartnerID: "acme", Query: "invoice"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if filtered.Total != 1 || filtered.Items[0].EventType != "payment.succeeded" {
		t.Fatalf("expected free-text match on payload, got %#v", filtered)
	}

	windowed, err := store.List(ctx, DeliveryLogFilter{PartnerID: "acme", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list windowed: %v", err)
	}
	if windowed.Total != 2 || len(windowed.Items) != 1 {
		t.Fatalf("expected window-independent total, got %#v", windowed)
	}

	past, err := store.List(ctx, DeliveryLogFilter{PartnerID: "acme", Offset: 50})
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if past.Total != 2 || len(past.Items) != 0 {
		t.Fatalf("expected empty page past the end, got %#v", past)
	}
}

func TestNormalizePage(t *testing.T) {
	cfg := LogConfig{DefaultLimit: 25, MaxLimit: 100}

	limit, offset := NormalizePage(0, 0, cfg)
	if limit != 25 || offset != 0 {
		t.Fatalf("expected defaults, got %d/%d", limit, offset)
	}
	limit, offset = NormalizePage(500, -3, cfg)
	if limit != 100 || offset != 0 {
		t.Fatalf("expected clamped window, got %d/%d", limit, offset)
	}
	limit, _ = NormalizePage(50, 10, LogConfig{})
	if limit != 50 {
		t.Fatalf("expected fallback config to honor explicit limit, got %d", limit)
	}
}
