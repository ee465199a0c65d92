package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySubscriptionRegistry is the in-process SubscriptionStore used by
// tests and single-node deployments. Reads are concurrent; mutation locks.
type MemorySubscriptionRegistry struct {
	mu   sync.RWMutex
	byID map[string]Subscription
}

func NewMemorySubscriptionRegistry() *MemorySubscriptionRegistry {
	return &MemorySubscriptionRegistry{
		byID: map[string]Subscription{},
	}
}

func (r *MemorySubscriptionRegistry) Upsert(_ context.Context, in UpsertSubscriptionInput) (Subscription, error) {
	if r == nil {
		return Subscription{}, fmt.Errorf("core: subscription registry is not configured")
	}
	partnerID := strings.TrimSpace(in.PartnerID)
	if partnerID == "" {
		return Subscription{}, fmt.Errorf("core: partner id is required")
	}
	endpoint := strings.TrimSpace(in.EndpointURL)
	if endpoint == "" {
		return Subscription{}, fmt.Errorf("core: endpoint url is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := r.byID[partnerID]
	subscription := Subscription{
		ID:          uuid.NewString(),
		PartnerID:   partnerID,
		EndpointURL: endpoint,
		Secret:      strings.TrimSpace(in.Secret),
		EventTypes:  NewEventTypeSet(in.EventTypes...),
		Active:      in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ok {
		subscription.ID = existing.ID
		subscription.CreatedAt = existing.CreatedAt
	}
	r.byID[partnerID] = subscription
	return subscription, nil
}

func (r *MemorySubscriptionRegistry) Get(_ context.Context, partnerID string) (Subscription, error) {
	if r == nil {
		return Subscription{}, fmt.Errorf("core: subscription registry is not configured")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	subscription, ok := r.byID[strings.TrimSpace(partnerID)]
	if !ok {
		return Subscription{}, fmt.Errorf("core: subscription not found for partner %q", partnerID)
	}
	return subscription, nil
}

func (r *MemorySubscriptionRegistry) Resolve(_ context.Context, eventType string) ([]Subscription, error) {
	if r == nil {
		return nil, fmt.Errorf("core: subscription registry is not configured")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("core: event type is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := make([]Subscription, 0)
	for _, subscription := range r.byID {
		if !subscription.Active {
			continue
		}
		if subscription.EventTypes.Matches(eventType) {
			matches = append(matches, subscription)
		}
	}
	return matches, nil
}

// MemoryEventStore keeps ingested events for log projection in tests.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]Event
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: map[string]Event{}}
}

func (s *MemoryEventStore) Create(_ context.Context, event Event) error {
	if s == nil {
		return fmt.Errorf("core: event store is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("core: event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return nil
	}
	s.events[event.ID] = event
	return nil
}

func (s *MemoryEventStore) Get(_ context.Context, id string) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[strings.TrimSpace(id)]
	if !ok {
		return Event{}, fmt.Errorf("core: event %q not found", id)
	}
	return event, nil
}

// MemoryAttemptStore implements the full attempt lifecycle in process,
// including the single-winner claim semantics the SQL store provides via
// conditional updates.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]DeliveryAttempt
	byKey    map[string]string
	history  map[string][]AttemptTransition
	events   *MemoryEventStore
}

func NewMemoryAttemptStore(events *MemoryEventStore) *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts: map[string]DeliveryAttempt{},
		byKey:    map[string]string{},
		history:  map[string][]AttemptTransition{},
		events:   events,
	}
}

func attemptKey(eventID string, partnerID string) string {
	return eventID + "\x00" + partnerID
}

func (s *MemoryAttemptStore) Create(_ context.Context, in CreateAttemptInput) (DeliveryAttempt, bool, error) {
	if s == nil {
		return DeliveryAttempt{}, false, fmt.Errorf("core: attempt store is not configured")
	}
	eventID := strings.TrimSpace(in.EventID)
	partnerID := strings.TrimSpace(in.PartnerID)
	if eventID == "" || partnerID == "" {
		return DeliveryAttempt{}, false, fmt.Errorf("core: event id and partner id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byKey[attemptKey(eventID, partnerID)]; ok {
		return s.attempts[existingID], false, nil
	}
	now := time.Now().UTC()
	attempt := DeliveryAttempt{
		ID:           uuid.NewString(),
		EventID:      eventID,
		PartnerID:    partnerID,
		Status:       AttemptStatusQueued,
		AttemptCount: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.attempts[attempt.ID] = attempt
	s.byKey[attemptKey(eventID, partnerID)] = attempt.ID
	s.appendHistoryLocked(attempt.ID, AttemptStatusQueued, nil, "", now)
	return attempt, true, nil
}

func (s *MemoryAttemptStore) Get(_ context.Context, id string) (DeliveryAttempt, error) {
	if s == nil {
		return DeliveryAttempt{}, fmt.Errorf("core: attempt store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[strings.TrimSpace(id)]
	if !ok {
		return DeliveryAttempt{}, fmt.Errorf("core: delivery attempt %q not found", id)
	}
	return attempt, nil
}

func (s *MemoryAttemptStore) Claim(_ context.Context, id string) (DeliveryAttempt, bool, error) {
	if s == nil {
		return DeliveryAttempt{}, false, fmt.Errorf("core: attempt store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[strings.TrimSpace(id)]
	if !ok {
		return DeliveryAttempt{}, false, fmt.Errorf("core: delivery attempt %q not found", id)
	}
	if attempt.Status != AttemptStatusQueued && attempt.Status != AttemptStatusRetryScheduled {
		return attempt, false, nil
	}
	now := time.Now().UTC()
	attempt.Status = AttemptStatusDelivering
	attempt.AttemptCount++
	attempt.NextAttemptAt = nil
	attempt.UpdatedAt = now
	s.attempts[attempt.ID] = attempt
	s.appendHistoryLocked(attempt.ID, AttemptStatusDelivering, nil, "", now)
	return attempt, true, nil
}

func (s *MemoryAttemptStore) MarkDelivered(_ context.Context, id string, responseCode int) error {
	return s.transition(id, AttemptStatusDelivered, &responseCode, "", nil)
}

func (s *MemoryAttemptStore) MarkRetryScheduled(
	_ context.Context,
	id string,
	cause error,
	responseCode *int,
	nextAttemptAt time.Time,
) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	when := nextAttemptAt.UTC()
	return s.transition(id, AttemptStatusRetryScheduled, responseCode, message, &when)
}

func (s *MemoryAttemptStore) MarkFailed(_ context.Context, id string, cause error, responseCode *int) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return s.transition(id, AttemptStatusFailed, responseCode, message, nil)
}

func (s *MemoryAttemptStore) transition(
	id string,
	to AttemptStatus,
	responseCode *int,
	lastError string,
	nextAttemptAt *time.Time,
) error {
	if s == nil {
		return fmt.Errorf("core: attempt store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("core: delivery attempt %q not found", id)
	}
	if !CanTransition(attempt.Status, to) {
		return fmt.Errorf("core: invalid transition %s -> %s for attempt %q", attempt.Status, to, id)
	}
	now := time.Now().UTC()
	attempt.Status = to
	attempt.NextAttemptAt = nextAttemptAt
	attempt.LastError = lastError
	if responseCode != nil {
		value := *responseCode
		attempt.LastResponseCode = &value
	}
	attempt.UpdatedAt = now
	s.attempts[attempt.ID] = attempt
	s.appendHistoryLocked(attempt.ID, to, responseCode, lastError, now)
	return nil
}

func (s *MemoryAttemptStore) History(_ context.Context, attemptID string) ([]AttemptTransition, error) {
	if s == nil {
		return nil, fmt.Errorf("core: attempt store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[strings.TrimSpace(attemptID)]
	out := make([]AttemptTransition, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryAttemptStore) DueBefore(_ context.Context, now time.Time, limit int) ([]DeliveryAttempt, error) {
	if s == nil {
		return nil, fmt.Errorf("core: attempt store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]DeliveryAttempt, 0)
	for _, attempt := range s.attempts {
		switch attempt.Status {
		case AttemptStatusQueued:
			due = append(due, attempt)
		case AttemptStatusRetryScheduled:
			if attempt.NextAttemptAt != nil && !attempt.NextAttemptAt.After(now) {
				due = append(due, attempt)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].UpdatedAt.Equal(due[j].UpdatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].UpdatedAt.Before(due[j].UpdatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryAttemptStore) RecoverOrphans(_ context.Context, olderThan time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: attempt store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recovered := 0
	now := time.Now().UTC()
	for id, attempt := range s.attempts {
		if attempt.Status != AttemptStatusDelivering || attempt.UpdatedAt.After(olderThan) {
			continue
		}
		attempt.Status = AttemptStatusRetryScheduled
		due := now
		attempt.NextAttemptAt = &due
		attempt.LastError = "recovered orphaned delivery"
		attempt.UpdatedAt = now
		s.attempts[id] = attempt
		s.appendHistoryLocked(id, AttemptStatusRetryScheduled, nil, attempt.LastError, now)
		recovered++
	}
	return recovered, nil
}

// List projects attempt rows into the partner-facing delivery log shape.
// Filtering matches the SQL store: stable created_at ordering with id
// ascending tiebreak, clamped limit, window-independent total.
func (s *MemoryAttemptStore) List(ctx context.Context, filter DeliveryLogFilter) (DeliveryLogPage, error) {
	if s == nil {
		return DeliveryLogPage{}, fmt.Errorf("core: attempt store is not configured")
	}
	partnerID := strings.TrimSpace(filter.PartnerID)
	if partnerID == "" {
		return DeliveryLogPage{}, fmt.Errorf("core: partner id is required")
	}
	limit, offset := NormalizePage(filter.Limit, filter.Offset, DefaultConfig().Log)

	s.mu.Lock()
	matched := make([]DeliveryLogEntry, 0)
	for _, attempt := range s.attempts {
		if attempt.PartnerID != partnerID {
			continue
		}
		if status := strings.TrimSpace(filter.Status); status != "" && status != "all" {
			if string(attempt.Status) != status {
				continue
			}
		}
		if filter.From != nil && attempt.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && attempt.CreatedAt.After(*filter.To) {
			continue
		}
		entry := DeliveryLogEntry{Attempt: attempt}
		if s.events != nil {
			if event, err := s.events.Get(ctx, attempt.EventID); err == nil {
				entry.EventType = event.Type
				entry.Summary = PayloadSummary(event.Payload)
			}
		}
		if q := strings.TrimSpace(filter.Query); q != "" {
			haystack := strings.ToLower(entry.EventType + " " + entry.Summary)
			if !strings.Contains(haystack, strings.ToLower(q)) {
				continue
			}
		}
		matched = append(matched, entry)
	}
	s.mu.Unlock()

	descending := filter.Sort == SortDesc
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].Attempt, matched[j].Attempt
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		if descending {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return DeliveryLogPage{Items: []DeliveryLogEntry{}, Total: total, Limit: limit, Offset: offset}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	items := make([]DeliveryLogEntry, end-offset)
	copy(items, matched[offset:end])
	return DeliveryLogPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *MemoryAttemptStore) appendHistoryLocked(
	attemptID string,
	status AttemptStatus,
	responseCode *int,
	message string,
	at time.Time,
) {
	entry := AttemptTransition{
		ID:        uuid.NewString(),
		AttemptID: attemptID,
		Status:    status,
		Error:     message,
		At:        at,
	}
	if responseCode != nil {
		value := *responseCode
		entry.ResponseCode = &value
	}
	s.history[attemptID] = append(s.history[attemptID], entry)
}

// NormalizePage clamps the requested window to the configured bounds and
// reports the effective values the query service must echo back.
func NormalizePage(limit int, offset int, cfg LogConfig) (int, int) {
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultConfig().Log.DefaultLimit
	}
	maxLimit := cfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultConfig().Log.MaxLimit
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var (
	_ SubscriptionStore = (*MemorySubscriptionRegistry)(nil)
	_ EventStore        = (*MemoryEventStore)(nil)
	_ AttemptStore      = (*MemoryAttemptStore)(nil)
	_ DeliveryLogReader = (*MemoryAttemptStore)(nil)
)
