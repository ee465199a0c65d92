package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-dispatch/core"
)

type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventStore{db: db, repo: repo}, nil
}

// Create persists the event; re-inserting an already stored event id is a
// no-op so event acceptance stays idempotent with the attempt rows.
func (s *EventStore) Create(ctx context.Context, event core.Event) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: event store is not configured")
	}
	id := strings.TrimSpace(event.ID)
	if id == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	if strings.TrimSpace(event.Type) == "" {
		return fmt.Errorf("sqlstore: event type is required")
	}
	occurredAt := event.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	record := &eventRecord{
		ID:         id,
		EventType:  strings.TrimSpace(event.Type),
		Payload:    copyAnyMap(event.Payload),
		OccurredAt: occurredAt,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *EventStore) Get(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	record := &eventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Event{}, fmt.Errorf("sqlstore: event %q not found", id)
		}
		return core.Event{}, err
	}
	return eventToDomain(record), nil
}

func eventToDomain(record *eventRecord) core.Event {
	if record == nil {
		return core.Event{}
	}
	return core.Event{
		ID:         record.ID,
		Type:       record.EventType,
		Payload:    copyAnyMap(record.Payload),
		OccurredAt: record.OccurredAt,
	}
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.EventStore = (*EventStore)(nil)
