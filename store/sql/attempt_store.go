package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-dispatch/core"
)

type AttemptStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryAttemptRecord]
}

func NewAttemptStore(db *bun.DB) (*AttemptStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryAttemptRecord](db, attemptHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid attempt repository wiring: %w", err)
		}
	}
	return &AttemptStore{db: db, repo: repo}, nil
}

// Create reserves one attempt per (event_id, partner_id). The unique
// constraint arbitrates concurrent dispatches of the same event: the loser
// reads back the winner's row and reports created=false.
func (s *AttemptStore) Create(ctx context.Context, in core.CreateAttemptInput) (core.DeliveryAttempt, bool, error) {
	if s == nil || s.db == nil {
		return core.DeliveryAttempt{}, false, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	eventID := strings.TrimSpace(in.EventID)
	partnerID := strings.TrimSpace(in.PartnerID)
	if eventID == "" || partnerID == "" {
		return core.DeliveryAttempt{}, false, fmt.Errorf("sqlstore: event id and partner id are required")
	}

	now := time.Now().UTC()
	record := &deliveryAttemptRecord{
		ID:           uuid.NewString(),
		EventID:      eventID,
		PartnerID:    partnerID,
		Status:       string(core.AttemptStatusQueued),
		AttemptCount: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
			return insertErr
		}
		return insertTransition(ctx, tx, record.ID, core.AttemptStatusQueued, nil, "", now)
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.getByPair(ctx, eventID, partnerID)
			if getErr != nil {
				return core.DeliveryAttempt{}, false, getErr
			}
			return existing, false, nil
		}
		return core.DeliveryAttempt{}, false, err
	}
	return attemptToDomain(record), true, nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (core.DeliveryAttempt, error) {
	if s == nil || s.db == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	record := &deliveryAttemptRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.DeliveryAttempt{}, fmt.Errorf("sqlstore: delivery attempt %q not found", id)
		}
		return core.DeliveryAttempt{}, err
	}
	return attemptToDomain(record), nil
}

// Claim moves a queued or retry_scheduled row to delivering with a single
// conditional update; the status guard in the WHERE clause makes the claim
// a compare-and-set, so racing workers cannot double-deliver.
func (s *AttemptStore) Claim(ctx context.Context, id string) (core.DeliveryAttempt, bool, error) {
	if s == nil || s.db == nil {
		return core.DeliveryAttempt{}, false, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.DeliveryAttempt{}, false, fmt.Errorf("sqlstore: attempt id is required")
	}

	now := time.Now().UTC()
	var claimed core.DeliveryAttempt
	won := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*deliveryAttemptRecord)(nil)).
			Set("status = ?", string(core.AttemptStatusDelivering)).
			Set("attempt_count = attempt_count + 1").
			Set("next_attempt_at = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("status IN (?, ?)", string(core.AttemptStatusQueued), string(core.AttemptStatusRetryScheduled)).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return nil
		}
		won = true

		record := &deliveryAttemptRecord{}
		if err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.id = ?", id).
			Limit(1).
			Scan(ctx); err != nil {
			return err
		}
		claimed = attemptToDomain(record)
		return insertTransition(ctx, tx, id, core.AttemptStatusDelivering, nil, "", now)
	})
	if err != nil {
		return core.DeliveryAttempt{}, false, err
	}
	if !won {
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return core.DeliveryAttempt{}, false, getErr
		}
		return existing, false, nil
	}
	return claimed, true, nil
}

func (s *AttemptStore) MarkDelivered(ctx context.Context, id string, responseCode int) error {
	return s.settle(ctx, id, core.AttemptStatusDelivered, &responseCode, "", nil)
}

func (s *AttemptStore) MarkRetryScheduled(
	ctx context.Context,
	id string,
	cause error,
	responseCode *int,
	nextAttemptAt time.Time,
) error {
	message := ""
	if cause != nil {
		message = strings.TrimSpace(cause.Error())
	}
	when := nextAttemptAt.UTC()
	return s.settle(ctx, id, core.AttemptStatusRetryScheduled, responseCode, message, &when)
}

func (s *AttemptStore) MarkFailed(ctx context.Context, id string, cause error, responseCode *int) error {
	message := ""
	if cause != nil {
		message = strings.TrimSpace(cause.Error())
	}
	return s.settle(ctx, id, core.AttemptStatusFailed, responseCode, message, nil)
}

// settle completes a delivering row. The status guard keeps transitions
// forward-only even if a recovered orphan races its original worker.
func (s *AttemptStore) settle(
	ctx context.Context,
	id string,
	to core.AttemptStatus,
	responseCode *int,
	lastError string,
	nextAttemptAt *time.Time,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: attempt store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: attempt id is required")
	}

	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := tx.NewUpdate().
			Model((*deliveryAttemptRecord)(nil)).
			Set("status = ?", string(to)).
			Set("last_error = ?", lastError).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("status = ?", string(core.AttemptStatusDelivering))
		if nextAttemptAt != nil {
			query = query.Set("next_attempt_at = ?", nextAttemptAt.UTC())
		} else {
			query = query.Set("next_attempt_at = NULL")
		}
		if responseCode != nil {
			query = query.Set("last_response_code = ?", *responseCode)
		}
		res, err := query.Exec(ctx)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("sqlstore: attempt %q is not delivering, cannot transition to %s", id, to)
		}
		return insertTransition(ctx, tx, id, to, responseCode, lastError, now)
	})
}

func (s *AttemptStore) History(ctx context.Context, attemptID string) ([]core.AttemptTransition, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	var records []attemptTransitionRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.attempt_id = ?", strings.TrimSpace(attemptID)).
		Order("at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]core.AttemptTransition, 0, len(records))
	for i := range records {
		entries = append(entries, transitionToDomain(&records[i]))
	}
	return entries, nil
}

func (s *AttemptStore) DueBefore(ctx context.Context, now time.Time, limit int) ([]core.DeliveryAttempt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	var records []deliveryAttemptRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status IN (?, ?)",
			string(core.AttemptStatusQueued), string(core.AttemptStatusRetryScheduled)).
		Where("(?TableAlias.next_attempt_at IS NULL OR ?TableAlias.next_attempt_at <= ?)", now.UTC()).
		Order("updated_at ASC", "id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	attempts := make([]core.DeliveryAttempt, 0, len(records))
	for i := range records {
		attempts = append(attempts, attemptToDomain(&records[i]))
	}
	return attempts, nil
}

// RecoverOrphans re-queues delivering rows whose worker died before
// settling them. The rows go back through retry_scheduled so the next
// claim counts as a fresh attempt.
func (s *AttemptStore) RecoverOrphans(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: attempt store is not configured")
	}
	now := time.Now().UTC()
	recovered := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ids []string
		if err := tx.NewSelect().
			Model((*deliveryAttemptRecord)(nil)).
			Column("id").
			Where("status = ?", string(core.AttemptStatusDelivering)).
			Where("updated_at <= ?", olderThan.UTC()).
			Scan(ctx, &ids); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res, err := tx.NewUpdate().
			Model((*deliveryAttemptRecord)(nil)).
			Set("status = ?", string(core.AttemptStatusRetryScheduled)).
			Set("next_attempt_at = ?", now).
			Set("last_error = ?", "recovered orphaned delivery").
			Set("updated_at = ?", now).
			Where("id IN (?)", bun.In(ids)).
			Where("status = ?", string(core.AttemptStatusDelivering)).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		recovered = int(affected)
		for _, id := range ids {
			if err := insertTransition(ctx, tx, id, core.AttemptStatusRetryScheduled, nil, "recovered orphaned delivery", now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

func (s *AttemptStore) getByPair(ctx context.Context, eventID string, partnerID string) (core.DeliveryAttempt, error) {
	record := &deliveryAttemptRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", eventID).
		Where("?TableAlias.partner_id = ?", partnerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.DeliveryAttempt{}, fmt.Errorf(
				"sqlstore: delivery attempt not found for event %q partner %q", eventID, partnerID)
		}
		return core.DeliveryAttempt{}, err
	}
	return attemptToDomain(record), nil
}

func insertTransition(
	ctx context.Context,
	tx bun.Tx,
	attemptID string,
	status core.AttemptStatus,
	responseCode *int,
	message string,
	at time.Time,
) error {
	record := &attemptTransitionRecord{
		ID:        uuid.NewString(),
		AttemptID: attemptID,
		Status:    string(status),
		Error:     message,
		At:        at,
	}
	if responseCode != nil {
		value := *responseCode
		record.ResponseCode = &value
	}
	_, err := tx.NewInsert().Model(record).Exec(ctx)
	return err
}

func attemptToDomain(record *deliveryAttemptRecord) core.DeliveryAttempt {
	if record == nil {
		return core.DeliveryAttempt{}
	}
	attempt := core.DeliveryAttempt{
		ID:           record.ID,
		EventID:      record.EventID,
		PartnerID:    record.PartnerID,
		Status:       core.AttemptStatus(record.Status),
		AttemptCount: record.AttemptCount,
		LastError:    record.LastError,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	if record.NextAttemptAt != nil {
		value := *record.NextAttemptAt
		attempt.NextAttemptAt = &value
	}
	if record.LastResponseCode != nil {
		value := *record.LastResponseCode
		attempt.LastResponseCode = &value
	}
	return attempt
}

func transitionToDomain(record *attemptTransitionRecord) core.AttemptTransition {
	if record == nil {
		return core.AttemptTransition{}
	}
	entry := core.AttemptTransition{
		ID:        record.ID,
		AttemptID: record.AttemptID,
		Status:    core.AttemptStatus(record.Status),
		Error:     record.Error,
		At:        record.At,
	}
	if record.ResponseCode != nil {
		value := *record.ResponseCode
		entry.ResponseCode = &value
	}
	return entry
}

var _ core.AttemptStore = (*AttemptStore)(nil)
