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

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*partnerSubscriptionRecord]
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*partnerSubscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{db: db, repo: repo}, nil
}

// Upsert keys subscriptions on partner id: one endpoint per partner, with
// inserts and replacements in the same transaction.
func (s *SubscriptionStore) Upsert(ctx context.Context, in core.UpsertSubscriptionInput) (core.Subscription, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	partnerID := strings.TrimSpace(in.PartnerID)
	endpoint := strings.TrimSpace(in.EndpointURL)
	if partnerID == "" {
		return core.Subscription{}, fmt.Errorf("sqlstore: partner id is required")
	}
	if endpoint == "" {
		return core.Subscription{}, fmt.Errorf("sqlstore: endpoint url is required")
	}
	now := time.Now().UTC()

	var out core.Subscription
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &partnerSubscriptionRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.partner_id = ?", partnerID).
			Limit(1).
			Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == sql.ErrNoRows {
			record := &partnerSubscriptionRecord{
				ID:          uuid.NewString(),
				PartnerID:   partnerID,
				EndpointURL: endpoint,
				Secret:      strings.TrimSpace(in.Secret),
				EventTypes:  normalizeEventTypes(in.EventTypes),
				Active:      in.Active,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if _, createErr := tx.NewInsert().Model(record).Exec(ctx); createErr != nil {
				return createErr
			}
			out = subscriptionToDomain(record)
			return nil
		}

		existing.EndpointURL = endpoint
		existing.Secret = strings.TrimSpace(in.Secret)
		existing.EventTypes = normalizeEventTypes(in.EventTypes)
		existing.Active = in.Active
		existing.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = subscriptionToDomain(existing)
		return nil
	})
	if err != nil {
		return core.Subscription{}, err
	}
	return out, nil
}

func (s *SubscriptionStore) Get(ctx context.Context, partnerID string) (core.Subscription, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	record := &partnerSubscriptionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.partner_id = ?", strings.TrimSpace(partnerID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Subscription{}, fmt.Errorf("sqlstore: subscription not found for partner %q", partnerID)
		}
		return core.Subscription{}, err
	}
	return subscriptionToDomain(record), nil
}

// Resolve narrows to active rows in SQL and applies the event type match,
// wildcard included, in Go where the set semantics live.
func (s *SubscriptionStore) Resolve(ctx context.Context, eventType string) ([]core.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("sqlstore: event type is required")
	}
	var records []partnerSubscriptionRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.active = ?", true).
		Order("partner_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]core.Subscription, 0, len(records))
	for i := range records {
		subscription := subscriptionToDomain(&records[i])
		if subscription.EventTypes.Matches(eventType) {
			matches = append(matches, subscription)
		}
	}
	return matches, nil
}

func subscriptionToDomain(record *partnerSubscriptionRecord) core.Subscription {
	if record == nil {
		return core.Subscription{}
	}
	return core.Subscription{
		ID:          record.ID,
		PartnerID:   record.PartnerID,
		EndpointURL: record.EndpointURL,
		Secret:      record.Secret,
		EventTypes:  core.NewEventTypeSet(record.EventTypes...),
		Active:      record.Active,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func normalizeEventTypes(types []string) []string {
	out := make([]string, 0, len(types))
	seen := map[string]struct{}{}
	for _, value := range types {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

var _ core.SubscriptionStore = (*SubscriptionStore)(nil)
