package sqlstore

import (
	"context"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-dispatch/core"
)

// DeliveryLogStore answers the partner-facing delivery log query: attempt
// rows joined with their event type and a payload summary, filterable and
// paginated with a window-independent total.
type DeliveryLogStore struct {
	db       *bun.DB
	repo     repository.Repository[*deliveryAttemptRecord]
	pageCfg  core.LogConfig
	eventSrc *EventStore
}

func NewDeliveryLogStore(db *bun.DB, pageCfg core.LogConfig) (*DeliveryLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryAttemptRecord](db, attemptHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery log repository wiring: %w", err)
		}
	}
	eventStore, err := NewEventStore(db)
	if err != nil {
		return nil, err
	}
	return &DeliveryLogStore{
		db:       db,
		repo:     repo,
		pageCfg:  pageCfg,
		eventSrc: eventStore,
	}, nil
}

func (s *DeliveryLogStore) List(ctx context.Context, filter core.DeliveryLogFilter) (core.DeliveryLogPage, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryLogPage{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	partnerID := strings.TrimSpace(filter.PartnerID)
	if partnerID == "" {
		return core.DeliveryLogPage{}, fmt.Errorf("sqlstore: partner id is required")
	}
	limit, offset := core.NormalizePage(filter.Limit, filter.Offset, s.pageCfg)

	direction := "ASC"
	if filter.Sort == core.SortDesc {
		direction = "DESC"
	}

	selectors := []repository.SelectCriteria{
		repository.SelectBy("partner_id", "=", partnerID),
		repository.OrderBy("created_at " + direction),
		repository.OrderBy("id ASC"),
		repository.SelectPaginate(limit, offset),
	}
	if status := strings.TrimSpace(filter.Status); status != "" && status != "all" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	if filter.From != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", ">=", filter.From.UTC()))
	}
	if filter.To != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", "<=", filter.To.UTC()))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		needle := "%" + strings.ToLower(q) + "%"
		selectors = append(selectors, repository.SelectRawProcessor(func(query *bun.SelectQuery) *bun.SelectQuery {
			return query.Where(
				"EXISTS (SELECT 1 FROM dispatch_events AS de WHERE de.id = ?TableAlias.event_id "+
					"AND (LOWER(de.event_type) LIKE ? OR LOWER(CAST(de.payload AS TEXT)) LIKE ?))",
				needle, needle,
			)
		}))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.DeliveryLogPage{}, err
	}

	events, err := s.eventsByID(ctx, records)
	if err != nil {
		return core.DeliveryLogPage{}, err
	}
	items := make([]core.DeliveryLogEntry, 0, len(records))
	for _, record := range records {
		entry := core.DeliveryLogEntry{Attempt: attemptToDomain(record)}
		if event, ok := events[record.EventID]; ok {
			entry.EventType = event.Type
			entry.Summary = core.PayloadSummary(event.Payload)
		}
		items = append(items, entry)
	}
	return core.DeliveryLogPage{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// eventsByID loads the events behind one page of attempts in a single
// select.
func (s *DeliveryLogStore) eventsByID(ctx context.Context, records []*deliveryAttemptRecord) (map[string]core.Event, error) {
	if len(records) == 0 {
		return map[string]core.Event{}, nil
	}
	ids := make([]string, 0, len(records))
	seen := map[string]struct{}{}
	for _, record := range records {
		if record == nil {
			continue
		}
		if _, ok := seen[record.EventID]; ok {
			continue
		}
		seen[record.EventID] = struct{}{}
		ids = append(ids, record.EventID)
	}

	var eventRecords []eventRecord
	err := s.db.NewSelect().
		Model(&eventRecords).
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	events := make(map[string]core.Event, len(eventRecords))
	for i := range eventRecords {
		events[eventRecords[i].ID] = eventToDomain(&eventRecords[i])
	}
	return events, nil
}

var _ core.DeliveryLogReader = (*DeliveryLogStore)(nil)
