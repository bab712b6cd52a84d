package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/goliatone/go-hooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultDueBatchSize = 100

type DeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryRecord]
}

func NewDeliveryStore(db *bun.DB) (*DeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	return &DeliveryStore{db: db, repo: repo}, nil
}

func (s *DeliveryStore) CreateDelivery(ctx context.Context, in core.CreateDeliveryInput) (core.Delivery, error) {
	if s == nil || s.repo == nil {
		return core.Delivery{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if strings.TrimSpace(in.WebhookID) == "" || strings.TrimSpace(in.BusinessID) == "" {
		return core.Delivery{}, fmt.Errorf("sqlstore: webhook id and business id are required")
	}
	if strings.TrimSpace(in.EventID) == "" || strings.TrimSpace(in.EventType) == "" {
		return core.Delivery{}, fmt.Errorf("sqlstore: event id and event type are required")
	}

	created, err := s.repo.Create(ctx, newDeliveryRecord(uuid.NewString(), in, time.Now().UTC()))
	if err != nil {
		return core.Delivery{}, err
	}
	return created.toDomain(), nil
}

func (s *DeliveryStore) GetDelivery(ctx context.Context, id string) (core.Delivery, error) {
	record, err := s.getRecord(ctx, id)
	if err != nil {
		return core.Delivery{}, err
	}
	return record.toDomain(), nil
}

func (s *DeliveryStore) getRecord(ctx context.Context, id string) (*deliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record := &deliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: delivery %q", core.ErrNotFound, id)
		}
		return nil, err
	}
	return record, nil
}

func (s *DeliveryStore) ListDeliveries(ctx context.Context, filter core.DeliveryFilter) (core.DeliveryPage, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryPage{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
	}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, max(filter.Offset, 0)))
	}
	if webhookID := strings.TrimSpace(filter.WebhookID); webhookID != "" {
		selectors = append(selectors, repository.SelectBy("webhook_id", "=", webhookID))
	}
	if businessID := strings.TrimSpace(filter.BusinessID); businessID != "" {
		selectors = append(selectors, repository.SelectBy("business_id", "=", businessID))
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.DeliveryPage{}, err
	}
	items := make([]core.Delivery, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return core.DeliveryPage{
		Deliveries: items,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

// Transition is a single conditional UPDATE on (id, status). When no row
// matches, the current row is read back to tell a lost race from a missing
// delivery. next_retry_at is written only for retrying and cleared for every
// other target status.
func (s *DeliveryStore) Transition(
	ctx context.Context,
	id string,
	expected core.DeliveryStatus,
	next core.DeliveryStatus,
	update core.DeliveryUpdate,
) (core.Delivery, error) {
	if s == nil || s.db == nil {
		return core.Delivery{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if err := core.ValidateTransition(next, update); err != nil {
		return core.Delivery{}, err
	}
	id = strings.TrimSpace(id)
	now := time.Now().UTC()

	query := s.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("status = ?", string(next)).
		Set("updated_at = ?", now)
	if update.IncrementAttempts {
		query = query.Set("attempts = attempts + 1")
	}
	if update.LastError != nil {
		query = query.Set("last_error = ?", *update.LastError)
	}
	if update.LastStatusCode != nil {
		query = query.Set("last_status_code = ?", *update.LastStatusCode)
	}
	if update.LastAttemptedAt != nil {
		query = query.Set("last_attempted_at = ?", update.LastAttemptedAt.UTC())
	}
	if update.DeliveredAt != nil {
		query = query.Set("delivered_at = ?", update.DeliveredAt.UTC())
	}
	if next == core.DeliveryStatusRetrying {
		query = query.Set("next_retry_at = ?", update.NextRetryAt.UTC())
	} else {
		query = query.Set("next_retry_at = NULL")
	}

	res, err := query.
		Where("id = ?", id).
		Where("status = ?", string(expected)).
		Exec(ctx)
	if err != nil {
		return core.Delivery{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Delivery{}, err
	}

	current, err := s.getRecord(ctx, id)
	if err != nil {
		return core.Delivery{}, err
	}
	if affected == 0 {
		return core.Delivery{}, &core.ConflictError{
			DeliveryID: id,
			Expected:   expected,
			Actual:     core.DeliveryStatus(current.Status),
		}
	}
	return current.toDomain(), nil
}

// DueForRetry pages through due rows by (next_retry_at, id) keyset so rows
// rescheduled during the walk are never revisited and the sequence ends.
func (s *DeliveryStore) DueForRetry(ctx context.Context, now time.Time, batchSize int) iter.Seq2[core.Delivery, error] {
	if batchSize <= 0 {
		batchSize = defaultDueBatchSize
	}
	now = now.UTC()
	return func(yield func(core.Delivery, error) bool) {
		if s == nil || s.db == nil {
			yield(core.Delivery{}, fmt.Errorf("sqlstore: delivery store is not configured"))
			return
		}
		var (
			cursorAt *time.Time
			cursorID string
		)
		for {
			if err := ctx.Err(); err != nil {
				yield(core.Delivery{}, err)
				return
			}
			var records []deliveryRecord
			query := s.db.NewSelect().
				Model(&records).
				Where("?TableAlias.status = ?", string(core.DeliveryStatusRetrying)).
				Where("?TableAlias.next_retry_at <= ?", now)
			if cursorAt != nil {
				query = query.Where(
					"(?TableAlias.next_retry_at > ? OR (?TableAlias.next_retry_at = ? AND ?TableAlias.id > ?))",
					*cursorAt, *cursorAt, cursorID,
				)
			}
			err := query.
				OrderExpr("?TableAlias.next_retry_at ASC, ?TableAlias.id ASC").
				Limit(batchSize).
				Scan(ctx)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				yield(core.Delivery{}, err)
				return
			}
			for i := range records {
				if !yield(records[i].toDomain(), nil) {
					return
				}
			}
			if len(records) < batchSize {
				return
			}
			last := records[len(records)-1]
			if last.NextRetryAt == nil {
				return
			}
			at := last.NextRetryAt.UTC()
			cursorAt = &at
			cursorID = last.ID
		}
	}
}

func (s *DeliveryStore) StalePending(ctx context.Context, olderThan time.Time, limit int) ([]core.Delivery, error) {
	return s.stale(ctx, core.DeliveryStatusPending, "created_at", olderThan, limit)
}

// StaleDelivering uses updated_at, which the claim transition stamps.
func (s *DeliveryStore) StaleDelivering(ctx context.Context, olderThan time.Time, limit int) ([]core.Delivery, error) {
	return s.stale(ctx, core.DeliveryStatusDelivering, "updated_at", olderThan, limit)
}

func (s *DeliveryStore) stale(
	ctx context.Context,
	status core.DeliveryStatus,
	column string,
	olderThan time.Time,
	limit int,
) ([]core.Delivery, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if limit <= 0 {
		limit = defaultDueBatchSize
	}
	var records []deliveryRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(status)).
		Where("?TableAlias.? <= ?", bun.Ident(column), olderThan.UTC()).
		OrderExpr("?TableAlias.? ASC", bun.Ident(column)).
		Limit(limit).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	out := make([]core.Delivery, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}
