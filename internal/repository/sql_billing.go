package repository

import (
	"context"
	"database/sql"
	"echoscribe/internal/models"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var entitlementColumns = []string{
	"owner_id", "tier", "monthly", "used", "lifetime_used", "reset_at",
	"subscription_status", "subscription_id", "customer_id", "created_at", "updated_at",
}

var subscriptionColumns = []string{
	"id", "owner_id", "customer_id", "status", "tier", "current_period_start",
	"current_period_end", "cancel_at_period_end", "created_at", "updated_at",
}

// GetEntitlement retrieves an owner's entitlement
func (s *SQLStore) GetEntitlement(ctx context.Context, ownerID string) (*models.Entitlement, error) {
	q := s.sb.Select(entitlementColumns...).From("entitlements").Where(sq.Eq{"owner_id": ownerID})
	row, err := s.queryRow(ctx, s.db, q)
	if err != nil {
		return nil, err
	}

	var e models.Entitlement
	var resetAt sql.NullInt64
	var subscriptionID, customerID sql.NullString
	var createdAt, updatedAt int64
	err = row.Scan(
		&e.OwnerID,
		&e.Tier,
		&e.Monthly,
		&e.Used,
		&e.LifetimeUsed,
		&resetAt,
		&e.SubscriptionStatus,
		&subscriptionID,
		&customerID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}

	e.ResetAt = timeFromNull(resetAt)
	e.SubscriptionID = subscriptionID.String
	e.CustomerID = customerID.String
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &e, nil
}

func (s *SQLStore) entitlementInsert(ent *models.Entitlement) sq.InsertBuilder {
	now := time.Now().UTC()
	if ent.CreatedAt.IsZero() {
		ent.CreatedAt = now
	}
	ent.UpdatedAt = now

	return s.sb.Insert("entitlements").Columns(entitlementColumns...).Values(
		ent.OwnerID,
		ent.Tier,
		ent.Monthly,
		ent.Used,
		ent.LifetimeUsed,
		unixOrNull(ent.ResetAt),
		ent.SubscriptionStatus,
		stringOrNull(ent.SubscriptionID),
		stringOrNull(ent.CustomerID),
		ent.CreatedAt.Unix(),
		ent.UpdatedAt.Unix(),
	)
}

// UpsertEntitlement writes the full entitlement record
func (s *SQLStore) UpsertEntitlement(ctx context.Context, ent *models.Entitlement) error {
	upsert := s.entitlementInsert(ent).Suffix(`ON CONFLICT (owner_id) DO UPDATE SET
		tier = excluded.tier,
		monthly = excluded.monthly,
		used = excluded.used,
		lifetime_used = excluded.lifetime_used,
		reset_at = excluded.reset_at,
		subscription_status = excluded.subscription_status,
		subscription_id = excluded.subscription_id,
		customer_id = excluded.customer_id,
		updated_at = excluded.updated_at`)
	if _, err := s.exec(ctx, s.db, upsert); err != nil {
		return fmt.Errorf("failed to upsert entitlement: %w", err)
	}
	return nil
}

// CreateEntitlementIfAbsent inserts ent unless the owner already has one
func (s *SQLStore) CreateEntitlementIfAbsent(ctx context.Context, ent *models.Entitlement) (bool, error) {
	res, err := s.exec(ctx, s.db, s.entitlementInsert(ent).Suffix("ON CONFLICT (owner_id) DO NOTHING"))
	if err != nil {
		return false, fmt.Errorf("failed to create entitlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// IncrementUsage adds one consumed article; free tier also counts toward lifetime usage
func (s *SQLStore) IncrementUsage(ctx context.Context, ownerID string) error {
	update := s.sb.Update("entitlements").
		Set("used", sq.Expr("used + 1")).
		Set("lifetime_used", sq.Expr("lifetime_used + CASE WHEN tier = ? THEN 1 ELSE 0 END", models.TierFree)).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"owner_id": ownerID})
	if err := s.execAffecting(ctx, update); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// DeleteEntitlement removes an owner's entitlement, returning ErrNotFound if there is none
func (s *SQLStore) DeleteEntitlement(ctx context.Context, ownerID string) error {
	if err := s.execAffecting(ctx, s.sb.Delete("entitlements").Where(sq.Eq{"owner_id": ownerID})); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete entitlement: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by processor id
func (s *SQLStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row, err := s.queryRow(ctx, s.db, s.sb.Select(subscriptionColumns...).From("subscriptions").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpsertSubscription writes a subscription keyed by processor id
func (s *SQLStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	upsert := s.sb.Insert("subscriptions").Columns(subscriptionColumns...).Values(
		sub.ID,
		sub.OwnerID,
		stringOrNull(sub.CustomerID),
		sub.Status,
		sub.Tier,
		sub.CurrentPeriodStart.Unix(),
		sub.CurrentPeriodEnd.Unix(),
		sub.CancelAtPeriodEnd,
		sub.CreatedAt.Unix(),
		sub.UpdatedAt.Unix(),
	).Suffix(`ON CONFLICT (id) DO UPDATE SET
		owner_id = excluded.owner_id,
		customer_id = excluded.customer_id,
		status = excluded.status,
		tier = excluded.tier,
		current_period_start = excluded.current_period_start,
		current_period_end = excluded.current_period_end,
		cancel_at_period_end = excluded.cancel_at_period_end,
		updated_at = excluded.updated_at`)
	if _, err := s.exec(ctx, s.db, upsert); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// ListSubscriptionsByOwner lists an owner's subscriptions, most recent period first
func (s *SQLStore) ListSubscriptionsByOwner(ctx context.Context, ownerID string) ([]*models.Subscription, error) {
	q := s.sb.Select(subscriptionColumns...).From("subscriptions").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("current_period_start DESC")
	rows, err := s.query(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteSubscriptionsByOwner removes every subscription of an owner
func (s *SQLStore) DeleteSubscriptionsByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.exec(ctx, s.db, s.sb.Delete("subscriptions").Where(sq.Eq{"owner_id": ownerID}))
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	return res.RowsAffected()
}

// RecordEvent stores a billing event, counting repeated deliveries of the same id
func (s *SQLStore) RecordEvent(ctx context.Context, event *models.BillingEvent) error {
	now := time.Now().UTC()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	event.ProcessedAt = now

	upsert := s.sb.Insert("billing_events").
		Columns("id", "type", "payload", "outcome", "error", "deliveries", "received_at", "processed_at").
		Values(
			event.ID,
			event.Type,
			string(event.Payload),
			event.Outcome,
			stringOrNull(event.Error),
			1,
			event.ReceivedAt.Unix(),
			event.ProcessedAt.Unix(),
		).Suffix(`ON CONFLICT (id) DO UPDATE SET
		payload = excluded.payload,
		outcome = excluded.outcome,
		error = excluded.error,
		deliveries = billing_events.deliveries + 1,
		processed_at = excluded.processed_at`)
	if _, err := s.exec(ctx, s.db, upsert); err != nil {
		return fmt.Errorf("failed to record billing event: %w", err)
	}
	return nil
}

// GetEvent retrieves a recorded billing event
func (s *SQLStore) GetEvent(ctx context.Context, id string) (*models.BillingEvent, error) {
	q := s.sb.Select("id", "type", "payload", "outcome", "error", "deliveries", "received_at", "processed_at").
		From("billing_events").
		Where(sq.Eq{"id": id})
	row, err := s.queryRow(ctx, s.db, q)
	if err != nil {
		return nil, err
	}

	var e models.BillingEvent
	var payload string
	var errText sql.NullString
	var receivedAt, processedAt int64
	if err := row.Scan(&e.ID, &e.Type, &payload, &e.Outcome, &errText, &e.Deliveries, &receivedAt, &processedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get billing event: %w", err)
	}
	e.Payload = []byte(payload)
	e.Error = errText.String
	e.ReceivedAt = time.Unix(receivedAt, 0).UTC()
	e.ProcessedAt = time.Unix(processedAt, 0).UTC()
	return &e, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var customerID sql.NullString
	var periodStart, periodEnd, createdAt, updatedAt int64

	err := row.Scan(
		&sub.ID,
		&sub.OwnerID,
		&customerID,
		&sub.Status,
		&sub.Tier,
		&periodStart,
		&periodEnd,
		&sub.CancelAtPeriodEnd,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.CustomerID = customerID.String
	sub.CurrentPeriodStart = time.Unix(periodStart, 0).UTC()
	sub.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}
