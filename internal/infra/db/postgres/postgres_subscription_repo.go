package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, user_id, plan_id, status, price, currency, start_at, end_at, grace_end_at, billing_anchor, auto_renew, renewal_attempts, max_renewal_attempts, paused_at, last_payment_txn_id, last_payment_brand, last_payment_method, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
) ON CONFLICT (id) DO UPDATE SET
  plan_id=$3, status=$4, price=$5, currency=$6, start_at=$7, end_at=$8, grace_end_at=$9, billing_anchor=$10, auto_renew=$11, renewal_attempts=$12, max_renewal_attempts=$13, paused_at=$14, last_payment_txn_id=$15, last_payment_brand=$16, last_payment_method=$17, updated_at=$19;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.PlanID, s.Status, s.Price, s.Currency, s.StartAt, s.EndAt, s.GraceEndAt, s.BillingAnchor, s.AutoRenew, s.RenewalAttempts, s.MaxRenewalAttempts, s.PausedAt, s.LastPaymentTxnID, s.LastPaymentBrand, s.LastPaymentMethod, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.ErrAlreadyExists
			}
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id model.SubscriptionID) (*model.Subscription, error) {
	q := `
SELECT id, user_id, plan_id, status, price, currency, start_at, end_at, grace_end_at, billing_anchor, auto_renew, renewal_attempts, max_renewal_attempts, paused_at, last_payment_txn_id, last_payment_brand, last_payment_method, created_at, updated_at
  FROM subscriptions
 WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, id)
}

// FindActiveByUser returns the user's current non-terminal subscription.
// Expired and cancelled records stay behind as history.
func (r *subscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.Subscription, error) {
	const q = `
SELECT id, user_id, plan_id, status, price, currency, start_at, end_at, grace_end_at, billing_anchor, auto_renew, renewal_attempts, max_renewal_attempts, paused_at, last_payment_txn_id, last_payment_brand, last_payment_method, created_at, updated_at
  FROM subscriptions
 WHERE user_id=$1 AND status NOT IN ('expired','cancelled')
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID)
}

// UpdateIfStatus writes the subscription's mutable columns only while the
// stored status still equals expect, so a scheduler sweep and a webhook
// activation cannot both advance the same record.
func (r *subscriptionRepo) UpdateIfStatus(ctx context.Context, tx repository.Tx, s *model.Subscription, expect model.SubscriptionStatus) (bool, error) {
	const q = `
UPDATE subscriptions
   SET plan_id = $2,
       status = $3,
       price = $4,
       currency = $5,
       start_at = $6,
       end_at = $7,
       grace_end_at = $8,
       billing_anchor = $9,
       auto_renew = $10,
       renewal_attempts = $11,
       max_renewal_attempts = $12,
       paused_at = $13,
       last_payment_txn_id = $14,
       last_payment_brand = $15,
       last_payment_method = $16,
       updated_at = $17
 WHERE id = $1
   AND status = $18;`

	cmd, err := execSQL(ctx, r.pool, tx, q, s.ID, s.PlanID, s.Status, s.Price, s.Currency, s.StartAt, s.EndAt, s.GraceEndAt, s.BillingAnchor, s.AutoRenew, s.RenewalAttempts, s.MaxRenewalAttempts, s.PausedAt, s.LastPaymentTxnID, s.LastPaymentBrand, s.LastPaymentMethod, s.UpdatedAt, expect)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return false, err
		default:
			return false, domain.ErrOperationFailed
		}
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *subscriptionRepo) ListRenewalDue(ctx context.Context, tx repository.Tx, now time.Time, includeGrace bool, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, user_id, plan_id, status, price, currency, start_at, end_at, grace_end_at, billing_anchor, auto_renew, renewal_attempts, max_renewal_attempts, paused_at, last_payment_txn_id, last_payment_brand, last_payment_method, created_at, updated_at
  FROM subscriptions
 WHERE (status='active' OR (status='grace' AND $2))
   AND end_at IS NOT NULL
   AND end_at < $1
 ORDER BY end_at ASC
 LIMIT $3;`
	return r.queryMany(ctx, tx, q, now, includeGrace, limit)
}

func (r *subscriptionRepo) ListGraceExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, user_id, plan_id, status, price, currency, start_at, end_at, grace_end_at, billing_anchor, auto_renew, renewal_attempts, max_renewal_attempts, paused_at, last_payment_txn_id, last_payment_brand, last_payment_method, created_at, updated_at
  FROM subscriptions
 WHERE status IN ('active','grace')
   AND grace_end_at IS NOT NULL
   AND grace_end_at < $1
 ORDER BY grace_end_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch err {
		case pgx.ErrNoRows:
			return nil, domain.ErrNotFound
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.Status, &s.Price, &s.Currency, &s.StartAt, &s.EndAt, &s.GraceEndAt, &s.BillingAnchor, &s.AutoRenew, &s.RenewalAttempts, &s.MaxRenewalAttempts, &s.PausedAt, &s.LastPaymentTxnID, &s.LastPaymentBrand, &s.LastPaymentMethod, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}
