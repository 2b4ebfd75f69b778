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

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, subscription_id, type, amount, currency, method, merchant_txn_id, checkout_id, gateway_pay_id, payment_brand, enable_recurring, recurring_stored, failure_reason, retry_count, status, created_at, updated_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
) ON CONFLICT (id) DO UPDATE SET
  checkout_id=$9, gateway_pay_id=$10, payment_brand=$11, enable_recurring=$12, recurring_stored=$13, failure_reason=$14, retry_count=$15, status=$16, updated_at=$18, completed_at=$19;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.SubscriptionID, p.Type, p.Amount, p.Currency, p.Method, p.MerchantTxnID, p.CheckoutID, p.GatewayPayID, p.PaymentBrand, p.EnableRecurring, p.RecurringStored, p.FailureReason, p.RetryCount, p.Status, p.CreatedAt, p.UpdatedAt, p.CompletedAt)
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

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id model.PaymentID) (*model.Payment, error) {
	q := `SELECT id, user_id, subscription_id, type, amount, currency, method, merchant_txn_id, checkout_id, gateway_pay_id, payment_brand, enable_recurring, recurring_stored, failure_reason, retry_count, status, created_at, updated_at, completed_at FROM payments WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByMerchantTxnID(ctx context.Context, tx repository.Tx, merchantTxnID string) (*model.Payment, error) {
	q := `SELECT id, user_id, subscription_id, type, amount, currency, method, merchant_txn_id, checkout_id, gateway_pay_id, payment_brand, enable_recurring, recurring_stored, failure_reason, retry_count, status, created_at, updated_at, completed_at FROM payments WHERE merchant_txn_id=$1 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, merchantTxnID)
}

func (r *paymentRepo) SetCheckoutID(ctx context.Context, tx repository.Tx, id model.PaymentID, checkoutID string) error {
	const q = `UPDATE payments SET checkout_id=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, checkoutID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateIfStatus writes the payment's mutable columns only while the stored
// status still equals expect. The webhook and the reconciler race on pending
// payments; the status guard makes the first writer win.
func (r *paymentRepo) UpdateIfStatus(ctx context.Context, tx repository.Tx, p *model.Payment, expect model.PaymentStatus) (bool, error) {
	const q = `
UPDATE payments
   SET status = $2,
       checkout_id = $3,
       gateway_pay_id = $4,
       payment_brand = $5,
       recurring_stored = $6,
       failure_reason = $7,
       retry_count = $8,
       updated_at = $9,
       completed_at = $10
 WHERE id = $1
   AND status = $11;`

	cmd, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Status, p.CheckoutID, p.GatewayPayID, p.PaymentBrand, p.RecurringStored, p.FailureReason, p.RetryCount, p.UpdatedAt, p.CompletedAt, expect)
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

func (r *paymentRepo) MarkRecurringStored(ctx context.Context, tx repository.Tx, id model.PaymentID) (bool, error) {
	const q = `UPDATE payments SET recurring_stored=TRUE, updated_at=NOW() WHERE id=$1 AND recurring_stored=FALSE;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
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

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, user_id, subscription_id, type, amount, currency, method, merchant_txn_id, checkout_id, gateway_pay_id, payment_brand, enable_recurring, recurring_stored, failure_reason, retry_count, status, created_at, updated_at, completed_at FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
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

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	if err := row.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &p.Type, &p.Amount, &p.Currency, &p.Method, &p.MerchantTxnID, &p.CheckoutID, &p.GatewayPayID, &p.PaymentBrand, &p.EnableRecurring, &p.RecurringStored, &p.FailureReason, &p.RetryCount, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}
