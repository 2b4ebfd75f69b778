package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
)

var _ repository.PaymentMethodRepository = (*paymentMethodRepo)(nil)

type paymentMethodRepo struct{ pool *pgxpool.Pool }

func NewPaymentMethodRepo(pool *pgxpool.Pool) *paymentMethodRepo {
	return &paymentMethodRepo{pool: pool}
}

// Save upserts on (user_id, token). A webhook redelivered for an already
// stored registration only refreshes the card metadata; the stored row's
// identity and default/active flags are copied back into m.
func (r *paymentMethodRepo) Save(ctx context.Context, tx repository.Tx, m *model.PaymentMethodDetail) error {
	const q = `
INSERT INTO payment_methods (
  id, user_id, token, brand, last4, expiry_month, expiry_year, is_default, is_active, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (user_id, token) DO UPDATE SET
  brand=$4, last4=$5, expiry_month=$6, expiry_year=$7, updated_at=$11
RETURNING id, is_default, is_active, created_at;`

	row, err := pickRow(ctx, r.pool, tx, q, m.ID, m.UserID, m.Token, m.Brand, m.Last4, m.ExpiryMonth, m.ExpiryYear, m.IsDefault, m.IsActive, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&m.ID, &m.IsDefault, &m.IsActive, &m.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentMethodRepo) FindByID(ctx context.Context, tx repository.Tx, id model.PaymentMethodID) (*model.PaymentMethodDetail, error) {
	const q = `
SELECT id, user_id, token, brand, last4, expiry_month, expiry_year, is_default, is_active, created_at, updated_at
  FROM payment_methods
 WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentMethodRepo) FindDefaultActiveByUser(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.PaymentMethodDetail, error) {
	const q = `
SELECT id, user_id, token, brand, last4, expiry_month, expiry_year, is_default, is_active, created_at, updated_at
  FROM payment_methods
 WHERE user_id=$1 AND is_default=TRUE AND is_active=TRUE
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID)
}

func (r *paymentMethodRepo) ListByUser(ctx context.Context, tx repository.Tx, userID model.UserID) ([]*model.PaymentMethodDetail, error) {
	const q = `
SELECT id, user_id, token, brand, last4, expiry_month, expiry_year, is_default, is_active, created_at, updated_at
  FROM payment_methods
 WHERE user_id=$1
 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
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

	var out []*model.PaymentMethodDetail
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// SetDefault flips the default flag to the target method in one statement so
// a user can never end up with two defaults. Zero rows means the target does
// not exist or belongs to someone else.
func (r *paymentMethodRepo) SetDefault(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error {
	const q = `
UPDATE payment_methods
   SET is_default = (id = $2),
       updated_at = NOW()
 WHERE user_id = $1
   AND EXISTS (
         SELECT 1 FROM payment_methods t
          WHERE t.id = $2 AND t.user_id = $1
       );`

	cmd, err := execSQL(ctx, r.pool, tx, q, userID, id)
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

func (r *paymentMethodRepo) Deactivate(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error {
	const q = `
UPDATE payment_methods
   SET is_active = FALSE,
       is_default = FALSE,
       updated_at = NOW()
 WHERE id = $2 AND user_id = $1;`

	cmd, err := execSQL(ctx, r.pool, tx, q, userID, id)
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

func (r *paymentMethodRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.PaymentMethodDetail, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanPaymentMethod(row)
}

func scanPaymentMethod(row pgx.Row) (*model.PaymentMethodDetail, error) {
	m := &model.PaymentMethodDetail{}
	if err := row.Scan(&m.ID, &m.UserID, &m.Token, &m.Brand, &m.Last4, &m.ExpiryMonth, &m.ExpiryYear, &m.IsDefault, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return m, nil
}
