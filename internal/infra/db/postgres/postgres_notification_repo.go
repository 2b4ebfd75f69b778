package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
)

var _ repository.NotificationRepository = (*notificationRepo)(nil)

type notificationRepo struct{ pool *pgxpool.Pool }

func NewNotificationRepo(pool *pgxpool.Pool) *notificationRepo {
	return &notificationRepo{pool: pool}
}

func (r *notificationRepo) Save(ctx context.Context, tx repository.Tx, n *model.Notification) error {
	const q = `
INSERT INTO notifications (id, user_id, subscription_id, kind, message, acknowledged, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`

	_, err := execSQL(ctx, r.pool, tx, q, n.ID, n.UserID, n.SubscriptionID, n.Kind, n.Message, n.Acknowledged, n.CreatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}

// Exists reports whether a notification of the given kind was recorded for the
// subscription strictly after since. The scheduler uses it to notify at most
// once per window instead of on every sweep.
func (r *notificationRepo) Exists(ctx context.Context, tx repository.Tx, subscriptionID model.SubscriptionID, kind string, since time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM notifications
   WHERE subscription_id=$1 AND kind=$2 AND created_at > $3
);`
	row, err := pickRow(ctx, r.pool, tx, q, subscriptionID, kind, since)
	if err != nil {
		return false, err
	}

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *notificationRepo) ListByUser(ctx context.Context, tx repository.Tx, userID model.UserID, onlyUnacknowledged bool) ([]*model.Notification, error) {
	const q = `
SELECT id, user_id, subscription_id, kind, message, acknowledged, created_at
  FROM notifications
 WHERE user_id=$1 AND (NOT $2 OR acknowledged=FALSE)
 ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, onlyUnacknowledged)
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

	var out []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.SubscriptionID, &n.Kind, &n.Message, &n.Acknowledged, &n.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *notificationRepo) Acknowledge(ctx context.Context, tx repository.Tx, userID model.UserID, id model.NotificationID) error {
	const q = `UPDATE notifications SET acknowledged=TRUE WHERE id=$2 AND user_id=$1;`
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
