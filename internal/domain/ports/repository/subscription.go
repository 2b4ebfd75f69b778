package repository

import (
	"context"
	"time"

	"peach-subscription-billing/internal/domain/model"
)

// SubscriptionRepository is the port for subscription records. As with
// payments, status moves use a compare-and-swap on the previously read status.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id model.SubscriptionID) (*model.Subscription, error)
	FindActiveByUser(ctx context.Context, tx Tx, userID model.UserID) (*model.Subscription, error)
	UpdateIfStatus(ctx context.Context, tx Tx, sub *model.Subscription, expect model.SubscriptionStatus) (bool, error)

	// ListRenewalDue returns Active (and, when includeGrace, Grace)
	// subscriptions whose end date lies strictly before now.
	ListRenewalDue(ctx context.Context, tx Tx, now time.Time, includeGrace bool, limit int) ([]*model.Subscription, error)
	// ListGraceExpired returns Active/Grace subscriptions whose grace-end date
	// lies strictly before now.
	ListGraceExpired(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)

	// CountByStatus feeds the status gauge.
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
