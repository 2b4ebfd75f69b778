package repository

import (
	"context"
	"time"

	"peach-subscription-billing/internal/domain/model"
)

// -----------------------------
// Notifications
// -----------------------------

type NotificationRepository interface {
	Save(ctx context.Context, tx Tx, n *model.Notification) error
	// Exists reports whether a notification of the given kind was already
	// recorded for the subscription since the given instant. Used to avoid
	// re-notifying on every scheduler sweep.
	Exists(ctx context.Context, tx Tx, subscriptionID model.SubscriptionID, kind string, since time.Time) (bool, error)
	ListByUser(ctx context.Context, tx Tx, userID model.UserID, onlyUnacknowledged bool) ([]*model.Notification, error)
	Acknowledge(ctx context.Context, tx Tx, userID model.UserID, id model.NotificationID) error
}
