package model

import (
	"time"

	"peach-subscription-billing/internal/domain"
)

type NotificationKind string

const (
	// NotificationKindManualRenewal asks the user to renew by hand because the
	// automatic charge failed or no stored payment method exists.
	NotificationKindManualRenewal NotificationKind = "manual_renewal_required"
	// NotificationKindRenewalFailed reports one failed automatic charge.
	NotificationKindRenewalFailed NotificationKind = "renewal_failed"
)

// Notification is one entry in a user's append-only mailbox.
type Notification struct {
	ID             NotificationID
	UserID         UserID
	SubscriptionID *SubscriptionID
	Kind           NotificationKind
	Message        string
	Acknowledged   bool
	CreatedAt      time.Time
}

func NewNotification(userID UserID, subscriptionID *SubscriptionID, kind NotificationKind, message string) (*Notification, error) {
	if userID == "" || kind == "" || message == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Notification{
		ID:             NewNotificationID(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Kind:           kind,
		Message:        message,
		CreatedAt:      time.Now(),
	}, nil
}
