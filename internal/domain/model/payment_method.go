package model

import (
	"time"

	"peach-subscription-billing/internal/domain"
)

// PaymentMethodDetail is a stored, reusable payment method: the gateway
// registration token plus the card facts worth showing to the user. The token
// is referenced by recurring charges, never copied onto payments.
type PaymentMethodDetail struct {
	ID          PaymentMethodID
	UserID      UserID
	Token       string // gateway registrationId
	Brand       string // VISA, MASTER, ...
	Last4       string
	ExpiryMonth string
	ExpiryYear  string
	IsDefault   bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewPaymentMethodDetail(userID UserID, token, brand, last4 string) (*PaymentMethodDetail, error) {
	if userID == "" || token == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &PaymentMethodDetail{
		ID:        NewPaymentMethodID(),
		UserID:    userID,
		Token:     token,
		Brand:     brand,
		Last4:     last4,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
