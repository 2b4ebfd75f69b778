package model

import (
	"fmt"

	"github.com/oklog/ulid/v2"

	"peach-subscription-billing/internal/domain"
)

// Record identifiers are ULID-backed newtypes. Parsing happens once at the
// adapter boundary so raw strings never leak into ledger logic.

type (
	PaymentID       string
	SubscriptionID  string
	UserID          string
	PlanID          string
	PaymentMethodID string
	NotificationID  string
)

func NewPaymentID() PaymentID             { return PaymentID(ulid.Make().String()) }
func NewSubscriptionID() SubscriptionID   { return SubscriptionID(ulid.Make().String()) }
func NewUserID() UserID                   { return UserID(ulid.Make().String()) }
func NewPlanID() PlanID                   { return PlanID(ulid.Make().String()) }
func NewPaymentMethodID() PaymentMethodID { return PaymentMethodID(ulid.Make().String()) }
func NewNotificationID() NotificationID   { return NotificationID(ulid.Make().String()) }

func (id PaymentID) String() string       { return string(id) }
func (id SubscriptionID) String() string  { return string(id) }
func (id UserID) String() string          { return string(id) }
func (id PlanID) String() string          { return string(id) }
func (id PaymentMethodID) String() string { return string(id) }
func (id NotificationID) String() string  { return string(id) }

func (id PaymentID) IsZero() bool      { return id == "" }
func (id SubscriptionID) IsZero() bool { return id == "" }
func (id UserID) IsZero() bool         { return id == "" }
func (id PlanID) IsZero() bool         { return id == "" }

func parseULID(kind, s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%s id is empty: %w", kind, domain.ErrInvalidArgument)
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", fmt.Errorf("%s id %q: %w", kind, s, domain.ErrInvalidArgument)
	}
	return s, nil
}

// ParseSubscriptionID validates an externally supplied subscription id
// (e.g. a webhook custom parameter) before it touches the ledgers.
func ParseSubscriptionID(s string) (SubscriptionID, error) {
	v, err := parseULID("subscription", s)
	if err != nil {
		return "", err
	}
	return SubscriptionID(v), nil
}

func ParseUserID(s string) (UserID, error) {
	v, err := parseULID("user", s)
	if err != nil {
		return "", err
	}
	return UserID(v), nil
}

func ParsePaymentID(s string) (PaymentID, error) {
	v, err := parseULID("payment", s)
	if err != nil {
		return "", err
	}
	return PaymentID(v), nil
}
