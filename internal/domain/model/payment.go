package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"            // checkout created; awaiting gateway outcome
	PaymentStatusCompleted         PaymentStatus = "completed"          // gateway reported success
	PaymentStatusFailed            PaymentStatus = "failed"             // declined, errored, or shopper cancelled
	PaymentStatusCancelled         PaymentStatus = "cancelled"          // cancelled by operator before settlement
	PaymentStatusRefunded          PaymentStatus = "refunded"           // fully refunded after completion
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded" // partially refunded after completion
)

// IsTerminal reports whether renewal logic treats the status as settled.
// Pending is the only non-terminal status; PartiallyRefunded may still move
// to Refunded when the remainder is returned.
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentStatusPending
}

// CanTransition reports whether the status machine allows moving to next.
// Self-transitions are handled by ApplyStatus as idempotent no-ops.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusCompleted || next == PaymentStatusFailed || next == PaymentStatusCancelled
	case PaymentStatusCompleted:
		return next == PaymentStatusRefunded || next == PaymentStatusPartiallyRefunded
	case PaymentStatusPartiallyRefunded:
		return next == PaymentStatusRefunded
	default:
		return false
	}
}

type PaymentType string

const (
	PaymentTypeOneTime   PaymentType = "one_time"  // shopper-driven checkout
	PaymentTypeRecurring PaymentType = "recurring" // scheduler-driven token charge
)

type PaymentMethod string

const (
	PaymentMethodCard      PaymentMethod = "card"
	PaymentMethodEFT       PaymentMethod = "eft"
	PaymentMethodVoucher   PaymentMethod = "voucher"
	PaymentMethodScanToPay PaymentMethod = "scan_to_pay"
)

// GatewayBrand returns the paymentBrand value the gateway expects on checkout.
func (m PaymentMethod) GatewayBrand() string {
	switch m {
	case PaymentMethodCard:
		return "CARD"
	case PaymentMethodEFT:
		return "EFT"
	case PaymentMethodVoucher:
		return "1VOUCHER"
	case PaymentMethodScanToPay:
		return "SCAN_TO_PAY"
	default:
		return ""
	}
}

// Tokenizable reports whether the method can produce a reusable registration
// token. Only card checkouts do; EFT/voucher/scan-to-pay always renew manually.
func (m PaymentMethod) Tokenizable() bool { return m == PaymentMethodCard }

// Gateway result codes with dedicated handling.
const (
	ResultCodeShopperCancelled = "100.396.104"

	resultPrefixSuccess         = "000.000"
	resultPrefixSuccessReview   = "000.100"
	resultPrefixPendingCheckout = "000.200"
)

// StatusFromResultCode maps a gateway result code to the payment status it
// implies. Every call site that interprets a result code goes through this
// function; reimplementing the mapping inline is how the statuses drift.
func StatusFromResultCode(code string) PaymentStatus {
	switch {
	case code == ResultCodeShopperCancelled:
		return PaymentStatusFailed
	case strings.HasPrefix(code, resultPrefixSuccess), strings.HasPrefix(code, resultPrefixSuccessReview):
		return PaymentStatusCompleted
	case strings.HasPrefix(code, resultPrefixPendingCheckout):
		return PaymentStatusPending
	default:
		return PaymentStatusFailed
	}
}

// IsSuccessCode reports whether the gateway code means the charge settled.
func IsSuccessCode(code string) bool { return StatusFromResultCode(code) == PaymentStatusCompleted }

const maxPaymentRetries = 3

// NewMerchantTxnID allocates the unique correlation key sent to the gateway
// on checkout and echoed back in webhooks and status responses.
func NewMerchantTxnID() string {
	return "TXN_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewRenewalTxnID allocates a correlation key for scheduler-driven charges.
func NewRenewalTxnID() string {
	return "RENEWAL_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Payment records one money movement against the gateway.
type Payment struct {
	ID              PaymentID
	UserID          UserID
	SubscriptionID  *SubscriptionID // nil for payments not tied to a subscription
	Type            PaymentType
	Amount          decimal.Decimal
	Currency        string          // ISO code, "ZAR"
	Method          PaymentMethod   // how the shopper chose to pay
	MerchantTxnID   string          // unique, immutable once assigned
	CheckoutID      string          // gateway checkout id, set after checkout creation
	GatewayPayID    string          // gateway payment id, set once the gateway settles
	PaymentBrand    string          // observed brand, e.g. VISA, EFT
	EnableRecurring bool            // checkout was created with createRegistration
	RecurringStored bool            // one-time token store already performed (or token charge)
	FailureReason   string
	RetryCount      int
	Status          PaymentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time // set when the first terminal status is reached
}

// NewPayment creates a Pending payment with a fresh TXN merchant transaction id.
func NewPayment(userID UserID, subscriptionID *SubscriptionID, amount decimal.Decimal, currency string, method PaymentMethod) (*Payment, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", domain.ErrValidation)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount %s is negative: %w", amount, domain.ErrValidation)
	}
	if currency == "" {
		currency = "ZAR"
	}
	now := time.Now()
	return &Payment{
		ID:              NewPaymentID(),
		UserID:          userID,
		SubscriptionID:  subscriptionID,
		Type:            PaymentTypeOneTime,
		Amount:          amount,
		Currency:        currency,
		Method:          method,
		MerchantTxnID:   NewMerchantTxnID(),
		EnableRecurring: method.Tokenizable(),
		Status:          PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NewRecurringPayment creates the Pending ledger record for a scheduler-driven
// token charge. Recurring payments never trigger the token auto-store step.
func NewRecurringPayment(userID UserID, subscriptionID SubscriptionID, amount decimal.Decimal, currency string) (*Payment, error) {
	p, err := NewPayment(userID, &subscriptionID, amount, currency, PaymentMethodCard)
	if err != nil {
		return nil, err
	}
	p.Type = PaymentTypeRecurring
	p.MerchantTxnID = NewRenewalTxnID()
	p.EnableRecurring = false
	p.RecurringStored = true
	return p, nil
}

// ApplyStatus moves the payment to next. Reapplying the current status is a
// no-op (webhooks are delivered at least once); an illegal move is rejected
// without mutating the record. Returns whether the record changed.
func (p *Payment) ApplyStatus(next PaymentStatus, now time.Time) (bool, error) {
	if p.Status == next {
		return false, nil
	}
	if !p.Status.CanTransition(next) {
		return false, fmt.Errorf("payment %s: %s -> %s: %w", p.MerchantTxnID, p.Status, next, domain.ErrInvalidTransition)
	}
	p.Status = next
	p.UpdatedAt = now
	if next.IsTerminal() && p.CompletedAt == nil {
		t := now
		p.CompletedAt = &t
	}
	return true, nil
}

// CanRetry reports whether another checkout attempt is allowed for this record.
func (p *Payment) CanRetry() bool {
	return p.Status == PaymentStatusFailed && p.RetryCount < maxPaymentRetries
}
