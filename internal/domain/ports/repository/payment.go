package repository

import (
	"context"
	"time"

	"peach-subscription-billing/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

// PaymentRepository is the port for payment records. Status moves go through
// UpdateIfStatus, a compare-and-swap conditioned on the status the caller
// read, so concurrent webhook redelivery and poll reconciliation cannot
// clobber each other.
type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id model.PaymentID) (*model.Payment, error)
	// FindByMerchantTxnID resolves the gateway's correlation key back to a
	// payment. This is the only lookup the webhook path may use.
	FindByMerchantTxnID(ctx context.Context, tx Tx, merchantTxnID string) (*model.Payment, error)
	SetCheckoutID(ctx context.Context, tx Tx, id model.PaymentID, checkoutID string) error
	// UpdateIfStatus writes the record's mutable fields only when the stored
	// status still equals expect; reports whether a row changed.
	UpdateIfStatus(ctx context.Context, tx Tx, p *model.Payment, expect model.PaymentStatus) (bool, error)
	// MarkRecurringStored flips the one-time token-store guard; reports false
	// when another worker already claimed it.
	MarkRecurringStored(ctx context.Context, tx Tx, id model.PaymentID) (bool, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}
