package repository

import (
	"context"

	"peach-subscription-billing/internal/domain/model"
)

// -----------------------------
// Stored Payment Methods
// -----------------------------

type PaymentMethodRepository interface {
	// Save inserts the method or, when the (user, token) pair already
	// exists, refreshes its card metadata instead.
	Save(ctx context.Context, tx Tx, m *model.PaymentMethodDetail) error
	FindByID(ctx context.Context, tx Tx, id model.PaymentMethodID) (*model.PaymentMethodDetail, error)
	// FindDefaultActiveByUser returns the token the renewal scheduler
	// should charge. ErrNotFound when the user has no usable method.
	FindDefaultActiveByUser(ctx context.Context, tx Tx, userID model.UserID) (*model.PaymentMethodDetail, error)
	ListByUser(ctx context.Context, tx Tx, userID model.UserID) ([]*model.PaymentMethodDetail, error)
	SetDefault(ctx context.Context, tx Tx, userID model.UserID, id model.PaymentMethodID) error
	Deactivate(ctx context.Context, tx Tx, userID model.UserID, id model.PaymentMethodID) error
}
