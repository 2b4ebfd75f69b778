package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/adapter"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/logging"
)

// Compile-time check
var _ PaymentMethodUseCase = (*paymentMethodUC)(nil)

// PaymentMethodUseCase manages stored gateway registration tokens.
type PaymentMethodUseCase interface {
	// StoreFromGatewayDetails persists the registration token reported with a
	// settled payment. The first stored method becomes the user's default.
	StoreFromGatewayDetails(ctx context.Context, userID model.UserID, details adapter.PaymentStatusResult) (*model.PaymentMethodDetail, error)
	DefaultForUser(ctx context.Context, userID model.UserID) (*model.PaymentMethodDetail, error)
	List(ctx context.Context, userID model.UserID) ([]*model.PaymentMethodDetail, error)
	SetDefault(ctx context.Context, userID model.UserID, id model.PaymentMethodID) error
	Deactivate(ctx context.Context, userID model.UserID, id model.PaymentMethodID) error
}

type paymentMethodUC struct {
	methods repository.PaymentMethodRepository
	log     *zerolog.Logger
}

func NewPaymentMethodUseCase(methods repository.PaymentMethodRepository, logger *zerolog.Logger) *paymentMethodUC {
	return &paymentMethodUC{methods: methods, log: logger}
}

func (u *paymentMethodUC) StoreFromGatewayDetails(ctx context.Context, userID model.UserID, details adapter.PaymentStatusResult) (*model.PaymentMethodDetail, error) {
	defer logging.TraceDuration(u.log, "PaymentMethodUC.StoreFromGatewayDetails")()

	if details.RegistrationID == "" {
		return nil, domain.ErrNoRecurringToken
	}

	m, err := model.NewPaymentMethodDetail(userID, details.RegistrationID, details.PaymentBrand, details.CardLast4)
	if err != nil {
		return nil, err
	}
	m.ExpiryMonth = details.CardExpiryMonth
	m.ExpiryYear = details.CardExpiryYear

	if _, err := u.methods.FindDefaultActiveByUser(ctx, repository.NoTX, userID); err == domain.ErrNotFound {
		m.IsDefault = true
	} else if err != nil {
		return nil, err
	}

	// Save upserts on (user, token), so a redelivered webhook only refreshes
	// the card metadata.
	if err := u.methods.Save(ctx, repository.NoTX, m); err != nil {
		return nil, err
	}

	u.log.Info().
		Str("user_id", userID.String()).
		Str("brand", m.Brand).
		Str("last4", m.Last4).
		Bool("default", m.IsDefault).
		Msg("payment method stored")
	return m, nil
}

func (u *paymentMethodUC) DefaultForUser(ctx context.Context, userID model.UserID) (*model.PaymentMethodDetail, error) {
	return u.methods.FindDefaultActiveByUser(ctx, repository.NoTX, userID)
}

func (u *paymentMethodUC) List(ctx context.Context, userID model.UserID) ([]*model.PaymentMethodDetail, error) {
	return u.methods.ListByUser(ctx, repository.NoTX, userID)
}

func (u *paymentMethodUC) SetDefault(ctx context.Context, userID model.UserID, id model.PaymentMethodID) error {
	defer logging.TraceDuration(u.log, "PaymentMethodUC.SetDefault")()
	return u.methods.SetDefault(ctx, repository.NoTX, userID, id)
}

func (u *paymentMethodUC) Deactivate(ctx context.Context, userID model.UserID, id model.PaymentMethodID) error {
	defer logging.TraceDuration(u.log, "PaymentMethodUC.Deactivate")()
	if err := u.methods.Deactivate(ctx, repository.NoTX, userID, id); err != nil {
		return err
	}
	u.log.Info().Str("user_id", userID.String()).Str("method_id", id.String()).Msg("payment method deactivated")
	return nil
}
