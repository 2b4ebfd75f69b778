// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/adapter"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/logging"
	"peach-subscription-billing/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// CreateCheckout records a Pending payment for the subscription and opens
	// a gateway checkout. Returns the payment and the checkout id the client
	// needs to render the payment widget.
	CreateCheckout(ctx context.Context, userID model.UserID, subscriptionID model.SubscriptionID, method model.PaymentMethod) (*model.Payment, string, error)
	Get(ctx context.Context, id model.PaymentID) (*model.Payment, error)
	GetByMerchantTxnID(ctx context.Context, merchantTxnID string) (*model.Payment, error)
	// ApplyOutcome maps the gateway result code onto the payment's status
	// machine and persists it. A redelivered outcome is a no-op; a conflicting
	// late outcome is rejected with domain.ErrInvalidTransition.
	ApplyOutcome(ctx context.Context, merchantTxnID string, res adapter.PaymentStatusResult) (*model.Payment, error)
	// PollStatus asks the gateway for the checkout's current state and applies
	// whatever terminal outcome it reports.
	PollStatus(ctx context.Context, id model.PaymentID) (*model.Payment, error)
	// ChargeRenewal runs one scheduler-driven token charge: a fresh RENEWAL
	// payment record, the gateway charge, and the resulting status. The
	// returned payment carries the final status; err is reserved for ledger
	// failures, a declined or timed-out charge comes back as a Failed payment.
	ChargeRenewal(ctx context.Context, sub *model.Subscription, registrationID string) (*model.Payment, error)
	Refund(ctx context.Context, id model.PaymentID, amount decimal.Decimal) (*model.Payment, error)
	// ClaimTokenStore flips the payment's one-time token-store guard.
	// Reports false when another worker already claimed it.
	ClaimTokenStore(ctx context.Context, id model.PaymentID) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error)
}

type paymentUC struct {
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	gateway  adapter.PaymentGateway
	log      *zerolog.Logger
}

func NewPaymentUseCase(payments repository.PaymentRepository, subs repository.SubscriptionRepository, gateway adapter.PaymentGateway, logger *zerolog.Logger) *paymentUC {
	return &paymentUC{
		payments: payments,
		subs:     subs,
		gateway:  gateway,
		log:      logger,
	}
}

func (u *paymentUC) CreateCheckout(ctx context.Context, userID model.UserID, subscriptionID model.SubscriptionID, method model.PaymentMethod) (*model.Payment, string, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CreateCheckout")()

	sub, err := u.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return nil, "", err
	}
	if sub.UserID != userID {
		return nil, "", domain.ErrNotFound
	}
	if sub.Status.IsTerminal() {
		return nil, "", fmt.Errorf("subscription %s: checkout from %s: %w", sub.ID, sub.Status, domain.ErrInvalidTransition)
	}

	p, err := model.NewPayment(userID, &subscriptionID, sub.Price, sub.Currency, method)
	if err != nil {
		return nil, "", err
	}
	// The ledger record goes in before the gateway call so the merchant txn id
	// exists whatever the gateway does with the request.
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, "", err
	}

	res, err := u.gateway.CreateCheckout(ctx, adapter.CheckoutRequest{
		Amount:             p.Amount,
		Currency:           p.Currency,
		MerchantTxnID:      p.MerchantTxnID,
		CustomerID:         userID.String(),
		Method:             method,
		CreateRegistration: p.EnableRecurring,
		SubscriptionID:     subscriptionID.String(),
	})
	if err != nil {
		u.failPayment(ctx, p, err.Error())
		return nil, "", err
	}

	if err := u.payments.SetCheckoutID(ctx, repository.NoTX, p.ID, res.CheckoutID); err != nil {
		return nil, "", err
	}
	p.CheckoutID = res.CheckoutID

	u.log.Info().
		Str("merchant_txn_id", p.MerchantTxnID).
		Str("checkout_id", res.CheckoutID).
		Str("method", string(method)).
		Msg("checkout created")
	return p, res.CheckoutID, nil
}

func (u *paymentUC) Get(ctx context.Context, id model.PaymentID) (*model.Payment, error) {
	return u.payments.FindByID(ctx, repository.NoTX, id)
}

func (u *paymentUC) GetByMerchantTxnID(ctx context.Context, merchantTxnID string) (*model.Payment, error) {
	return u.payments.FindByMerchantTxnID(ctx, repository.NoTX, merchantTxnID)
}

func (u *paymentUC) ApplyOutcome(ctx context.Context, merchantTxnID string, res adapter.PaymentStatusResult) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ApplyOutcome")()

	p, err := u.payments.FindByMerchantTxnID(ctx, repository.NoTX, merchantTxnID)
	if err != nil {
		return nil, err
	}
	return u.apply(ctx, p, res)
}

// apply moves p to the status the gateway result implies, under the
// compare-and-swap discipline: the write only lands if the row still has the
// status we read. On a lost race the record is reloaded and the outcome is
// re-applied once, which turns a concurrent identical delivery into a no-op.
func (u *paymentUC) apply(ctx context.Context, p *model.Payment, res adapter.PaymentStatusResult) (*model.Payment, error) {
	next := model.StatusFromResultCode(res.ResultCode)

	for attempt := 0; ; attempt++ {
		expect := p.Status
		changed, err := p.ApplyStatus(next, time.Now())
		if err != nil {
			return nil, err
		}
		if !changed {
			return p, nil
		}

		if res.GatewayPaymentID != "" {
			p.GatewayPayID = res.GatewayPaymentID
		}
		if res.PaymentBrand != "" {
			p.PaymentBrand = res.PaymentBrand
		}
		if next == model.PaymentStatusFailed {
			p.FailureReason = res.ResultDescription
		}

		ok, err := u.payments.UpdateIfStatus(ctx, repository.NoTX, p, expect)
		if err != nil {
			return nil, err
		}
		if ok {
			metrics.IncPayment(string(p.Type), string(next))
			if next == model.PaymentStatusCompleted {
				amount, _ := p.Amount.Float64()
				metrics.AddPaymentRevenue(p.Currency, amount)
			}
			u.log.Info().
				Str("merchant_txn_id", p.MerchantTxnID).
				Str("result_code", res.ResultCode).
				Str("status", string(next)).
				Msg("payment outcome applied")
			return p, nil
		}
		if attempt >= 1 {
			return nil, fmt.Errorf("payment %s: status update kept losing the race: %w", p.MerchantTxnID, domain.ErrOperationFailed)
		}
		if p, err = u.payments.FindByMerchantTxnID(ctx, repository.NoTX, p.MerchantTxnID); err != nil {
			return nil, err
		}
	}
}

func (u *paymentUC) PollStatus(ctx context.Context, id model.PaymentID) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.PollStatus")()

	p, err := u.payments.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if p.CheckoutID == "" {
		return nil, fmt.Errorf("payment %s has no checkout to poll: %w", p.ID, domain.ErrInvalidArgument)
	}

	res, err := u.gateway.CheckoutStatus(ctx, p.CheckoutID)
	if err != nil {
		return nil, err
	}
	if model.StatusFromResultCode(res.ResultCode) == model.PaymentStatusPending {
		// Checkout still open; nothing to record.
		return p, nil
	}
	return u.apply(ctx, p, res)
}

func (u *paymentUC) ChargeRenewal(ctx context.Context, sub *model.Subscription, registrationID string) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ChargeRenewal")()

	p, err := model.NewRecurringPayment(sub.UserID, sub.ID, sub.Price, sub.Currency)
	if err != nil {
		return nil, err
	}
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}

	res, err := u.gateway.ChargeRecurring(ctx, adapter.RecurringChargeRequest{
		RegistrationID: registrationID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		MerchantTxnID:  p.MerchantTxnID,
		CustomerID:     sub.UserID.String(),
	})
	if err != nil {
		// Transport failure or timeout. The charge may or may not have gone
		// through on the gateway side; the record fails here and a later
		// webhook or reconciliation poll corrects it if money actually moved.
		u.log.Warn().Err(err).Str("merchant_txn_id", p.MerchantTxnID).Msg("recurring charge did not complete")
		u.failPayment(ctx, p, err.Error())
		return p, nil
	}

	return u.apply(ctx, p, adapter.PaymentStatusResult{
		MerchantTxnID:     p.MerchantTxnID,
		GatewayPaymentID:  res.GatewayPaymentID,
		ResultCode:        res.ResultCode,
		ResultDescription: res.ResultDescription,
	})
}

func (u *paymentUC) Refund(ctx context.Context, id model.PaymentID, amount decimal.Decimal) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Refund")()

	p, err := u.payments.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() || amount.IsNegative() || amount.GreaterThan(p.Amount) {
		return nil, fmt.Errorf("refund amount %s out of range for payment of %s: %w", amount, p.Amount, domain.ErrValidation)
	}
	if p.Status != model.PaymentStatusCompleted && p.Status != model.PaymentStatusPartiallyRefunded {
		return nil, fmt.Errorf("payment %s: refund from %s: %w", p.MerchantTxnID, p.Status, domain.ErrInvalidTransition)
	}
	if p.GatewayPayID == "" {
		return nil, fmt.Errorf("payment %s has no settled gateway payment: %w", p.MerchantTxnID, domain.ErrValidation)
	}

	res, err := u.gateway.RefundPayment(ctx, p.GatewayPayID, amount, p.Currency)
	if err != nil {
		return nil, err
	}
	if !model.IsSuccessCode(res.ResultCode) {
		return nil, fmt.Errorf("refund declined (%s): %s: %w", res.ResultCode, res.ResultDescription, domain.ErrGateway)
	}

	// A partial refund of a partially refunded payment closes it out; the
	// ledger does not track a running refunded total.
	next := model.PaymentStatusPartiallyRefunded
	if amount.Equal(p.Amount) || p.Status == model.PaymentStatusPartiallyRefunded {
		next = model.PaymentStatusRefunded
	}

	expect := p.Status
	if _, err := p.ApplyStatus(next, time.Now()); err != nil {
		return nil, err
	}
	ok, err := u.payments.UpdateIfStatus(ctx, repository.NoTX, p, expect)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("payment %s: refund lost a concurrent update: %w", p.MerchantTxnID, domain.ErrOperationFailed)
	}

	kind := "partial"
	if next == model.PaymentStatusRefunded {
		kind = "full"
	}
	metrics.IncRefund(kind)
	u.log.Info().
		Str("merchant_txn_id", p.MerchantTxnID).
		Str("amount", amount.String()).
		Str("status", string(next)).
		Msg("refund recorded")
	return p, nil
}

func (u *paymentUC) ClaimTokenStore(ctx context.Context, id model.PaymentID) (bool, error) {
	return u.payments.MarkRecurringStored(ctx, repository.NoTX, id)
}

func (u *paymentUC) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return u.payments.ListPendingOlderThan(ctx, repository.NoTX, olderThan, limit)
}

// failPayment best-effort marks a Pending record Failed after a gateway error.
func (u *paymentUC) failPayment(ctx context.Context, p *model.Payment, reason string) {
	expect := p.Status
	if _, err := p.ApplyStatus(model.PaymentStatusFailed, time.Now()); err != nil {
		return
	}
	p.FailureReason = reason
	if _, err := u.payments.UpdateIfStatus(ctx, repository.NoTX, p, expect); err != nil {
		u.log.Error().Err(err).Str("merchant_txn_id", p.MerchantTxnID).Msg("could not mark payment failed")
	}
}
