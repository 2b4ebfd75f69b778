// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/adapter"
	"peach-subscription-billing/internal/infra/worker"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

// WebhookUseCase ingests gateway payment notifications.
type WebhookUseCase interface {
	// ProcessWebhook verifies one raw notification body and applies it. Only
	// rejection of the notification itself comes back as an error:
	// domain.ErrSignature for a bad signature, domain.ErrValidation for an
	// unparseable body. Once the notification is authentic, every downstream
	// hiccup is logged and absorbed so the gateway gets its acknowledgement
	// and stops redelivering.
	ProcessWebhook(ctx context.Context, rawBody []byte) error
}

type webhookUC struct {
	verifier adapter.WebhookVerifier
	gateway  adapter.PaymentGateway
	payments PaymentUseCase
	subs     SubscriptionUseCase
	methods  PaymentMethodUseCase
	pool     *worker.Pool

	// Delay before the first registration-token fetch. The gateway often
	// notifies before the token is queryable on its read API.
	fetchDelay   time.Duration
	fetchRetries int

	log *zerolog.Logger
}

func NewWebhookUseCase(
	verifier adapter.WebhookVerifier,
	gateway adapter.PaymentGateway,
	payments PaymentUseCase,
	subs SubscriptionUseCase,
	methods PaymentMethodUseCase,
	pool *worker.Pool,
	fetchDelay time.Duration,
	fetchRetries int,
	logger *zerolog.Logger,
) *webhookUC {
	if fetchDelay <= 0 {
		fetchDelay = 30 * time.Second
	}
	if fetchRetries <= 0 {
		fetchRetries = 3
	}
	return &webhookUC{
		verifier:     verifier,
		gateway:      gateway,
		payments:     payments,
		subs:         subs,
		methods:      methods,
		pool:         pool,
		fetchDelay:   fetchDelay,
		fetchRetries: fetchRetries,
		log:          logger,
	}
}

func (u *webhookUC) ProcessWebhook(ctx context.Context, rawBody []byte) error {
	event, err := u.verifier.VerifyAndParse(rawBody)
	if err != nil {
		return err
	}

	log := u.log.With().
		Str("merchant_txn_id", event.MerchantTxnID).
		Str("result_code", event.ResultCode).
		Logger()

	// A webhook can only ever confirm a payment we already created. An
	// unknown merchant txn id is logged and acknowledged, never synthesized
	// into a record.
	p, err := u.payments.GetByMerchantTxnID(ctx, event.MerchantTxnID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("webhook for unknown payment, ignoring")
			return nil
		}
		log.Error().Err(err).Msg("payment lookup failed, webhook dropped")
		return nil
	}

	p, err = u.payments.ApplyOutcome(ctx, event.MerchantTxnID, adapter.PaymentStatusResult{
		MerchantTxnID:     event.MerchantTxnID,
		GatewayPaymentID:  event.GatewayPaymentID,
		ResultCode:        event.ResultCode,
		ResultDescription: event.ResultDescription,
		PaymentBrand:      event.PaymentBrand,
		RegistrationID:    event.RegistrationID,
	})
	if err != nil {
		// A conflicting late delivery ends up here; the stored outcome wins.
		log.Warn().Err(err).Msg("webhook outcome not applied")
		return nil
	}

	if p.Status != model.PaymentStatusCompleted {
		log.Info().Str("status", string(p.Status)).Msg("webhook applied")
		return nil
	}

	if p.SubscriptionID != nil {
		if _, err := u.subs.ActivateForPayment(ctx, *p.SubscriptionID, p); err != nil {
			log.Error().Err(err).Str("subscription_id", p.SubscriptionID.String()).Msg("subscription not advanced by webhook")
		}
	}

	u.storeToken(ctx, p, event)
	return nil
}

// storeToken persists the registration token of a completed tokenizing
// payment, exactly once. When the webhook does not carry the token, a delayed
// fetch against the gateway's read API is scheduled instead.
func (u *webhookUC) storeToken(ctx context.Context, p *model.Payment, event *adapter.WebhookEvent) {
	if !p.EnableRecurring || p.RecurringStored {
		return
	}

	log := u.log.With().Str("merchant_txn_id", p.MerchantTxnID).Logger()

	if event.RegistrationID != "" {
		ok, err := u.payments.ClaimTokenStore(ctx, p.ID)
		if err != nil {
			log.Error().Err(err).Msg("token store claim failed")
			return
		}
		if !ok {
			return
		}
		if _, err := u.methods.StoreFromGatewayDetails(ctx, p.UserID, adapter.PaymentStatusResult{
			RegistrationID: event.RegistrationID,
			PaymentBrand:   event.PaymentBrand,
		}); err != nil {
			log.Error().Err(err).Msg("payment method not stored")
		}
		return
	}

	payment := *p
	if err := u.pool.Submit(func(jobCtx context.Context) error {
		return u.fetchAndStoreToken(jobCtx, &payment)
	}); err != nil {
		log.Warn().Err(err).Msg("token fetch not scheduled")
	}
}

func (u *webhookUC) fetchAndStoreToken(ctx context.Context, p *model.Payment) error {
	log := u.log.With().Str("merchant_txn_id", p.MerchantTxnID).Logger()

	delay := u.fetchDelay
	for attempt := 1; attempt <= u.fetchRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2

		var (
			res adapter.PaymentStatusResult
			err error
		)
		if p.GatewayPayID != "" {
			res, err = u.gateway.PaymentDetails(ctx, p.GatewayPayID)
		} else {
			res, err = u.gateway.CheckoutStatus(ctx, p.CheckoutID)
		}
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("token fetch failed")
			continue
		}
		if res.RegistrationID == "" {
			log.Debug().Int("attempt", attempt).Msg("token not available yet")
			continue
		}

		ok, err := u.payments.ClaimTokenStore(ctx, p.ID)
		if err != nil {
			return err
		}
		if !ok {
			// Another delivery already stored it.
			return nil
		}
		if _, err := u.methods.StoreFromGatewayDetails(ctx, p.UserID, res); err != nil {
			return err
		}
		log.Info().Int("attempt", attempt).Msg("registration token stored")
		return nil
	}
	return fmt.Errorf("registration token for %s never became available", p.MerchantTxnID)
}
