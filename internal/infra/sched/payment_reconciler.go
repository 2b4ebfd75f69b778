package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/usecase"
)

// PaymentReconciler periodically scans for stale pending payments and asks the
// gateway what actually happened to them. This covers the cases where the
// webhook never arrived or the process crashed mid-apply.
type PaymentReconciler struct {
	payUC      usecase.PaymentUseCase
	subUC      usecase.SubscriptionUseCase
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to poll
	batch      int
	log        *zerolog.Logger
}

func NewPaymentReconciler(payUC usecase.PaymentUseCase, subUC usecase.SubscriptionUseCase, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	rLog := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		payUC:      payUC,
		subUC:      subUC,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      200,
		log:        &rLog,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.payUC.ListStalePending(ctx, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("listing stale pending payments failed")
		return
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		if p.CheckoutID == "" {
			// Never reached the gateway; nothing to reconcile against.
			continue
		}

		polled, err := w.payUC.PollStatus(ctx, p.ID)
		if err != nil {
			w.log.Warn().Err(err).Str("merchant_txn_id", p.MerchantTxnID).Msg("status poll failed")
			continue
		}
		if polled.Status == model.PaymentStatusPending {
			continue
		}

		w.log.Info().
			Str("merchant_txn_id", polled.MerchantTxnID).
			Str("status", string(polled.Status)).
			Msg("stale payment reconciled")

		// The webhook that never arrived would also have advanced the
		// subscription; replaying the same txn id later stays a no-op.
		if polled.Status == model.PaymentStatusCompleted && polled.SubscriptionID != nil {
			if _, err := w.subUC.ActivateForPayment(ctx, *polled.SubscriptionID, polled); err != nil {
				w.log.Error().Err(err).
					Str("subscription_id", polled.SubscriptionID.String()).
					Msg("subscription not advanced by reconciler")
			}
		}
	}
}
