package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/infra/metrics"
	red "peach-subscription-billing/internal/infra/redis"
	"peach-subscription-billing/internal/usecase"
)

// chargeLockTTL bounds how long a crashed sweep can hold a token lock.
const chargeLockTTL = 2 * time.Minute

// RenewalWorker periodically charges stored tokens for subscriptions whose
// period ran out, and suspends the ones whose grace window also ran out.
type RenewalWorker struct {
	interval time.Duration
	batch    int
	subUC    usecase.SubscriptionUseCase
	payUC    usecase.PaymentUseCase
	methodUC usecase.PaymentMethodUseCase
	notifUC  usecase.NotificationUseCase
	locker   red.Locker
	log      *zerolog.Logger
}

func NewRenewalWorker(
	interval time.Duration,
	batch int,
	subUC usecase.SubscriptionUseCase,
	payUC usecase.PaymentUseCase,
	methodUC usecase.PaymentMethodUseCase,
	notifUC usecase.NotificationUseCase,
	locker red.Locker,
	logger *zerolog.Logger,
) *RenewalWorker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if batch <= 0 {
		batch = 200
	}
	wLog := logger.With().Str("component", "RenewalWorker").Logger()
	return &RenewalWorker{
		interval: interval,
		batch:    batch,
		subUC:    subUC,
		payUC:    payUC,
		methodUC: methodUC,
		notifUC:  notifUC,
		locker:   locker,
		log:      &wLog,
	}
}

func (w *RenewalWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting renewal worker")
	// Run once on startup, then on every tick
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping renewal worker")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RenewalWorker) sweep(ctx context.Context) {
	started := time.Now()

	due, err := w.subUC.ListRenewalDue(ctx, started, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("renewal sweep: listing due subscriptions failed")
	}
	for _, sub := range due {
		if ctx.Err() != nil {
			return
		}
		w.renewOne(ctx, sub)
	}

	w.suspendLapsed(ctx)
	w.publishStatusCounts(ctx)
	metrics.ObserveRenewalSweep(time.Since(started).Seconds())
}

// renewOne runs one automatic charge. Every failure path is contained here so
// one broken subscription cannot stall the rest of the sweep.
func (w *RenewalWorker) renewOne(ctx context.Context, sub *model.Subscription) {
	log := w.log.With().
		Str("subscription_id", sub.ID.String()).
		Str("user_id", sub.UserID.String()).
		Logger()

	if !sub.CanAutoRenew() {
		reason := "automatic renewal is turned off"
		if sub.AutoRenew {
			reason = "automatic renewal was stopped after too many failed charges"
		}
		metrics.IncRenewalCharge("skipped")
		if err := w.notifUC.NotifyManualRenewal(ctx, sub, reason); err != nil {
			log.Error().Err(err).Msg("manual-renewal notification failed")
		}
		return
	}

	method, err := w.methodUC.DefaultForUser(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncRenewalCharge("skipped")
			if err := w.notifUC.NotifyManualRenewal(ctx, sub, "no stored payment method"); err != nil {
				log.Error().Err(err).Msg("manual-renewal notification failed")
			}
			return
		}
		log.Error().Err(err).Msg("default payment method lookup failed")
		return
	}

	// One charge per token at a time, across every process.
	lockKey := "charge:token:" + method.Token
	lockToken, err := w.locker.TryLock(ctx, lockKey, chargeLockTTL)
	if err != nil {
		log.Warn().Err(err).Msg("token charge lock not acquired, skipping until next sweep")
		return
	}
	defer func() {
		if err := w.locker.Unlock(ctx, lockKey, lockToken); err != nil {
			log.Warn().Err(err).Msg("token charge lock not released")
		}
	}()

	p, err := w.payUC.ChargeRenewal(ctx, sub, method.Token)
	if err != nil {
		metrics.IncRenewalCharge("failed")
		log.Error().Err(err).Msg("renewal charge not recorded")
		return
	}

	if p.Status == model.PaymentStatusCompleted {
		metrics.IncRenewalCharge("succeeded")
		if _, err := w.subUC.ActivateForPayment(ctx, sub.ID, p); err != nil {
			log.Error().Err(err).Str("merchant_txn_id", p.MerchantTxnID).Msg("subscription not advanced after settled charge")
			return
		}
		log.Info().Str("merchant_txn_id", p.MerchantTxnID).Msg("subscription renewed")
		return
	}

	metrics.IncRenewalCharge("failed")
	attempts, maxAttempts, err := w.subUC.RecordRenewalFailure(ctx, sub.ID)
	if err != nil {
		log.Error().Err(err).Msg("renewal failure not recorded")
		return
	}
	if err := w.notifUC.NotifyRenewalFailure(ctx, sub, attempts, maxAttempts); err != nil {
		log.Error().Err(err).Msg("renewal-failure notification failed")
	}
	log.Info().
		Int("attempts", attempts).
		Int("max_attempts", maxAttempts).
		Str("merchant_txn_id", p.MerchantTxnID).
		Msg("renewal charge declined")
}

func (w *RenewalWorker) suspendLapsed(ctx context.Context) {
	lapsed, err := w.subUC.ListGraceExpired(ctx, time.Now(), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("renewal sweep: listing lapsed subscriptions failed")
		return
	}

	suspended := 0
	for _, sub := range lapsed {
		if err := w.subUC.Suspend(ctx, sub.ID); err != nil {
			w.log.Error().Err(err).Str("subscription_id", sub.ID.String()).Msg("suspension failed")
			continue
		}
		suspended++
	}
	if suspended > 0 {
		metrics.IncSubscriptionsSuspended(suspended)
		w.log.Info().Int("count", suspended).Msg("lapsed subscriptions suspended")
	}
}

func (w *RenewalWorker) publishStatusCounts(ctx context.Context) {
	counts, err := w.subUC.CountByStatus(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("subscription status counts unavailable")
		return
	}
	metrics.SetSubscriptionsTotal(counts)
}
