// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/logging"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionUseCase implements the subscription lifecycle. Date-driven and
// payment-driven transitions go through compare-and-swap writes so the
// webhook path and the renewal scheduler cannot overwrite each other; plan
// and billing-date changes run in a serializable transaction instead because
// they touch plan rows and the subscription together.
type SubscriptionUseCase interface {
	Create(ctx context.Context, userID model.UserID, planCode string, autoRenew bool, anchor *time.Time) (*model.Subscription, error)
	Get(ctx context.Context, id model.SubscriptionID) (*model.Subscription, error)
	GetCurrentForUser(ctx context.Context, userID model.UserID) (*model.Subscription, error)

	// ActivateForPayment is the completed-payment hook: it activates a
	// Pending or Suspended subscription and renews an Active or Grace one,
	// recording the brand the shopper paid with.
	ActivateForPayment(ctx context.Context, id model.SubscriptionID, p *model.Payment) (*model.Subscription, error)
	// RecordRenewalFailure bumps the failed-attempt counter and returns the
	// new count alongside the configured maximum.
	RecordRenewalFailure(ctx context.Context, id model.SubscriptionID) (attempts, maxAttempts int, err error)

	Cancel(ctx context.Context, userID model.UserID, id model.SubscriptionID) error
	Pause(ctx context.Context, userID model.UserID, id model.SubscriptionID) error
	Resume(ctx context.Context, userID model.UserID, id model.SubscriptionID) error
	// Suspend is the grace-expiry outcome applied by the scheduler.
	Suspend(ctx context.Context, id model.SubscriptionID) error
	// RefreshStatus applies the date-driven Active->Grace->Expired moves and
	// returns the up-to-date record.
	RefreshStatus(ctx context.Context, id model.SubscriptionID) (*model.Subscription, error)

	PreviewPlanChange(ctx context.Context, id model.SubscriptionID, newPlanCode string) (model.ProrationCalculation, error)
	ChangePlan(ctx context.Context, userID model.UserID, id model.SubscriptionID, newPlanCode string) (model.ProrationCalculation, error)
	ChangeBillingDate(ctx context.Context, userID model.UserID, id model.SubscriptionID, newDate time.Time) (model.ProrationCalculation, error)

	ListRenewalDue(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error)
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error)
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

type subscriptionUC struct {
	subs         repository.SubscriptionRepository
	plans        repository.PlanRepository
	tm           repository.TransactionManager
	renewInGrace bool
	maxAttempts  int // 0 keeps the model default
	log          *zerolog.Logger
}

func NewSubscriptionUseCase(subs repository.SubscriptionRepository, plans repository.PlanRepository, tm repository.TransactionManager, renewInGrace bool, maxRenewalAttempts int, logger *zerolog.Logger) *subscriptionUC {
	return &subscriptionUC{
		subs:         subs,
		plans:        plans,
		tm:           tm,
		renewInGrace: renewInGrace,
		maxAttempts:  maxRenewalAttempts,
		log:          logger,
	}
}

func (u *subscriptionUC) Create(ctx context.Context, userID model.UserID, planCode string, autoRenew bool, anchor *time.Time) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Create")()

	plan, err := u.plans.FindByCode(ctx, repository.NoTX, planCode)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("plan %s is not open for signup: %w", planCode, domain.ErrValidation)
	}

	var sub *model.Subscription
	// One live subscription per user; the existence check and the insert have
	// to be a single atomic step.
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err = u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.subs.FindActiveByUser(ctx, tx, userID)
		if err != nil && err != domain.ErrNotFound {
			return err
		}
		if existing != nil {
			return fmt.Errorf("user %s already has subscription %s (%s): %w", userID, existing.ID, existing.Status, domain.ErrAlreadyExists)
		}

		ns, err := model.NewSubscription(userID, plan, autoRenew, anchor)
		if err != nil {
			return err
		}
		if u.maxAttempts > 0 {
			ns.MaxRenewalAttempts = u.maxAttempts
		}
		if err := u.subs.Save(ctx, tx, ns); err != nil {
			return err
		}
		sub = ns
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.log.Info().
		Str("subscription_id", sub.ID.String()).
		Str("user_id", userID.String()).
		Str("plan", planCode).
		Msg("subscription created")
	return sub, nil
}

func (u *subscriptionUC) Get(ctx context.Context, id model.SubscriptionID) (*model.Subscription, error) {
	return u.subs.FindByID(ctx, repository.NoTX, id)
}

func (u *subscriptionUC) GetCurrentForUser(ctx context.Context, userID model.UserID) (*model.Subscription, error) {
	return u.subs.FindActiveByUser(ctx, repository.NoTX, userID)
}

func (u *subscriptionUC) ActivateForPayment(ctx context.Context, id model.SubscriptionID, p *model.Payment) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ActivateForPayment")()

	if p == nil || p.Status != model.PaymentStatusCompleted {
		return nil, fmt.Errorf("payment must be completed before it moves a subscription: %w", domain.ErrInvalidArgument)
	}

	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, sub.PlanID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		// The same charge is reported by the webhook, the status poll and the
		// renewal worker; only its first arrival moves the subscription.
		if sub.LastPaymentTxnID == p.MerchantTxnID {
			u.log.Debug().
				Str("subscription_id", sub.ID.String()).
				Str("merchant_txn_id", p.MerchantTxnID).
				Msg("payment already applied to subscription")
			return sub, nil
		}

		expect := sub.Status
		now := time.Now()

		switch sub.Status {
		case model.SubscriptionStatusPending, model.SubscriptionStatusSuspended:
			err = sub.Activate(plan, now)
		case model.SubscriptionStatusActive, model.SubscriptionStatusGrace:
			err = sub.Renew(plan, now)
		default:
			err = fmt.Errorf("subscription %s: completed payment arrived in %s: %w", sub.ID, sub.Status, domain.ErrInvalidTransition)
		}
		if err != nil {
			return nil, err
		}
		sub.ObservePayment(p, now)

		ok, err := u.subs.UpdateIfStatus(ctx, repository.NoTX, sub, expect)
		if err != nil {
			return nil, err
		}
		if ok {
			u.log.Info().
				Str("subscription_id", sub.ID.String()).
				Str("merchant_txn_id", p.MerchantTxnID).
				Time("end_at", *sub.EndAt).
				Msg("subscription advanced by payment")
			return sub, nil
		}
		if attempt >= 1 {
			return nil, fmt.Errorf("subscription %s: activation kept losing the race: %w", sub.ID, domain.ErrOperationFailed)
		}
		if sub, err = u.subs.FindByID(ctx, repository.NoTX, id); err != nil {
			return nil, err
		}
	}
}

func (u *subscriptionUC) RecordRenewalFailure(ctx context.Context, id model.SubscriptionID) (int, int, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.RecordRenewalFailure")()

	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return 0, 0, err
	}
	expect := sub.Status
	sub.IncrementRenewalAttempt(time.Now())
	if _, err := u.subs.UpdateIfStatus(ctx, repository.NoTX, sub, expect); err != nil {
		return 0, 0, err
	}
	return sub.RenewalAttempts, sub.MaxRenewalAttempts, nil
}

func (u *subscriptionUC) Cancel(ctx context.Context, userID model.UserID, id model.SubscriptionID) error {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Cancel")()
	return u.mutateOwned(ctx, userID, id, "cancelled", func(sub *model.Subscription, now time.Time) error {
		return sub.Cancel(now)
	})
}

func (u *subscriptionUC) Pause(ctx context.Context, userID model.UserID, id model.SubscriptionID) error {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Pause")()
	return u.mutateOwned(ctx, userID, id, "paused", func(sub *model.Subscription, now time.Time) error {
		return sub.Pause(now)
	})
}

func (u *subscriptionUC) Resume(ctx context.Context, userID model.UserID, id model.SubscriptionID) error {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Resume")()
	return u.mutateOwned(ctx, userID, id, "resumed", func(sub *model.Subscription, now time.Time) error {
		return sub.Resume(now)
	})
}

// mutateOwned runs an ownership-checked read-mutate-CAS cycle for the
// user-facing lifecycle verbs.
func (u *subscriptionUC) mutateOwned(ctx context.Context, userID model.UserID, id model.SubscriptionID, verb string, mutate func(*model.Subscription, time.Time) error) error {
	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return domain.ErrNotFound
	}
	expect := sub.Status
	if err := mutate(sub, time.Now()); err != nil {
		return err
	}
	ok, err := u.subs.UpdateIfStatus(ctx, repository.NoTX, sub, expect)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("subscription %s changed concurrently: %w", id, domain.ErrOperationFailed)
	}
	u.log.Info().Str("subscription_id", id.String()).Msg("subscription " + verb)
	return nil
}

func (u *subscriptionUC) Suspend(ctx context.Context, id model.SubscriptionID) error {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Suspend")()

	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	expect := sub.Status
	if err := sub.Suspend(time.Now()); err != nil {
		return err
	}
	ok, err := u.subs.UpdateIfStatus(ctx, repository.NoTX, sub, expect)
	if err != nil {
		return err
	}
	if !ok {
		// Somebody paid or cancelled between the sweep's read and this write.
		return fmt.Errorf("subscription %s changed concurrently: %w", id, domain.ErrOperationFailed)
	}
	u.log.Info().Str("subscription_id", id.String()).Msg("subscription suspended after grace")
	return nil
}

func (u *subscriptionUC) RefreshStatus(ctx context.Context, id model.SubscriptionID) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.RefreshStatus")()

	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	plan, err := u.plans.FindByID(ctx, repository.NoTX, sub.PlanID)
	if err != nil {
		return nil, err
	}

	expect := sub.Status
	if !sub.RefreshStatus(time.Now(), plan.GracePeriodDays) {
		return sub, nil
	}
	ok, err := u.subs.UpdateIfStatus(ctx, repository.NoTX, sub, expect)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost to a concurrent writer; hand back whatever is stored now.
		return u.subs.FindByID(ctx, repository.NoTX, id)
	}
	return sub, nil
}

func (u *subscriptionUC) PreviewPlanChange(ctx context.Context, id model.SubscriptionID, newPlanCode string) (model.ProrationCalculation, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.PreviewPlanChange")()

	sub, err := u.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return model.ProrationCalculation{}, err
	}
	current, err := u.plans.FindByID(ctx, repository.NoTX, sub.PlanID)
	if err != nil {
		return model.ProrationCalculation{}, err
	}
	next, err := u.plans.FindByCode(ctx, repository.NoTX, newPlanCode)
	if err != nil {
		return model.ProrationCalculation{}, err
	}

	// ChangePlan mutates the in-memory copy, which is discarded here.
	return sub.ChangePlan(current, next, time.Now())
}

func (u *subscriptionUC) ChangePlan(ctx context.Context, userID model.UserID, id model.SubscriptionID, newPlanCode string) (model.ProrationCalculation, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ChangePlan")()

	var calc model.ProrationCalculation
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.UserID != userID {
			return domain.ErrNotFound
		}
		current, err := u.plans.FindByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		next, err := u.plans.FindByCode(ctx, tx, newPlanCode)
		if err != nil {
			return err
		}
		if !next.Active {
			return fmt.Errorf("plan %s is not open for signup: %w", newPlanCode, domain.ErrValidation)
		}

		calc, err = sub.ChangePlan(current, next, time.Now())
		if err != nil {
			return err
		}
		return u.subs.Save(ctx, tx, sub)
	})
	if err != nil {
		return model.ProrationCalculation{}, err
	}

	u.log.Info().
		Str("subscription_id", id.String()).
		Str("new_plan", newPlanCode).
		Str("net_amount", calc.NetAmount.String()).
		Msg("plan changed")
	return calc, nil
}

func (u *subscriptionUC) ChangeBillingDate(ctx context.Context, userID model.UserID, id model.SubscriptionID, newDate time.Time) (model.ProrationCalculation, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ChangeBillingDate")()

	var calc model.ProrationCalculation
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		sub, err := u.subs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.UserID != userID {
			return domain.ErrNotFound
		}
		plan, err := u.plans.FindByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}

		calc, err = sub.ChangeBillingDate(plan, newDate, time.Now())
		if err != nil {
			return err
		}
		return u.subs.Save(ctx, tx, sub)
	})
	if err != nil {
		return model.ProrationCalculation{}, err
	}

	u.log.Info().
		Str("subscription_id", id.String()).
		Time("new_date", newDate).
		Str("net_amount", calc.NetAmount.String()).
		Msg("billing date changed")
	return calc, nil
}

func (u *subscriptionUC) ListRenewalDue(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error) {
	return u.subs.ListRenewalDue(ctx, repository.NoTX, now, u.renewInGrace, limit)
}

func (u *subscriptionUC) ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error) {
	return u.subs.ListGraceExpired(ctx, repository.NoTX, now, limit)
}

func (u *subscriptionUC) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	return u.subs.CountByStatus(ctx, repository.NoTX)
}
