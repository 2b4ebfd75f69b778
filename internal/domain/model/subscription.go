package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"   // plan selected, no completed payment yet
	SubscriptionStatusActive    SubscriptionStatus = "active"    // paid, inside the current period
	SubscriptionStatusGrace     SubscriptionStatus = "grace"     // period ended, inside the grace window
	SubscriptionStatusExpired   SubscriptionStatus = "expired"   // grace ran out without payment
	SubscriptionStatusSuspended SubscriptionStatus = "suspended" // paused by the user or suspended after grace
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled" // explicit user/operator cancellation
)

func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusExpired || s == SubscriptionStatusCancelled
}

const defaultMaxRenewalAttempts = 5

// ProrationCalculation is the delta reported by plan/date changes. The caller
// decides whether to actually charge or refund; the ledger only computes it.
type ProrationCalculation struct {
	CurrentPlanRefund decimal.Decimal
	NewPlanCharge     decimal.Decimal
	NetAmount         decimal.Decimal
	EffectiveDate     time.Time
	DaysUsed          int
	DaysRemaining     int
}

// Subscription represents one user's entitlement to a plan over time.
type Subscription struct {
	ID                 SubscriptionID
	UserID             UserID
	PlanID             PlanID
	Status             SubscriptionStatus
	Price              decimal.Decimal // price snapshot from activation / last plan change
	Currency           string
	StartAt            *time.Time // nil until activated
	EndAt              *time.Time // nil until activated
	GraceEndAt         *time.Time // end date + plan grace window
	BillingAnchor      *time.Time // optional fixed start for the first cycle
	AutoRenew          bool
	RenewalAttempts    int
	MaxRenewalAttempts int
	PausedAt           *time.Time // set while paused; Resume shifts dates by the gap
	LastPaymentTxnID   string     // merchant txn id of the payment that last advanced the period
	LastPaymentBrand   string     // brand observed on the most recent completed payment
	LastPaymentMethod  PaymentMethod
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewSubscription creates a Pending subscription. Activation only happens via
// a completed payment or an operator action, never implicitly.
func NewSubscription(userID UserID, plan *Plan, autoRenew bool, anchor *time.Time) (*Subscription, error) {
	if userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:                 NewSubscriptionID(),
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             SubscriptionStatusPending,
		Price:              plan.Price,
		Currency:           plan.Currency,
		BillingAnchor:      anchor,
		AutoRenew:          autoRenew,
		MaxRenewalAttempts: defaultMaxRenewalAttempts,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (s *Subscription) transitionErr(action string) error {
	return fmt.Errorf("subscription %s: %s from %s: %w", s.ID, action, s.Status, domain.ErrInvalidTransition)
}

// Activate starts a fresh period: start = billing anchor (first activation) or
// now, end = start + plan duration. Allowed from Pending and from Suspended
// (a manual payment after suspension starts a new period rather than
// stretching the lapsed one).
func (s *Subscription) Activate(plan *Plan, now time.Time) error {
	switch s.Status {
	case SubscriptionStatusPending, SubscriptionStatusSuspended:
	default:
		return s.transitionErr("activate")
	}
	start := now
	if s.BillingAnchor != nil && s.Status == SubscriptionStatusPending {
		start = *s.BillingAnchor
	}
	end := start.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
	graceEnd := end.Add(time.Duration(plan.GracePeriodDays) * 24 * time.Hour)

	s.Status = SubscriptionStatusActive
	s.StartAt = &start
	s.EndAt = &end
	s.GraceEndAt = &graceEnd
	s.Price = plan.Price
	s.Currency = plan.Currency
	s.RenewalAttempts = 0
	s.PausedAt = nil
	s.UpdatedAt = now
	return nil
}

// Renew extends the period by one plan duration from the current end date,
// not from now, so a late renewal does not shorten the subscriber's paid time.
func (s *Subscription) Renew(plan *Plan, now time.Time) error {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusGrace:
	default:
		return s.transitionErr("renew")
	}
	if s.EndAt == nil {
		return fmt.Errorf("subscription %s: renew without end date: %w", s.ID, domain.ErrInvalidTransition)
	}
	end := s.EndAt.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
	graceEnd := end.Add(time.Duration(plan.GracePeriodDays) * 24 * time.Hour)

	s.Status = SubscriptionStatusActive
	s.EndAt = &end
	s.GraceEndAt = &graceEnd
	s.RenewalAttempts = 0
	s.UpdatedAt = now
	return nil
}

// Pause stops an Active subscription; paused time is given back on Resume.
func (s *Subscription) Pause(now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return s.transitionErr("pause")
	}
	s.Status = SubscriptionStatusSuspended
	s.PausedAt = &now
	s.UpdatedAt = now
	return nil
}

// Resume reactivates a paused subscription and shifts end and grace-end
// forward by exactly the paused duration.
func (s *Subscription) Resume(now time.Time) error {
	if s.Status != SubscriptionStatusSuspended || s.PausedAt == nil {
		return s.transitionErr("resume")
	}
	paused := now.Sub(*s.PausedAt)
	if s.EndAt != nil {
		end := s.EndAt.Add(paused)
		s.EndAt = &end
	}
	if s.GraceEndAt != nil {
		graceEnd := s.GraceEndAt.Add(paused)
		s.GraceEndAt = &graceEnd
	}
	s.Status = SubscriptionStatusActive
	s.PausedAt = nil
	s.UpdatedAt = now
	return nil
}

// Suspend is the grace-expiry outcome: the subscription stays recoverable by
// a manual payment but is no longer usable.
func (s *Subscription) Suspend(now time.Time) error {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusGrace:
	default:
		return s.transitionErr("suspend")
	}
	s.Status = SubscriptionStatusSuspended
	s.UpdatedAt = now
	return nil
}

// Cancel is allowed from any non-terminal state.
func (s *Subscription) Cancel(now time.Time) error {
	if s.Status.IsTerminal() {
		return s.transitionErr("cancel")
	}
	s.Status = SubscriptionStatusCancelled
	s.AutoRenew = false
	s.UpdatedAt = now
	return nil
}

// RefreshStatus applies the date-driven transitions Active->Grace and
// Grace->Expired. Comparisons are strictly after the stored instant so a
// subscription is never expired on the boundary itself. Returns whether the
// record changed.
func (s *Subscription) RefreshStatus(now time.Time, gracePeriodDays int) bool {
	switch s.Status {
	case SubscriptionStatusActive:
		if s.EndAt != nil && now.After(*s.EndAt) {
			s.Status = SubscriptionStatusGrace
			if s.GraceEndAt == nil {
				graceEnd := s.EndAt.Add(time.Duration(gracePeriodDays) * 24 * time.Hour)
				s.GraceEndAt = &graceEnd
			}
			s.UpdatedAt = now
			return true
		}
	case SubscriptionStatusGrace:
		if s.GraceEndAt != nil && now.After(*s.GraceEndAt) {
			s.Status = SubscriptionStatusExpired
			s.UpdatedAt = now
			return true
		}
	}
	return false
}

// RenewalDue reports whether the scheduler should consider this subscription
// for an automatic charge or a manual-renewal notification.
func (s *Subscription) RenewalDue(now time.Time, includeGrace bool) bool {
	switch s.Status {
	case SubscriptionStatusActive:
	case SubscriptionStatusGrace:
		if !includeGrace {
			return false
		}
	default:
		return false
	}
	return s.EndAt != nil && now.After(*s.EndAt)
}

// GraceExpired reports whether the subscription overran its grace window.
func (s *Subscription) GraceExpired(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusGrace:
	default:
		return false
	}
	return s.GraceEndAt != nil && now.After(*s.GraceEndAt)
}

// CanAutoRenew reports whether the automatic charge path is still allowed.
func (s *Subscription) CanAutoRenew() bool {
	return s.AutoRenew && s.RenewalAttempts < s.MaxRenewalAttempts
}

func (s *Subscription) IncrementRenewalAttempt(now time.Time) {
	s.RenewalAttempts++
	s.UpdatedAt = now
}

// ObservePayment records which completed payment last advanced the
// subscription. The stored txn id is the idempotency key that keeps a
// redelivered webhook from stacking a second renewal onto the same charge.
func (s *Subscription) ObservePayment(p *Payment, now time.Time) {
	s.LastPaymentTxnID = p.MerchantTxnID
	if p.PaymentBrand != "" {
		s.LastPaymentBrand = p.PaymentBrand
	}
	if p.Method != "" {
		s.LastPaymentMethod = p.Method
	}
	s.UpdatedAt = now
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// ChangePlan switches the subscription to a new plan effective at the given
// instant and reports the proration delta computed on a daily-rate basis.
// Charging or refunding the delta is the caller's responsibility.
func (s *Subscription) ChangePlan(current, next *Plan, effective time.Time) (ProrationCalculation, error) {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusGrace:
	default:
		return ProrationCalculation{}, s.transitionErr("change plan")
	}
	if current.IsZero() || next.IsZero() || s.StartAt == nil {
		return ProrationCalculation{}, domain.ErrInvalidArgument
	}

	daysUsed := daysBetween(*s.StartAt, effective)
	if daysUsed < 0 {
		daysUsed = 0
	}
	daysRemaining := current.DurationDays - daysUsed

	refund := current.DailyRate().Mul(decimal.NewFromInt(int64(daysRemaining)))
	charge := next.DailyRate().Mul(decimal.NewFromInt(int64(next.DurationDays)))

	end := effective.Add(time.Duration(next.DurationDays) * 24 * time.Hour)
	graceEnd := end.Add(time.Duration(next.GracePeriodDays) * 24 * time.Hour)

	s.PlanID = next.ID
	s.Price = next.Price
	s.Currency = next.Currency
	s.EndAt = &end
	s.GraceEndAt = &graceEnd
	s.UpdatedAt = effective

	return ProrationCalculation{
		CurrentPlanRefund: refund,
		NewPlanCharge:     charge,
		NetAmount:         charge.Sub(refund),
		EffectiveDate:     effective,
		DaysUsed:          daysUsed,
		DaysRemaining:     daysRemaining,
	}, nil
}

// ChangeBillingDate moves the end of the current period, preserving the grace
// width, and reports the pro-rata charge (positive) or credit (negative) for
// the moved days.
func (s *Subscription) ChangeBillingDate(plan *Plan, newDate, now time.Time) (ProrationCalculation, error) {
	if s.Status != SubscriptionStatusActive {
		return ProrationCalculation{}, s.transitionErr("change billing date")
	}
	if s.EndAt == nil {
		return ProrationCalculation{}, fmt.Errorf("subscription %s has no end date: %w", s.ID, domain.ErrInvalidArgument)
	}

	currentEnd := *s.EndAt
	daysUntilCurrent := daysBetween(now, currentEnd)
	daysUntilNew := daysBetween(now, newDate)
	diff := daysUntilNew - daysUntilCurrent

	net := s.Price.Div(decimal.NewFromInt(int64(plan.DurationDays))).
		Mul(decimal.NewFromInt(int64(diff)))

	if s.GraceEndAt != nil {
		graceEnd := newDate.Add(s.GraceEndAt.Sub(currentEnd))
		s.GraceEndAt = &graceEnd
	}
	s.EndAt = &newDate
	s.BillingAnchor = &newDate
	s.UpdatedAt = now

	return ProrationCalculation{
		CurrentPlanRefund: decimal.Zero,
		NewPlanCharge:     net,
		NetAmount:         net,
		EffectiveDate:     newDate,
		DaysUsed:          daysUntilCurrent,
		DaysRemaining:     daysUntilNew,
	}, nil
}
