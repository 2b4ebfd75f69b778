package model

import (
	"time"

	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain"
)

// Plan represents a purchasable subscription plan with a fixed duration and
// price in ZAR.
type Plan struct {
	ID              PlanID
	Code            string // stable short code, e.g. "monthly", "annual"
	Name            string
	Price           decimal.Decimal
	Currency        string
	DurationDays    int
	GracePeriodDays int
	Active          bool
	CreatedAt       time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// DailyRate is the proration base: price divided by plan duration.
func (p *Plan) DailyRate() decimal.Decimal {
	return p.Price.Div(decimal.NewFromInt(int64(p.DurationDays)))
}

// NewPlan validates and constructs a plan.
func NewPlan(id PlanID, code, name string, price decimal.Decimal, currency string, durationDays, gracePeriodDays int) (*Plan, error) {
	if id == "" || code == "" || name == "" || durationDays <= 0 || gracePeriodDays < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if price.IsNegative() || price.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	if currency == "" {
		currency = "ZAR"
	}
	return &Plan{
		ID:              id,
		Code:            code,
		Name:            name,
		Price:           price,
		Currency:        currency,
		DurationDays:    durationDays,
		GracePeriodDays: gracePeriodDays,
		Active:          true,
		CreatedAt:       time.Now(),
	}, nil
}
