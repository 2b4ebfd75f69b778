package usecase

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ PlanUseCase = (*planUC)(nil)

// PlanUseCase manages billing plans.
type PlanUseCase interface {
	Create(ctx context.Context, code, name string, price decimal.Decimal, currency string, durationDays, gracePeriodDays int) (*model.Plan, error)
	Get(ctx context.Context, id model.PlanID) (*model.Plan, error)
	GetByCode(ctx context.Context, code string) (*model.Plan, error)
	ListActive(ctx context.Context) ([]*model.Plan, error)
}

type planUC struct {
	plans repository.PlanRepository
	log   *zerolog.Logger
}

func NewPlanUseCase(plans repository.PlanRepository, logger *zerolog.Logger) *planUC {
	return &planUC{plans: plans, log: logger}
}

func (u *planUC) Create(ctx context.Context, code, name string, price decimal.Decimal, currency string, durationDays, gracePeriodDays int) (*model.Plan, error) {
	plan, err := model.NewPlan(model.NewPlanID(), code, name, price, currency, durationDays, gracePeriodDays)
	if err != nil {
		return nil, err
	}
	if err := u.plans.Save(ctx, repository.NoTX, plan); err != nil {
		return nil, err
	}
	u.log.Info().Str("plan_id", plan.ID.String()).Str("code", plan.Code).Msg("plan created")
	return plan, nil
}

func (u *planUC) Get(ctx context.Context, id model.PlanID) (*model.Plan, error) {
	return u.plans.FindByID(ctx, repository.NoTX, id)
}

func (u *planUC) GetByCode(ctx context.Context, code string) (*model.Plan, error) {
	return u.plans.FindByCode(ctx, repository.NoTX, code)
}

func (u *planUC) ListActive(ctx context.Context) ([]*model.Plan, error) {
	return u.plans.ListActive(ctx, repository.NoTX)
}
