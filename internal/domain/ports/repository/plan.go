package repository

import (
	"context"

	"peach-subscription-billing/internal/domain/model"
)

// PlanRepository is the port for plan persistence.
type PlanRepository interface {
	Save(ctx context.Context, tx Tx, plan *model.Plan) error
	FindByID(ctx context.Context, tx Tx, id model.PlanID) (*model.Plan, error)
	FindByCode(ctx context.Context, tx Tx, code string) (*model.Plan, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.Plan, error)
}
