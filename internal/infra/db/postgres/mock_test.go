//go:build !integration

package postgres

import (
	"context"
	"time"

	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
	red "peach-subscription-billing/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerPlanRepo mocks the database repository that the plan decorator wraps.
type mockInnerPlanRepo struct {
	SaveFunc       func(ctx context.Context, tx repository.Tx, plan *model.Plan) error
	FindByIDFunc   func(ctx context.Context, tx repository.Tx, id model.PlanID) (*model.Plan, error)
	FindByCodeFunc func(ctx context.Context, tx repository.Tx, code string) (*model.Plan, error)
	ListActiveFunc func(ctx context.Context, tx repository.Tx) ([]*model.Plan, error)
}

var _ repository.PlanRepository = (*mockInnerPlanRepo)(nil)

func (m *mockInnerPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	return m.SaveFunc(ctx, tx, plan)
}
func (m *mockInnerPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id model.PlanID) (*model.Plan, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerPlanRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Plan, error) {
	return m.FindByCodeFunc(ctx, tx, code)
}
func (m *mockInnerPlanRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	return m.ListActiveFunc(ctx, tx)
}

// mockInnerMethodRepo mocks the database repository behind the token crypto
// decorator.
type mockInnerMethodRepo struct {
	SaveFunc                    func(ctx context.Context, tx repository.Tx, m *model.PaymentMethodDetail) error
	FindByIDFunc                func(ctx context.Context, tx repository.Tx, id model.PaymentMethodID) (*model.PaymentMethodDetail, error)
	FindDefaultActiveByUserFunc func(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.PaymentMethodDetail, error)
	ListByUserFunc              func(ctx context.Context, tx repository.Tx, userID model.UserID) ([]*model.PaymentMethodDetail, error)
	SetDefaultFunc              func(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error
	DeactivateFunc              func(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error
}

var _ repository.PaymentMethodRepository = (*mockInnerMethodRepo)(nil)

func (m *mockInnerMethodRepo) Save(ctx context.Context, tx repository.Tx, d *model.PaymentMethodDetail) error {
	return m.SaveFunc(ctx, tx, d)
}
func (m *mockInnerMethodRepo) FindByID(ctx context.Context, tx repository.Tx, id model.PaymentMethodID) (*model.PaymentMethodDetail, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerMethodRepo) FindDefaultActiveByUser(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.PaymentMethodDetail, error) {
	return m.FindDefaultActiveByUserFunc(ctx, tx, userID)
}
func (m *mockInnerMethodRepo) ListByUser(ctx context.Context, tx repository.Tx, userID model.UserID) ([]*model.PaymentMethodDetail, error) {
	return m.ListByUserFunc(ctx, tx, userID)
}
func (m *mockInnerMethodRepo) SetDefault(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error {
	return m.SetDefaultFunc(ctx, tx, userID, id)
}
func (m *mockInnerMethodRepo) Deactivate(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error {
	return m.DeactivateFunc(ctx, tx, userID, id)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
