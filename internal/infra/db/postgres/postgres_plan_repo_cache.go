package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/metrics"
	red "peach-subscription-billing/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

// planRepoCacheDecorator caches plan reads in Redis. Plans change rarely and
// are read on every checkout and every renewal sweep, so a 1h TTL is safe.
type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient) repository.PlanRepository {
	return &planRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   1 * time.Hour,
	}
}

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id model.PlanID) (*model.Plan, error) {
	return d.findCached(ctx, fmt.Sprintf("plan:id:%s", id), func() (*model.Plan, error) {
		return d.inner.FindByID(ctx, tx, id)
	})
}

func (d *planRepoCacheDecorator) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Plan, error) {
	return d.findCached(ctx, fmt.Sprintf("plan:code:%s", code), func() (*model.Plan, error) {
		return d.inner.FindByCode(ctx, tx, code)
	})
}

func (d *planRepoCacheDecorator) findCached(ctx context.Context, key string, fetch func() (*model.Plan, error)) (*model.Plan, error) {
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.IncCacheRequest("plan", "hit")
		var plan model.Plan
		if json.Unmarshal([]byte(val), &plan) == nil {
			return &plan, nil
		}
	case err == redis.Nil:
		metrics.IncCacheRequest("plan", "miss")
	default:
		metrics.IncCacheRequest("plan", "error")
	}

	plan, err := fetch()
	if err != nil {
		return nil, err
	}
	if plan != nil {
		bytes, _ := json.Marshal(plan)
		d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return plan, nil
}

func (d *planRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	const key = "plans:active"
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.IncCacheRequest("plan_list", "hit")
		var plans []*model.Plan
		if json.Unmarshal([]byte(val), &plans) == nil {
			return plans, nil
		}
	case err == redis.Nil:
		metrics.IncCacheRequest("plan_list", "miss")
	default:
		metrics.IncCacheRequest("plan_list", "error")
	}

	plans, err := d.inner.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		bytes, _ := json.Marshal(plans)
		d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return plans, nil
}

// Save invalidates every key the plan may be cached under before writing.
func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	d.cache.Del(ctx, fmt.Sprintf("plan:id:%s", plan.ID), fmt.Sprintf("plan:code:%s", plan.Code), "plans:active")
	return d.inner.Save(ctx, tx, plan)
}
