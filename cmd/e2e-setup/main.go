package main

import (
	"context"
	"log"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/config"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/infra/db/postgres"
	"peach-subscription-billing/internal/infra/redis"
)

// This script is for setting up a clean, predictable database state
// for manual end-to-end testing.
func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	// --- Connect to Postgres ---
	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 5)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	// --- Connect to Redis ---
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	// 1. Clean the Redis cache to remove stale plan entries and locks.
	log.Println("[1/3] Wiping Redis cache...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	// 2. Clean the database completely.
	log.Println("[2/3] Wiping all existing database data...")
	_, err = pool.Exec(ctx, `
		TRUNCATE
			users, plans, subscriptions, payments, payment_methods, notifications
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	// 3. Seed the database with standard plans.
	log.Println("[3/3] Seeding standard plans...")
	seedPlans(ctx, pool)

	log.Println("--- ✅ E2E Environment Setup Complete ---")
}

// seedPlans writes the plans the checkout and renewal flows expect.
func seedPlans(ctx context.Context, pool *pgxpool.Pool) {
	planRepo := postgres.NewPlanRepo(pool)

	monthly, _ := model.NewPlan(model.NewPlanID(), "monthly", "Monthly", decimal.RequireFromString("199.00"), "ZAR", 30, 3)
	if err := planRepo.Save(ctx, nil, monthly); err != nil {
		log.Printf("failed to save monthly plan: %v", err)
	}

	annual, _ := model.NewPlan(model.NewPlanID(), "annual", "Annual", decimal.RequireFromString("1999.00"), "ZAR", 365, 7)
	if err := planRepo.Save(ctx, nil, annual); err != nil {
		log.Printf("failed to save annual plan: %v", err)
	}
}
