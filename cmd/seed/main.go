package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/config"
	pg "peach-subscription-billing/internal/infra/db/postgres"
	"peach-subscription-billing/internal/infra/logging"
	"peach-subscription-billing/internal/usecase"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planUC := usecase.NewPlanUseCase(pg.NewPlanRepo(pool), logger)
	userUC := usecase.NewUserUseCase(pg.NewUserRepo(pool), pg.NewTxManager(pool), logger)

	if cfg.Runtime.Dev {
		u, err := userUC.RegisterOrFetch(ctx, "demo@example.com", "Demo User")
		if err != nil {
			log.Fatalf("seed demo user: %v", err)
		}
		fmt.Printf("demo user: %s (%s)\n", u.Email, u.ID)
	}

	// If plans already exist, do nothing
	plans, err := planUC.ListActive(ctx)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(plans) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(plans))
		for _, p := range plans {
			fmt.Printf("  - %s (%s, days=%d, price=%s %s)\n", p.Name, p.Code, p.DurationDays, p.Price.StringFixed(2), p.Currency)
		}
		return
	}

	seed := []struct {
		Code  string
		Name  string
		Price string
		Days  int
		Grace int
	}{
		{"monthly", "Monthly", "199.00", 30, 3},
		{"quarterly", "Quarterly", "539.00", 90, 4},
		{"annual", "Annual", "1999.00", 365, 7},
	}

	for _, s := range seed {
		price, err := decimal.NewFromString(s.Price)
		if err != nil {
			log.Fatalf("parse price %q: %v", s.Price, err)
		}
		p, err := planUC.Create(ctx, s.Code, s.Name, price, "ZAR", s.Days, s.Grace)
		if err != nil {
			log.Fatalf("create plan %q: %v", s.Code, err)
		}
		fmt.Printf("seeded: %s (id=%s, days=%d, price=%s %s)\n", p.Code, p.ID, p.DurationDays, p.Price.StringFixed(2), p.Currency)
	}

	fmt.Println("✅ Seeding complete.")
}
