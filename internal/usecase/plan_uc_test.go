//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/usecase"
)

func newPlanUC(repo *MockPlanRepo) usecase.PlanUseCase {
	return usecase.NewPlanUseCase(repo, newTestLogger())
}

func TestPlanUseCase(t *testing.T) {
	ctx := context.Background()

	t.Run("should create and fetch a plan by code", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockPlanRepo()
		uc := newPlanUC(repo)

		// --- Act ---
		created, err := uc.Create(ctx, "monthly", "Monthly", decimal.RequireFromString("100.00"), "ZAR", 30, 3)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if !created.Active {
			t.Error("expected a new plan to be active")
		}
		got, err := uc.GetByCode(ctx, "monthly")
		if err != nil {
			t.Fatalf("fetching by code: %v", err)
		}
		if got.ID != created.ID {
			t.Errorf("expected plan %s, got %s", created.ID, got.ID)
		}
	})

	t.Run("should reject a non-positive price", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockPlanRepo()

		// --- Act ---
		_, err := newPlanUC(repo).Create(ctx, "free", "Free", decimal.Zero, "ZAR", 30, 3)

		// --- Assert ---
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should list only active plans", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockPlanRepo()
		uc := newPlanUC(repo)
		if _, err := uc.Create(ctx, "monthly", "Monthly", decimal.RequireFromString("100.00"), "ZAR", 30, 3); err != nil {
			t.Fatalf("creating monthly: %v", err)
		}
		legacy, err := uc.Create(ctx, "legacy", "Legacy", decimal.RequireFromString("50.00"), "ZAR", 30, 3)
		if err != nil {
			t.Fatalf("creating legacy: %v", err)
		}
		legacy.Active = false
		if err := repo.Save(ctx, repository.NoTX, legacy); err != nil {
			t.Fatalf("retiring legacy: %v", err)
		}

		// --- Act ---
		plans, err := uc.ListActive(ctx)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if len(plans) != 1 {
			t.Fatalf("expected 1 active plan, got %d", len(plans))
		}
		if plans[0].Code != "monthly" {
			t.Errorf("expected the monthly plan, got %q", plans[0].Code)
		}
	})

	t.Run("should report an unknown plan", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockPlanRepo()

		// --- Act ---
		_, err := newPlanUC(repo).GetByCode(ctx, "nope")

		// --- Assert ---
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
