//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/usecase"
)

func newUserUC(repo *MockUserRepo) usecase.UserUseCase {
	return usecase.NewUserUseCase(repo, NewMockTxManager(), newTestLogger())
}

func TestUserUseCase_RegisterOrFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("should create the user once per email", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockUserRepo()
		uc := newUserUC(repo)

		// --- Act ---
		first, err := uc.RegisterOrFetch(ctx, "ada@example.com", "Ada")
		if err != nil {
			t.Fatalf("first register: %v", err)
		}
		second, err := uc.RegisterOrFetch(ctx, "ada@example.com", "Ada Again")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected the same user back, got %s and %s", first.ID, second.ID)
		}
		count, _ := uc.Count(ctx)
		if count != 1 {
			t.Errorf("expected 1 stored user, got %d", count)
		}
	})

	t.Run("should normalize the email before matching", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockUserRepo()
		uc := newUserUC(repo)
		first, err := uc.RegisterOrFetch(ctx, "ada@example.com", "Ada")
		if err != nil {
			t.Fatalf("first register: %v", err)
		}

		// --- Act ---
		second, err := uc.RegisterOrFetch(ctx, "  ADA@Example.COM ", "Ada")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if first.ID != second.ID {
			t.Error("expected case and whitespace to be irrelevant")
		}
		if second.Email != "ada@example.com" {
			t.Errorf("expected the stored email lowercased, got %q", second.Email)
		}
	})

	t.Run("should reject a malformed email", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockUserRepo()

		// --- Act ---
		_, err := newUserUC(repo).RegisterOrFetch(ctx, "not-an-email", "X")

		// --- Assert ---
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestUserUseCase_LinkTelegramChat(t *testing.T) {
	ctx := context.Background()

	t.Run("should attach the chat id", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockUserRepo()
		uc := newUserUC(repo)
		user, err := uc.RegisterOrFetch(ctx, "ada@example.com", "Ada")
		if err != nil {
			t.Fatalf("registering: %v", err)
		}

		// --- Act ---
		if err := uc.LinkTelegramChat(ctx, user.ID, 424242); err != nil {
			t.Fatalf("linking: %v", err)
		}

		// --- Assert ---
		stored, err := repo.FindByID(ctx, repository.NoTX, user.ID)
		if err != nil {
			t.Fatalf("fetching: %v", err)
		}
		if stored.TelegramChatID != 424242 {
			t.Errorf("expected chat id 424242, got %d", stored.TelegramChatID)
		}
	})

	t.Run("should report an unknown user", func(t *testing.T) {
		// --- Arrange ---
		repo := NewMockUserRepo()

		// --- Act ---
		err := newUserUC(repo).LinkTelegramChat(ctx, model.NewUserID(), 424242)

		// --- Assert ---
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
