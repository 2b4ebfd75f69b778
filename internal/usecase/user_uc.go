package usecase

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/logging"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes the little user management billing needs.
type UserUseCase interface {
	// RegisterOrFetch returns the user with the given email, creating it on
	// first sight.
	RegisterOrFetch(ctx context.Context, email, displayName string) (*model.User, error)
	Get(ctx context.Context, id model.UserID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	LinkTelegramChat(ctx context.Context, id model.UserID, chatID int64) error
	Count(ctx context.Context) (int, error)
}

type userUC struct {
	users repository.UserRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, tm repository.TransactionManager, logger *zerolog.Logger) *userUC {
	return &userUC{
		users: users,
		tm:    tm,
		log:   logger,
	}
}

func (u *userUC) RegisterOrFetch(ctx context.Context, email, displayName string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	email = strings.TrimSpace(strings.ToLower(email))

	var user *model.User
	// The find and the save must be one atomic step or two concurrent
	// registrations race on the same email.
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.users.FindByEmail(ctx, tx, email)
		if err != nil && err != domain.ErrNotFound {
			return err
		}
		if existing != nil {
			user = existing
			return nil
		}

		nu, err := model.NewUser(email, displayName)
		if err != nil {
			return err
		}
		if err := u.users.Save(ctx, tx, nu); err != nil {
			return err
		}
		user = nu
		return nil
	})
	return user, err
}

func (u *userUC) Get(ctx context.Context, id model.UserID) (*model.User, error) {
	return u.users.FindByID(ctx, repository.NoTX, id)
}

func (u *userUC) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.users.FindByEmail(ctx, repository.NoTX, strings.TrimSpace(strings.ToLower(email)))
}

func (u *userUC) LinkTelegramChat(ctx context.Context, id model.UserID, chatID int64) error {
	defer logging.TraceDuration(u.log, "UserUC.LinkTelegramChat")()

	user, err := u.users.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	user.TelegramChatID = chatID
	user.Touch()
	if err := u.users.Save(ctx, repository.NoTX, user); err != nil {
		return err
	}
	u.log.Info().Str("user_id", id.String()).Int64("chat_id", chatID).Msg("telegram chat linked")
	return nil
}

func (u *userUC) Count(ctx context.Context) (int, error) {
	return u.users.CountUsers(ctx, repository.NoTX)
}
