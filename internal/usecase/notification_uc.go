package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/adapter"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/logging"
	"peach-subscription-billing/internal/infra/metrics"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// NotifyManualRenewal records (at most once per billing period) that the
	// subscription needs a hands-on renewal, and pushes it to the user's chat.
	NotifyManualRenewal(ctx context.Context, sub *model.Subscription, reason string) error
	// NotifyRenewalFailure records a failed automatic charge attempt.
	NotifyRenewalFailure(ctx context.Context, sub *model.Subscription, attempt, maxAttempts int) error
	ListForUser(ctx context.Context, userID model.UserID, onlyUnacknowledged bool) ([]*model.Notification, error)
	Acknowledge(ctx context.Context, userID model.UserID, id model.NotificationID) error
}

type notificationUC struct {
	notifs repository.NotificationRepository
	users  repository.UserRepository
	pusher adapter.NotificationPusher
	log    *zerolog.Logger
}

func NewNotificationUseCase(notifs repository.NotificationRepository, users repository.UserRepository, pusher adapter.NotificationPusher, logger *zerolog.Logger) *notificationUC {
	return &notificationUC{
		notifs: notifs,
		users:  users,
		pusher: pusher,
		log:    logger,
	}
}

func (n *notificationUC) NotifyManualRenewal(ctx context.Context, sub *model.Subscription, reason string) error {
	defer logging.TraceDuration(n.log, "NotificationUC.NotifyManualRenewal")()

	// One nag per due period: anything recorded since the period ended
	// counts as already sent.
	since := sub.CreatedAt
	if sub.EndAt != nil {
		since = *sub.EndAt
	}
	sent, err := n.notifs.Exists(ctx, repository.NoTX, sub.ID, string(model.NotificationKindManualRenewal), since)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	msg := fmt.Sprintf("Your subscription needs a manual renewal: %s. Please pay to keep your access.", reason)
	return n.record(ctx, sub, model.NotificationKindManualRenewal, msg)
}

func (n *notificationUC) NotifyRenewalFailure(ctx context.Context, sub *model.Subscription, attempt, maxAttempts int) error {
	defer logging.TraceDuration(n.log, "NotificationUC.NotifyRenewalFailure")()

	msg := fmt.Sprintf("Automatic renewal failed (attempt %d of %d). We will retry; you can also renew manually.", attempt, maxAttempts)
	if attempt >= maxAttempts {
		msg = fmt.Sprintf("Automatic renewal failed %d times and will not be retried. Please renew manually.", attempt)
	}
	return n.record(ctx, sub, model.NotificationKindRenewalFailed, msg)
}

func (n *notificationUC) record(ctx context.Context, sub *model.Subscription, kind model.NotificationKind, msg string) error {
	subID := sub.ID
	notif, err := model.NewNotification(sub.UserID, &subID, kind, msg)
	if err != nil {
		return err
	}
	if err := n.notifs.Save(ctx, repository.NoTX, notif); err != nil {
		return err
	}
	metrics.IncNotificationCreated(string(kind))

	// Push is best effort; the mailbox row is the durable part.
	user, err := n.users.FindByID(ctx, repository.NoTX, sub.UserID)
	if err != nil {
		n.log.Warn().Err(err).Str("user_id", sub.UserID.String()).Msg("notification stored but user lookup failed")
		return nil
	}
	if user.TelegramChatID == 0 {
		metrics.IncNotificationPush(string(kind), "no_chat")
		return nil
	}
	if err := n.pusher.Push(ctx, user.TelegramChatID, msg); err != nil {
		n.log.Warn().Err(err).Str("user_id", sub.UserID.String()).Msg("notification push failed")
		metrics.IncNotificationPush(string(kind), "error")
		return nil
	}
	metrics.IncNotificationPush(string(kind), "sent")
	return nil
}

func (n *notificationUC) ListForUser(ctx context.Context, userID model.UserID, onlyUnacknowledged bool) ([]*model.Notification, error) {
	return n.notifs.ListByUser(ctx, repository.NoTX, userID, onlyUnacknowledged)
}

func (n *notificationUC) Acknowledge(ctx context.Context, userID model.UserID, id model.NotificationID) error {
	defer logging.TraceDuration(n.log, "NotificationUC.Acknowledge")()
	return n.notifs.Acknowledge(ctx, repository.NoTX, userID, id)
}
