package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain/ports/adapter"
)

var _ adapter.NotificationPusher = (*TelegramNotifier)(nil)

// TelegramNotifier pushes billing notifications to a user's linked Telegram
// chat. It only sends; polling and commands are out of scope for this service.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
	log *zerolog.Logger
}

func NewTelegramNotifier(token string, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	nLog := logger.With().Str("component", "TelegramNotifier").Logger()
	return &TelegramNotifier{bot: bot, log: &nLog}, nil
}

func (n *TelegramNotifier) Push(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// tgbotapi.Send has no context support, the call runs on its own client.
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return err
	}
	n.log.Debug().Int64("chat_id", chatID).Msg("notification pushed")
	return nil
}
