package notify

import (
	"context"

	"github.com/rs/zerolog"

	"peach-subscription-billing/internal/domain/ports/adapter"
)

var _ adapter.NotificationPusher = (*NoopNotifier)(nil)

// NoopNotifier logs pushes instead of sending them, for local runs and for
// deployments without a configured bot token.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	nLog := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &nLog}
}

func (n *NoopNotifier) Push(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().Int64("chat_id", chatID).Str("text", text).Msg("notification push (noop)")
	return nil
}
