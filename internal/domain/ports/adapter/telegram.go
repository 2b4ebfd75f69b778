// File: internal/domain/ports/adapter/telegram.go
package adapter

import "context"

// NotificationPusher delivers a notification to a user's linked chat.
// Push failures must never fail the mailbox write they accompany.
type NotificationPusher interface {
	Push(ctx context.Context, chatID int64, text string) error
}
