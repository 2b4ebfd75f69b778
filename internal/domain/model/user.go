package model

import (
	"strings"
	"time"

	"peach-subscription-billing/internal/domain"
)

// User is the collaborator surface the billing core needs: identity, a unique
// email, and an optional Telegram chat for notification push. Registration
// and authentication live elsewhere.
type User struct {
	ID             UserID
	Email          string
	DisplayName    string
	TelegramChatID int64 // 0 when the user has no linked chat
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewUser(email, displayName string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:          NewUserID(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// Touch bumps the modification time.
func (u *User) Touch() { u.UpdatedAt = time.Now() }
