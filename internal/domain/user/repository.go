package user

import (
	"context"
)

// Repository defines the operations for retrieving User accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// GetByEmail matches the address exactly.
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByTelegramChatID(ctx context.Context, chatID int64) (*User, error)
}
