package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq" // For pq.Array

	"access_grant_service/internal/domain/user"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const userColumns = `id, email, first_name, last_name, roles, telegram_chat_id, created_at, updated_at`

func scanUser(row rowScanner) (*user.User, error) {
	u := &user.User{}
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, pq.Array(&u.Roles), &u.TelegramChatID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *PostgresUserRepository) getOne(ctx context.Context, what, where string, arg any) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting user by %s: %w", what, err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	return r.getOne(ctx, "ID", `id = $1`, id)
}

// GetByEmail compares the address exactly, without case folding.
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, "email", `email = $1`, email)
}

func (r *PostgresUserRepository) GetByTelegramChatID(ctx context.Context, chatID int64) (*user.User, error) {
	return r.getOne(ctx, "Telegram chat ID", `telegram_chat_id = $1`, chatID)
}

// LinkTelegramChat stores the chat a user talks to the bot from.
func (r *PostgresUserRepository) LinkTelegramChat(ctx context.Context, userID string, chatID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET telegram_chat_id = $2, updated_at = NOW() WHERE id = $1`, userID, chatID)
	if err != nil {
		return fmt.Errorf("error linking telegram chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking affected rows: %w", err)
	}
	if n == 0 {
		return user.ErrUserNotFound
	}
	return nil
}
