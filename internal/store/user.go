package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danhigham/tgscope/internal/domain"
)

// UpsertUser inserts or updates the user keyed by account id and returns the
// stored row including its internal id.
func (db *DB) UpsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (account_id, username, first_name, phone_number, session_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			phone_number = excluded.phone_number,
			session_token = excluded.session_token,
			updated_at = excluded.updated_at`,
		u.AccountID, u.Username, u.FirstName, u.PhoneNumber, string(u.SessionToken), now, now)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return db.UserByAccountID(ctx, u.AccountID)
}

// UserByID looks up a user by internal id.
func (db *DB) UserByID(ctx context.Context, id int64) (domain.User, error) {
	return db.scanUser(db.QueryRowContext(ctx, userSelect+` WHERE id = ?`, id))
}

// UserByAccountID looks up a user by Telegram account id.
func (db *DB) UserByAccountID(ctx context.Context, accountID int64) (domain.User, error) {
	return db.scanUser(db.QueryRowContext(ctx, userSelect+` WHERE account_id = ?`, accountID))
}

// ClearUserSession drops the stored session token, forcing a new login.
func (db *DB) ClearUserSession(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE users SET session_token = '', updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("clear user session: %w", err)
	}
	return nil
}

const userSelect = `
	SELECT id, account_id, username, first_name, phone_number, session_token, created_at, updated_at
	FROM users`

func (db *DB) scanUser(row *sql.Row) (domain.User, error) {
	var (
		u                    domain.User
		token                string
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.AccountID, &u.Username, &u.FirstName, &u.PhoneNumber, &token, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.E(domain.KindNotFound, "store.User", errors.New("user not found"))
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	u.SessionToken = domain.SessionToken(token)
	u.CreatedAt = time.UnixMilli(createdAt)
	u.UpdatedAt = time.UnixMilli(updatedAt)
	return u, nil
}
