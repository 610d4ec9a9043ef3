package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danhigham/tgscope/internal/domain"
)

// CreatePendingAuth stores a login attempt. An existing row for the same
// phone number is replaced, so a phone never has more than one.
func (db *DB) CreatePendingAuth(ctx context.Context, p domain.PendingAuth) error {
	state := p.State
	if state == "" {
		state = domain.AuthStateCodeSent
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO pending_auth (phone_number, code_hash, session_token, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone_number) DO UPDATE SET
			code_hash = excluded.code_hash,
			session_token = excluded.session_token,
			state = excluded.state,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		p.PhoneNumber, p.CodeHash, string(p.SessionToken), string(state),
		p.CreatedAt.UnixMilli(), p.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert pending auth: %w", err)
	}
	return nil
}

// PendingAuthByPhone returns the login attempt for phone, or an error
// matching domain.ErrNotFound.
func (db *DB) PendingAuthByPhone(ctx context.Context, phone string) (domain.PendingAuth, error) {
	var (
		p                    domain.PendingAuth
		token, state         string
		createdAt, expiresAt int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT phone_number, code_hash, session_token, state, created_at, expires_at
		FROM pending_auth WHERE phone_number = ?`, phone).
		Scan(&p.PhoneNumber, &p.CodeHash, &token, &state, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingAuth{}, domain.E(domain.KindNotFound, "store.PendingAuthByPhone", errors.New("no pending authentication"))
	}
	if err != nil {
		return domain.PendingAuth{}, fmt.Errorf("select pending auth: %w", err)
	}
	p.SessionToken = domain.SessionToken(token)
	p.State = domain.AuthState(state)
	p.CreatedAt = time.UnixMilli(createdAt)
	p.ExpiresAt = time.UnixMilli(expiresAt)
	return p, nil
}

// SetPendingAuthState records how far a login attempt has progressed.
func (db *DB) SetPendingAuthState(ctx context.Context, phone string, state domain.AuthState) error {
	_, err := db.ExecContext(ctx, `UPDATE pending_auth SET state = ? WHERE phone_number = ?`, string(state), phone)
	if err != nil {
		return fmt.Errorf("update pending auth state: %w", err)
	}
	return nil
}

// DeletePendingAuth removes every login attempt for phone.
func (db *DB) DeletePendingAuth(ctx context.Context, phone string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM pending_auth WHERE phone_number = ?`, phone)
	if err != nil {
		return 0, fmt.Errorf("delete pending auth: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredPendingAuth removes login attempts whose deadline is before now.
func (db *DB) DeleteExpiredPendingAuth(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM pending_auth WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired pending auth: %w", err)
	}
	return res.RowsAffected()
}
