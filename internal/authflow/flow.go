// Package authflow drives the two-step Telegram login: request a code, then
// sign in with it and, for accounts with two-step verification, a password.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/telegram"
)

const DefaultCodeTTL = 5 * time.Minute

// Store persists login attempts between SendCode and SignIn.
type Store interface {
	CreatePendingAuth(ctx context.Context, p domain.PendingAuth) error
	PendingAuthByPhone(ctx context.Context, phone string) (domain.PendingAuth, error)
	SetPendingAuthState(ctx context.Context, phone string, state domain.AuthState) error
	DeletePendingAuth(ctx context.Context, phone string) (int64, error)
	DeleteExpiredPendingAuth(ctx context.Context, now time.Time) (int64, error)
}

type Option func(*Flow)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// Flow runs logins over transient connections. Nothing it opens is pooled;
// every connection is closed before the call returns.
type Flow struct {
	store  Store
	dialer telegram.Dialer
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func New(store Store, dialer telegram.Dialer, ttl time.Duration, logger *zap.Logger, opts ...Option) *Flow {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	f := &Flow{
		store:  store,
		dialer: dialer,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SendCode asks Telegram to send a login code to phone and records the
// attempt. Any earlier attempt for the same phone is dropped first.
func (f *Flow) SendCode(ctx context.Context, phone string) (string, error) {
	if _, err := f.store.DeletePendingAuth(ctx, phone); err != nil {
		return "", fmt.Errorf("clear pending auth: %w", err)
	}

	client, err := f.dialer.Dial(ctx, "")
	if err != nil {
		return "", err
	}
	defer f.closeClient(client)

	codeHash, err := client.SendCode(ctx, phone)
	if err != nil {
		return "", err
	}
	token, err := client.SessionToken()
	if err != nil {
		return "", err
	}

	now := f.now()
	err = f.store.CreatePendingAuth(ctx, domain.PendingAuth{
		PhoneNumber:  phone,
		CodeHash:     codeHash,
		SessionToken: token,
		State:        domain.AuthStateCodeSent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(f.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("save pending auth: %w", err)
	}

	f.logger.Info("Login code sent", zap.String("phone", maskPhone(phone)))
	return codeHash, nil
}

// SignIn completes the login started by SendCode. An empty codeHash falls
// back to the stored one. When the account needs a password and none is
// given, the attempt is kept and ErrPasswordRequired is returned so the call
// can be repeated with one.
func (f *Flow) SignIn(ctx context.Context, phone, code, codeHash, password string) (domain.Authorization, error) {
	const op = "authflow.SignIn"

	pending, err := f.store.PendingAuthByPhone(ctx, phone)
	if err != nil {
		return domain.Authorization{}, err
	}
	if pending.Expired(f.now()) {
		f.discard(ctx, phone)
		return domain.Authorization{}, domain.E(domain.KindExpired, op, nil)
	}
	if codeHash == "" {
		codeHash = pending.CodeHash
	}

	client, err := f.dialer.Dial(ctx, pending.SessionToken)
	if err != nil {
		f.discard(ctx, phone)
		return domain.Authorization{}, err
	}
	defer f.closeClient(client)

	account, err := client.SignIn(ctx, phone, code, codeHash)
	switch {
	case err == nil:
	case errors.Is(err, telegram.ErrPasswordNeeded):
		if password == "" {
			if err := f.store.SetPendingAuthState(ctx, phone, domain.AuthStatePasswordRequired); err != nil {
				f.logger.Warn("Failed to record password state", zap.Error(err))
			}
			f.logger.Info("Password required", zap.String("phone", maskPhone(phone)))
			return domain.Authorization{}, domain.E(domain.KindPasswordRequired, op, nil)
		}
		account, err = client.CheckPassword(ctx, password)
		if err != nil {
			f.discard(ctx, phone)
			return domain.Authorization{}, err
		}
	default:
		f.discard(ctx, phone)
		return domain.Authorization{}, err
	}

	token, err := client.SessionToken()
	if err != nil {
		f.discard(ctx, phone)
		return domain.Authorization{}, err
	}
	// The row stays until the sweep so a retried request sees a finished login.
	if err := f.store.SetPendingAuthState(ctx, phone, domain.AuthStateAuthenticated); err != nil {
		f.logger.Warn("Failed to record authenticated state", zap.Error(err))
	}

	f.logger.Info("Signed in",
		zap.Int64("account_id", account.ID),
		zap.String("username", account.Username))
	return domain.Authorization{
		AccountID:    account.ID,
		Username:     account.Username,
		FirstName:    account.FirstName,
		SessionToken: token,
	}, nil
}

// Status reports where the login for phone stands. Missing and expired
// attempts are idle.
func (f *Flow) Status(ctx context.Context, phone string) (domain.AuthState, error) {
	pending, err := f.store.PendingAuthByPhone(ctx, phone)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.AuthStateIdle, nil
	}
	if err != nil {
		return "", err
	}
	if pending.Expired(f.now()) {
		return domain.AuthStateIdle, nil
	}
	return pending.State, nil
}

func (f *Flow) discard(ctx context.Context, phone string) {
	if _, err := f.store.DeletePendingAuth(ctx, phone); err != nil {
		f.logger.Warn("Failed to delete pending auth", zap.String("phone", maskPhone(phone)), zap.Error(err))
	}
}

func (f *Flow) closeClient(c telegram.Client) {
	if err := c.Close(); err != nil {
		f.logger.Debug("Error closing auth connection", zap.Error(err))
	}
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
