package connpool

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/retry"
	"github.com/danhigham/tgscope/internal/telegram"
)

const (
	maxConnectAttempts  = 3
	duplicateKeyBackoff = 2000 * time.Millisecond
)

// DefaultPolicy tries three times. Duplicated auth keys wait 2s then 4s;
// other failures retry right away.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: maxConnectAttempts,
		Delay:       retry.Linear(duplicateKeyBackoff),
		ShouldWait: func(err error) bool {
			return errors.Is(err, domain.ErrDuplicateKey)
		},
	}
}

// Factory builds connections from saved session tokens.
type Factory struct {
	dialer telegram.Dialer
	policy retry.Policy
	logger *zap.Logger
}

func NewFactory(dialer telegram.Dialer, policy retry.Policy, logger *zap.Logger) *Factory {
	f := &Factory{dialer: dialer, policy: policy, logger: logger}
	if f.policy.OnRetry == nil {
		f.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			f.logger.Warn("Retrying connection",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", f.policy.MaxAttempts),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}
	return f
}

// Create dials a new client for accountID. Every attempt starts a fresh
// session from the same token.
func (f *Factory) Create(ctx context.Context, accountID int64, token domain.SessionToken) (telegram.Client, error) {
	var client telegram.Client
	err := f.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		c, err := f.dialer.Dial(ctx, token)
		if err != nil {
			return err
		}
		client = c
		f.logger.Info("Client connected",
			zap.Int64("account_id", accountID),
			zap.Int("attempt", attempt))
		return nil
	})
	if err != nil {
		f.logger.Error("Failed to create client", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, domain.E(domain.KindConnection, "connpool.Create", err)
	}
	return client, nil
}
