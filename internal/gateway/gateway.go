// Package gateway is the entry point callers use: it ties logins to stored
// users and routes reads through the connection pool.
package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danhigham/tgscope/internal/authflow"
	"github.com/danhigham/tgscope/internal/connpool"
	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/fetch"
)

const DefaultDays = 7

// Users stores authorized accounts.
type Users interface {
	UpsertUser(ctx context.Context, u domain.User) (domain.User, error)
	UserByID(ctx context.Context, id int64) (domain.User, error)
	ClearUserSession(ctx context.Context, id int64) error
}

type Service struct {
	flow      *authflow.Flow
	users     Users
	pool      *connpool.Pool
	directory *fetch.Directory
	history   *fetch.History
	now       func() time.Time
	logger    *zap.Logger
}

func New(
	flow *authflow.Flow,
	users Users,
	pool *connpool.Pool,
	directory *fetch.Directory,
	history *fetch.History,
	logger *zap.Logger,
) *Service {
	return &Service{
		flow:      flow,
		users:     users,
		pool:      pool,
		directory: directory,
		history:   history,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *Service) SendCode(ctx context.Context, phone string) (string, error) {
	return s.flow.SendCode(ctx, phone)
}

// SignIn completes a login and records the account, returning the stored
// user with its internal id.
func (s *Service) SignIn(ctx context.Context, phone, code, codeHash, password string) (domain.User, error) {
	auth, err := s.flow.SignIn(ctx, phone, code, codeHash, password)
	if err != nil {
		return domain.User{}, err
	}

	user, err := s.users.UpsertUser(ctx, domain.User{
		AccountID:    auth.AccountID,
		Username:     auth.Username,
		FirstName:    auth.FirstName,
		PhoneNumber:  phone,
		SessionToken: auth.SessionToken,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

func (s *Service) AuthStatus(ctx context.Context, phone string) (domain.AuthState, error) {
	return s.flow.Status(ctx, phone)
}

// AcquireConnection makes sure a pooled connection exists for accountID.
func (s *Service) AcquireConnection(ctx context.Context, accountID int64, token domain.SessionToken) error {
	_, err := s.pool.Acquire(ctx, accountID, token)
	return err
}

func (s *Service) Conversations(ctx context.Context, userID int64) ([]domain.Conversation, error) {
	user, err := s.connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.directory.Conversations(ctx, user.AccountID)
}

// Messages returns the chat's messages from the last days calendar days.
// Non-positive days mean DefaultDays.
func (s *Service) Messages(ctx context.Context, userID, chatID int64, days int) ([]domain.Message, error) {
	if days <= 0 {
		days = DefaultDays
	}
	user, err := s.connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	to := s.now()
	from := to.AddDate(0, 0, -days)
	return s.history.Messages(ctx, user.AccountID, chatID, from, to)
}

// Logout drops the user's connection and forgets the session.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	s.pool.Release(user.AccountID)
	if err := s.users.ClearUserSession(ctx, userID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Info("User logged out", zap.Int64("user_id", userID), zap.Int64("account_id", user.AccountID))
	return nil
}

func (s *Service) connect(ctx context.Context, userID int64) (domain.User, error) {
	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if user.SessionToken == "" {
		return domain.User{}, domain.E(domain.KindNotFound, "gateway.connect", fmt.Errorf("user %d has no session", userID))
	}
	if _, err := s.pool.Acquire(ctx, user.AccountID, user.SessionToken); err != nil {
		return domain.User{}, err
	}
	return user, nil
}
