package authflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/store"
	"github.com/danhigham/tgscope/internal/telegram"
	"github.com/danhigham/tgscope/internal/telegram/telegramtest"
)

const phone = "+15550001234"

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func pendingCount(t *testing.T, db *store.DB, phone string) int {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_auth WHERE phone_number = ?`, phone).Scan(&n)
	require.NoError(t, err)
	return n
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// loginDialer hands out a code-sending client for fresh sessions and
// signIn for rehydrated ones.
type loginDialer struct {
	telegramtest.Dialer
	sent   int
	signIn *telegramtest.Client
}

func newLoginDialer(signIn *telegramtest.Client) *loginDialer {
	d := &loginDialer{signIn: signIn}
	d.New = func(token domain.SessionToken) *telegramtest.Client {
		if token == "" {
			d.sent++
			return &telegramtest.Client{
				Token:    domain.SessionToken(fmt.Sprintf("pre-login-%d", d.sent)),
				CodeHash: fmt.Sprintf("hash-%d", d.sent),
			}
		}
		return d.signIn
	}
	return d
}

type fixture struct {
	db     *store.DB
	dialer *loginDialer
	clock  *clock
	flow   *Flow
}

func newFixture(t *testing.T, signIn *telegramtest.Client) *fixture {
	t.Helper()
	fx := &fixture{
		db:     testDB(t),
		dialer: newLoginDialer(signIn),
		clock:  &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	fx.flow = New(fx.db, fx.dialer, DefaultCodeTTL, zaptest.NewLogger(t), WithClock(fx.clock.Now))
	return fx
}

func TestSendCode_PersistsAttempt(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	hash, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", hash)

	p, err := fx.db.PendingAuthByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", p.CodeHash)
	assert.Equal(t, domain.SessionToken("pre-login-1"), p.SessionToken)
	assert.Equal(t, domain.AuthStateCodeSent, p.State)
	assert.True(t, p.ExpiresAt.Equal(fx.clock.Now().Add(5*time.Minute)))

	// The handshake connection is not kept.
	clients := fx.dialer.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, 1, clients[0].Closes())
	assert.Equal(t, []domain.SessionToken{""}, fx.dialer.Tokens())
}

func TestSendCode_TwiceKeepsOneAttempt(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)
	second, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)

	assert.Equal(t, 1, pendingCount(t, fx.db, phone))

	p, err := fx.db.PendingAuthByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, second, p.CodeHash)
	assert.Equal(t, "hash-2", p.CodeHash)
}

func TestSendCode_FailureStoresNothing(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.dialer.New = func(domain.SessionToken) *telegramtest.Client {
		return &telegramtest.Client{Token: "t", SendCodeErr: domain.E(domain.KindProtocol, "send code", errors.New("PHONE_NUMBER_INVALID"))}
	}

	_, err := fx.flow.SendCode(ctx, phone)
	assert.ErrorIs(t, err, domain.ErrProtocol)

	assert.Zero(t, pendingCount(t, fx.db, phone))
	assert.Equal(t, 1, fx.dialer.Clients()[0].Closes())
}

func TestSignIn_NotFound(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.flow.SignIn(context.Background(), phone, "12345", "hash", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, fx.dialer.Dials())
}

func TestSignIn_Expired(t *testing.T) {
	signIn := &telegramtest.Client{Token: "x", SignInAccount: domain.Account{ID: 1}}
	fx := newFixture(t, signIn)
	ctx := context.Background()

	hash, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)
	fx.clock.Advance(5*time.Minute + time.Second)

	_, err = fx.flow.SignIn(ctx, phone, "12345", hash, "")
	assert.ErrorIs(t, err, domain.ErrExpired)

	assert.Zero(t, pendingCount(t, fx.db, phone))
	assert.Equal(t, 1, fx.dialer.Dials(), "expired attempt must not connect")
}

func TestSignIn_Success(t *testing.T) {
	signIn := &telegramtest.Client{
		Token:         "logged-in",
		SignInAccount: domain.Account{ID: 777, Username: "ann", FirstName: "Ann"},
	}
	fx := newFixture(t, signIn)
	ctx := context.Background()

	hash, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)

	auth, err := fx.flow.SignIn(ctx, phone, "12345", hash, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Authorization{
		AccountID:    777,
		Username:     "ann",
		FirstName:    "Ann",
		SessionToken: "logged-in",
	}, auth)

	// Rehydrated from the stored pre-login session.
	assert.Equal(t, []domain.SessionToken{"", "pre-login-1"}, fx.dialer.Tokens())
	assert.Equal(t, 1, signIn.Closes())

	state, err := fx.flow.Status(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStateAuthenticated, state)
}

func TestSignIn_PasswordRequiredKeepsAttempt(t *testing.T) {
	signIn := &telegramtest.Client{
		Token:           "logged-in",
		SignInErr:       telegram.ErrPasswordNeeded,
		PasswordAccount: domain.Account{ID: 9, FirstName: "Bo"},
	}
	fx := newFixture(t, signIn)
	ctx := context.Background()

	hash, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)

	_, err = fx.flow.SignIn(ctx, phone, "12345", hash, "")
	assert.ErrorIs(t, err, domain.ErrPasswordRequired)

	p, err := fx.db.PendingAuthByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStatePasswordRequired, p.State)
	assert.Equal(t, hash, p.CodeHash)

	auth, err := fx.flow.SignIn(ctx, phone, "12345", hash, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, int64(9), auth.AccountID)
	assert.Equal(t, "Bo", auth.FirstName)
	assert.Equal(t, domain.SessionToken("logged-in"), auth.SessionToken)
}

func TestSignIn_WrongPasswordDeletesAttempt(t *testing.T) {
	signIn := &telegramtest.Client{
		Token:       "x",
		SignInErr:   telegram.ErrPasswordNeeded,
		PasswordErr: domain.E(domain.KindProtocol, "check password", errors.New("PASSWORD_HASH_INVALID")),
	}
	fx := newFixture(t, signIn)
	ctx := context.Background()

	hash, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)

	_, err = fx.flow.SignIn(ctx, phone, "12345", hash, "wrong")
	assert.ErrorIs(t, err, domain.ErrProtocol)

	_, err = fx.db.PendingAuthByPhone(ctx, phone)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignIn_OtherFailureCleansUp(t *testing.T) {
	signIn := &telegramtest.Client{
		Token:     "x",
		SignInErr: domain.E(domain.KindProtocol, "sign in", errors.New("PHONE_CODE_INVALID")),
	}
	fx := newFixture(t, signIn)
	ctx := context.Background()

	hash, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)

	_, err = fx.flow.SignIn(ctx, phone, "00000", hash, "")
	assert.ErrorIs(t, err, domain.ErrProtocol)

	assert.Zero(t, pendingCount(t, fx.db, phone))
	assert.Equal(t, 1, signIn.Closes())
}

func TestSignIn_DialFailureCleansUp(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	hash, err := fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)
	fx.dialer.Errs = []error{nil, domain.E(domain.KindConnection, "dial", nil)}

	_, err = fx.flow.SignIn(ctx, phone, "12345", hash, "")
	assert.ErrorIs(t, err, domain.ErrConnection)

	assert.Zero(t, pendingCount(t, fx.db, phone))
}

func TestStatus(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	state, err := fx.flow.Status(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStateIdle, state)

	_, err = fx.flow.SendCode(ctx, phone)
	require.NoError(t, err)
	state, err = fx.flow.Status(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStateCodeSent, state)

	fx.clock.Advance(6 * time.Minute)
	state, err = fx.flow.Status(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStateIdle, state)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "****1234", maskPhone("+15550001234"))
	assert.Equal(t, "****", maskPhone("123"))
}
