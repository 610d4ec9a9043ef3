package connpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/retry"
	"github.com/danhigham/tgscope/internal/telegram"
	"github.com/danhigham/tgscope/internal/telegram/telegramtest"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func testPolicy(rec *sleepRecorder) retry.Policy {
	p := DefaultPolicy()
	p.Sleep = rec.Sleep
	return p
}

func newTestPool(t *testing.T, dialer telegram.Dialer) *Pool {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return New(NewFactory(dialer, testPolicy(&sleepRecorder{}), logger), logger)
}

func TestAcquire_ReusesLiveClient(t *testing.T) {
	dialer := &telegramtest.Dialer{}
	pool := newTestPool(t, dialer)
	ctx := context.Background()

	first, err := pool.Acquire(ctx, 42, "token")
	require.NoError(t, err)
	second, err := pool.Acquire(ctx, 42, "token")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, dialer.Dials())
	assert.Equal(t, []domain.SessionToken{"token"}, dialer.Tokens())
}

func TestAcquire_ConcurrentCallersShareOneBuild(t *testing.T) {
	dialer := &telegramtest.Dialer{Gate: make(chan struct{})}
	pool := newTestPool(t, dialer)

	const callers = 8
	results := make([]telegram.Client, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := pool.Acquire(context.Background(), 7, "token")
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	close(dialer.Gate)
	wg.Wait()

	assert.Equal(t, 1, dialer.Dials())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, pool.Len())
}

func TestAcquire_DistinctAccountsGetDistinctClients(t *testing.T) {
	dialer := &telegramtest.Dialer{}
	pool := newTestPool(t, dialer)
	ctx := context.Background()

	a, err := pool.Acquire(ctx, 1, "a")
	require.NoError(t, err)
	b, err := pool.Acquire(ctx, 2, "b")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, pool.Len())
}

func TestAcquire_ReplacesDeadClient(t *testing.T) {
	dialer := &telegramtest.Dialer{}
	pool := newTestPool(t, dialer)
	ctx := context.Background()

	first, err := pool.Acquire(ctx, 42, "token")
	require.NoError(t, err)
	first.(*telegramtest.Client).Kill()

	second, err := pool.Acquire(ctx, 42, "token")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, dialer.Dials())
	assert.Equal(t, 1, first.(*telegramtest.Client).Closes())
	assert.Equal(t, 1, pool.Len())
}

func TestAcquire_FailureLeavesNoEntry(t *testing.T) {
	boom := errors.New("network unreachable")
	dialer := &telegramtest.Dialer{Errs: []error{boom, boom, boom}}
	pool := newTestPool(t, dialer)

	_, err := pool.Acquire(context.Background(), 42, "token")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Equal(t, 0, pool.Len())

	// The next call starts over.
	c, err := pool.Acquire(context.Background(), 42, "token")
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 4, dialer.Dials())
}

func TestAcquire_CallerCancelDoesNotAbortBuild(t *testing.T) {
	dialer := &telegramtest.Dialer{Gate: make(chan struct{})}
	pool := newTestPool(t, dialer)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx, 42, "token")
		errc <- err
	}()

	require.Eventually(t, func() bool { return dialer.Dials() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(dialer.Gate)
	require.Eventually(t, func() bool { return pool.Len() == 1 }, time.Second, time.Millisecond)

	c, ok := pool.Get(42)
	assert.True(t, ok)
	assert.NotNil(t, c)
	assert.Equal(t, 1, dialer.Dials())
}

func TestGet(t *testing.T) {
	dialer := &telegramtest.Dialer{}
	pool := newTestPool(t, dialer)

	_, ok := pool.Get(42)
	assert.False(t, ok)

	c, err := pool.Acquire(context.Background(), 42, "token")
	require.NoError(t, err)

	got, ok := pool.Get(42)
	require.True(t, ok)
	assert.Same(t, c, got)

	c.(*telegramtest.Client).Kill()
	_, ok = pool.Get(42)
	assert.False(t, ok)
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, 1, dialer.Dials())
}

func TestRelease(t *testing.T) {
	dialer := &telegramtest.Dialer{}
	pool := newTestPool(t, dialer)

	c, err := pool.Acquire(context.Background(), 42, "token")
	require.NoError(t, err)

	pool.Release(42)
	assert.Equal(t, 1, c.(*telegramtest.Client).Closes())
	_, ok := pool.Get(42)
	assert.False(t, ok)

	// Unknown accounts are a no-op.
	pool.Release(42)
	pool.Release(99)
	assert.Equal(t, 1, c.(*telegramtest.Client).Closes())
}

func TestClose(t *testing.T) {
	dialer := &telegramtest.Dialer{}
	pool := newTestPool(t, dialer)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		_, err := pool.Acquire(ctx, id, "token")
		require.NoError(t, err)
	}

	pool.Close()
	assert.Equal(t, 0, pool.Len())
	for _, c := range dialer.Clients() {
		assert.Equal(t, 1, c.Closes())
	}
}

func TestRelease_DuringBuildDiscardsClient(t *testing.T) {
	dialer := &telegramtest.Dialer{Gate: make(chan struct{})}
	pool := newTestPool(t, dialer)

	errc := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), 9, "token")
		errc <- err
	}()

	require.Eventually(t, func() bool { return dialer.Dials() == 1 }, time.Second, time.Millisecond)
	pool.Release(9)
	close(dialer.Gate)

	assert.ErrorIs(t, <-errc, domain.ErrNotConnected)
	assert.Equal(t, 0, pool.Len())
	require.Len(t, dialer.Clients(), 1)
	assert.Equal(t, 1, dialer.Clients()[0].Closes())

	// A later acquire builds afresh.
	c, err := pool.Acquire(context.Background(), 9, "token")
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 1, pool.Len())
	assert.Equal(t, 2, dialer.Dials())
}

func TestRelease_OtherAccountBuildUnaffected(t *testing.T) {
	dialer := &telegramtest.Dialer{Gate: make(chan struct{})}
	pool := newTestPool(t, dialer)

	errc := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), 9, "token")
		errc <- err
	}()

	require.Eventually(t, func() bool { return dialer.Dials() == 1 }, time.Second, time.Millisecond)
	pool.Release(10)
	close(dialer.Gate)

	require.NoError(t, <-errc)
	assert.Equal(t, 1, pool.Len())
}

func TestClose_DuringBuildDiscardsClient(t *testing.T) {
	dialer := &telegramtest.Dialer{Gate: make(chan struct{})}
	pool := newTestPool(t, dialer)

	errc := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), 9, "token")
		errc <- err
	}()

	require.Eventually(t, func() bool { return dialer.Dials() == 1 }, time.Second, time.Millisecond)
	pool.Close()
	close(dialer.Gate)

	assert.ErrorIs(t, <-errc, domain.ErrNotConnected)
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, 1, dialer.Clients()[0].Closes())
}

func TestFactory_DuplicateKeyWaitsLinearly(t *testing.T) {
	dup := domain.E(domain.KindDuplicateKey, "connect", nil)
	dialer := &telegramtest.Dialer{Errs: []error{dup, dup}}
	rec := &sleepRecorder{}
	factory := NewFactory(dialer, testPolicy(rec), zaptest.NewLogger(t))

	c, err := factory.Create(context.Background(), 42, "token")
	require.NoError(t, err)
	assert.NotNil(t, c)

	assert.Equal(t, 3, dialer.Dials())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.waits)
}

func TestFactory_OtherErrorsRetryImmediately(t *testing.T) {
	boom := errors.New("connection reset")
	dialer := &telegramtest.Dialer{Errs: []error{boom}}
	rec := &sleepRecorder{}
	factory := NewFactory(dialer, testPolicy(rec), zaptest.NewLogger(t))

	_, err := factory.Create(context.Background(), 42, "token")
	require.NoError(t, err)

	assert.Equal(t, 2, dialer.Dials())
	assert.Empty(t, rec.waits)
}

func TestFactory_ExhaustedIsConnectionError(t *testing.T) {
	dup := domain.E(domain.KindDuplicateKey, "connect", nil)
	dialer := &telegramtest.Dialer{Errs: []error{dup, dup, dup}}
	rec := &sleepRecorder{}
	factory := NewFactory(dialer, testPolicy(rec), zaptest.NewLogger(t))

	_, err := factory.Create(context.Background(), 42, "token")
	require.Error(t, err)

	assert.Equal(t, domain.KindConnection, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, dialer.Dials())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.waits)
}
