// Package connpool keeps at most one live Telegram connection per account.
package connpool

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/telegram"
)

// Creator builds a new connection for an account.
type Creator interface {
	Create(ctx context.Context, accountID int64, token domain.SessionToken) (telegram.Client, error)
}

// Pool is the process-wide registry of live connections keyed by account id.
// All methods are safe for concurrent use.
type Pool struct {
	factory Creator
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[int64]telegram.Client
	// gens and epoch advance on Release and Close. A build only lands if
	// neither moved while it was dialing.
	gens    map[int64]uint64
	epoch   uint64
	flights singleflight.Group
}

type generation struct {
	account uint64
	epoch   uint64
}

func New(factory Creator, logger *zap.Logger) *Pool {
	return &Pool{
		factory: factory,
		logger:  logger,
		clients: make(map[int64]telegram.Client),
		gens:    make(map[int64]uint64),
	}
}

// Acquire returns the pooled connection for accountID, building one when
// none is live. Concurrent callers for the same account share one build.
func (p *Pool) Acquire(ctx context.Context, accountID int64, token domain.SessionToken) (telegram.Client, error) {
	if c, ok := p.Get(accountID); ok {
		p.logger.Debug("Reusing existing client", zap.Int64("account_id", accountID))
		return c, nil
	}

	// The build outlives a caller that gives up; others may be waiting on it.
	buildCtx := context.WithoutCancel(ctx)
	ch := p.flights.DoChan(strconv.FormatInt(accountID, 10), func() (any, error) {
		if c, ok := p.Get(accountID); ok {
			return c, nil
		}
		gen := p.generation(accountID)
		p.logger.Info("Creating new client", zap.Int64("account_id", accountID))
		c, err := p.factory.Create(buildCtx, accountID, token)
		if err != nil {
			return nil, err
		}
		if !p.insert(accountID, gen, c) {
			p.logger.Info("Discarding client released during connect", zap.Int64("account_id", accountID))
			_ = c.Close()
			return nil, domain.E(domain.KindNotConnected, "connpool.Acquire", errReleased)
		}
		return c, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(telegram.Client), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var errReleased = errors.New("released while connecting")

func (p *Pool) generation(accountID int64) generation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return generation{account: p.gens[accountID], epoch: p.epoch}
}

// insert stores c unless the account was released since gen was taken.
func (p *Pool) insert(accountID int64, gen generation, c telegram.Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gens[accountID] != gen.account || p.epoch != gen.epoch {
		return false
	}
	p.clients[accountID] = c
	return true
}

// Get returns the live pooled connection for accountID without any network
// activity. A dead entry is evicted and closed.
func (p *Pool) Get(accountID int64) (telegram.Client, bool) {
	p.mu.Lock()
	c, ok := p.clients[accountID]
	if ok && !c.Alive() {
		delete(p.clients, accountID)
		p.mu.Unlock()
		p.logger.Info("Evicting dead client", zap.Int64("account_id", accountID))
		_ = c.Close()
		return nil, false
	}
	p.mu.Unlock()
	return c, ok
}

// Release disconnects and forgets the connection for accountID. A build
// already in progress for the account is discarded when it finishes.
func (p *Pool) Release(accountID int64) {
	p.mu.Lock()
	c, ok := p.clients[accountID]
	delete(p.clients, accountID)
	p.gens[accountID]++
	p.mu.Unlock()

	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		p.logger.Warn("Error disconnecting client", zap.Int64("account_id", accountID), zap.Error(err))
	}
	p.logger.Info("Client released", zap.Int64("account_id", accountID))
}

// Close releases every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[int64]telegram.Client)
	p.epoch++
	p.mu.Unlock()

	for id, c := range clients {
		if err := c.Close(); err != nil {
			p.logger.Warn("Error disconnecting client", zap.Int64("account_id", id), zap.Error(err))
		}
	}
}

// Len returns the number of pooled connections, live or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
