// Package telegramtest provides in-memory fakes of the telegram package
// interfaces for tests.
package telegramtest

import (
	"context"
	"sync"

	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/telegram"
)

// HistoryCall records the arguments of one GetHistory call.
type HistoryCall struct {
	ChatID   int64
	OffsetID int
	Limit    int
}

// Client is a scripted telegram.Client. Set the exported fields before
// handing it out; they are read under the client's lock.
type Client struct {
	mu sync.Mutex

	Token    domain.SessionToken
	Dead     bool
	CloseErr error

	CodeHash        string
	SendCodeErr     error
	SignInAccount   domain.Account
	SignInErr       error
	PasswordAccount domain.Account
	PasswordErr     error

	Dialogs    []telegram.Dialog
	DialogsErr error
	Avatars    map[int64][]byte
	AvatarErrs map[int64]error

	// History is the whole conversation, newest first.
	History    []domain.Message
	HistoryErr error

	closes       int
	historyCalls []HistoryCall
}

func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Dead && c.closes == 0
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.CloseErr
}

// Closes reports how many times Close was called.
func (c *Client) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Kill marks the connection as dropped.
func (c *Client) Kill() {
	c.mu.Lock()
	c.Dead = true
	c.mu.Unlock()
}

func (c *Client) SessionToken() (domain.SessionToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Token == "" {
		return "", domain.E(domain.KindProtocol, "telegramtest.SessionToken", nil)
	}
	return c.Token, nil
}

func (c *Client) SendCode(ctx context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendCodeErr != nil {
		return "", c.SendCodeErr
	}
	return c.CodeHash, nil
}

func (c *Client) SignIn(ctx context.Context, phone, code, codeHash string) (domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SignInErr != nil {
		return domain.Account{}, c.SignInErr
	}
	return c.SignInAccount, nil
}

func (c *Client) CheckPassword(ctx context.Context, password string) (domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PasswordErr != nil {
		return domain.Account{}, c.PasswordErr
	}
	return c.PasswordAccount, nil
}

func (c *Client) GetDialogs(ctx context.Context, limit int) ([]telegram.Dialog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DialogsErr != nil {
		return nil, c.DialogsErr
	}
	if limit > 0 && len(c.Dialogs) > limit {
		return append([]telegram.Dialog(nil), c.Dialogs[:limit]...), nil
	}
	return append([]telegram.Dialog(nil), c.Dialogs...), nil
}

func (c *Client) DownloadAvatar(ctx context.Context, chatID int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.AvatarErrs[chatID]; err != nil {
		return nil, err
	}
	return c.Avatars[chatID], nil
}

// GetHistory serves History in pages: messages with an id below offsetID
// (all of them when offsetID is 0), at most limit per call.
func (c *Client) GetHistory(ctx context.Context, chatID int64, offsetID, limit int) (telegram.HistoryPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.historyCalls = append(c.historyCalls, HistoryCall{ChatID: chatID, OffsetID: offsetID, Limit: limit})
	if c.HistoryErr != nil {
		return telegram.HistoryPage{}, c.HistoryErr
	}

	var page telegram.HistoryPage
	for _, m := range c.History {
		if offsetID != 0 && m.ID >= offsetID {
			continue
		}
		if len(page.Messages) == limit {
			break
		}
		page.Messages = append(page.Messages, m)
	}
	page.Fetched = len(page.Messages)
	if page.Fetched > 0 {
		page.OldestID = page.Messages[page.Fetched-1].ID
	}
	return page, nil
}

// HistoryCalls returns the GetHistory calls made so far.
func (c *Client) HistoryCalls() []HistoryCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]HistoryCall(nil), c.historyCalls...)
}

// Dialer is a scripted telegram.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Errs[n] is returned by the n-th Dial (0-based) when non-nil.
	Errs []error
	// New builds the client for a successful Dial. Defaults to a Client
	// carrying the dialed token, or "fresh-session" for an empty one.
	New func(token domain.SessionToken) *Client
	// Gate, when set, blocks every Dial until it is closed.
	Gate chan struct{}

	tokens  []domain.SessionToken
	clients []*Client
}

func (d *Dialer) Dial(ctx context.Context, token domain.SessionToken) (telegram.Client, error) {
	d.mu.Lock()
	n := len(d.tokens)
	d.tokens = append(d.tokens, token)
	var err error
	if n < len(d.Errs) {
		err = d.Errs[n]
	}
	gate := d.Gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	var c *Client
	if d.New != nil {
		c = d.New(token)
	} else {
		c = &Client{Token: token}
		if token == "" {
			c.Token = "fresh-session"
		}
	}

	d.mu.Lock()
	d.clients = append(d.clients, c)
	d.mu.Unlock()
	return c, nil
}

// Dials returns the number of Dial calls so far.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

// Tokens returns the token passed to each Dial call.
func (d *Dialer) Tokens() []domain.SessionToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.SessionToken(nil), d.tokens...)
}

// Clients returns the clients handed out so far.
func (d *Dialer) Clients() []*Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Client(nil), d.clients...)
}
