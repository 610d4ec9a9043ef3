package telegram

import (
	"context"
	"errors"

	"github.com/danhigham/tgscope/internal/domain"
)

// ErrPasswordNeeded is returned by SignIn when the account has two-step
// verification enabled and CheckPassword must follow.
var ErrPasswordNeeded = errors.New("session password needed")

type PeerKind int

const (
	PeerUser PeerKind = iota
	PeerGroup
	PeerChannel
)

// Dialog is one entry of the account's dialog list.
type Dialog struct {
	ID       int64 // marked peer id, see MarkChatID and MarkChannelID
	Title    string
	Kind     PeerKind
	HasPhoto bool
}

// HistoryPage is one backward page of a conversation's history, newest
// first. Fetched counts every item the server returned, including service
// messages that carry no text.
type HistoryPage struct {
	Messages []domain.Message
	Fetched  int
	OldestID int
}

// Client is a live connection to Telegram for one session.
type Client interface {
	// Alive reports whether the connection is still running. It never
	// touches the network.
	Alive() bool
	Close() error
	SessionToken() (domain.SessionToken, error)

	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, code, codeHash string) (domain.Account, error)
	CheckPassword(ctx context.Context, password string) (domain.Account, error)

	GetDialogs(ctx context.Context, limit int) ([]Dialog, error)
	DownloadAvatar(ctx context.Context, chatID int64) ([]byte, error)
	GetHistory(ctx context.Context, chatID int64, offsetID, limit int) (HistoryPage, error)
}

// Dialer opens a Client from a session token. An empty token starts a fresh
// session. A failed Dial leaves nothing running.
type Dialer interface {
	Dial(ctx context.Context, token domain.SessionToken) (Client, error)
}
