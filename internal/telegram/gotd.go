package telegram

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"

	"github.com/danhigham/tgscope/internal/config"
	"github.com/danhigham/tgscope/internal/domain"
)

// GotdDialer implements Dialer using gotd/td.
type GotdDialer struct {
	apiID   int
	apiHash string
	timeout time.Duration
	logger  *zap.Logger
}

func NewGotdDialer(cfg config.TelegramConfig, logger *zap.Logger) *GotdDialer {
	return &GotdDialer{
		apiID:   cfg.APIID,
		apiHash: cfg.APIHash,
		timeout: cfg.ConnectTimeout,
		logger:  logger,
	}
}

// Dial starts a gotd client in the background and waits up to the connect
// timeout for it to become ready.
func (d *GotdDialer) Dial(ctx context.Context, token domain.SessionToken) (Client, error) {
	storage, err := newTokenStorage(token)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &GotdClient{
		storage: storage,
		logger:  d.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
		peers:   make(map[int64]peerRef),
	}
	c.client = telegram.NewClient(d.apiID, d.apiHash, telegram.Options{
		Logger:         d.logger.Named("gotd"),
		SessionStorage: storage,
		NoUpdates:      true,
		ReconnectionBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			// Give up eventually so a dead connection shows as not alive.
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	})

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.runErr = c.client.Run(runCtx, func(ctx context.Context) error {
			c.api = c.client.API()
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	timeout := d.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		d.logger.Debug("Telegram client connected")
		return c, nil
	case <-c.done:
		cancel()
		if c.runErr == nil {
			return nil, domain.E(domain.KindConnection, "connect", errors.New("client stopped before ready"))
		}
		return nil, classify("connect", c.runErr)
	case <-ctx.Done():
		_ = c.Close()
		return nil, errors.Wrap(ctx.Err(), "connect")
	case <-timer.C:
		_ = c.Close()
		return nil, domain.E(domain.KindConnection, "connect", errors.Errorf("not ready after %s", timeout))
	}
}

type peerRef struct {
	peer    tg.InputPeerClass
	photoID int64
}

// GotdClient implements Client using gotd/td.
type GotdClient struct {
	client  *telegram.Client
	api     *tg.Client
	storage *tokenStorage
	logger  *zap.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	closeOnce sync.Once

	peers map[int64]peerRef
	mu    sync.Mutex
}

func (c *GotdClient) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close stops the client and waits for the connection to shut down.
func (c *GotdClient) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

func (c *GotdClient) SessionToken() (domain.SessionToken, error) {
	return c.storage.Token()
}

func (c *GotdClient) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", classify("send code", err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", domain.E(domain.KindProtocol, "send code", errors.Errorf("unexpected sent code type %T", sent))
	}
	return code.PhoneCodeHash, nil
}

func (c *GotdClient) SignIn(ctx context.Context, phone, code, codeHash string) (domain.Account, error) {
	a, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return domain.Account{}, ErrPasswordNeeded
	}
	if err != nil {
		return domain.Account{}, classify("sign in", err)
	}
	return accountFromAuthorization(a)
}

// CheckPassword fetches the account's SRP parameters, computes the password
// proof and submits it.
func (c *GotdClient) CheckPassword(ctx context.Context, password string) (domain.Account, error) {
	a, err := c.client.Auth().Password(ctx, password)
	if err != nil {
		return domain.Account{}, classify("check password", err)
	}
	return accountFromAuthorization(a)
}

// GetDialogs returns up to limit most recent dialogs.
func (c *GotdClient) GetDialogs(ctx context.Context, limit int) ([]Dialog, error) {
	iter := dialogs.NewQueryBuilder(c.api).GetDialogs().BatchSize(limit).Iter()

	var result []Dialog
	for len(result) < limit && iter.Next(ctx) {
		if d, ok := c.rememberDialog(iter.Value()); ok {
			result = append(result, d)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, classify("get dialogs", err)
	}
	return result, nil
}

// DownloadAvatar fetches the small profile photo of a group or channel seen
// in an earlier GetDialogs call.
func (c *GotdClient) DownloadAvatar(ctx context.Context, chatID int64) ([]byte, error) {
	ref, ok := c.findPeer(chatID)
	if !ok || ref.photoID == 0 {
		return nil, domain.E(domain.KindNotFound, "download avatar", errors.Errorf("no photo for peer %d", chatID))
	}

	loc := &tg.InputPeerPhotoFileLocation{
		Peer:    ref.peer,
		PhotoID: ref.photoID,
	}
	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(c.api, loc).Stream(ctx, &buf); err != nil {
		return nil, classify("download avatar", err)
	}
	return buf.Bytes(), nil
}

// GetHistory fetches one page of messages older than offsetID (0 for the
// newest page).
func (c *GotdClient) GetHistory(ctx context.Context, chatID int64, offsetID, limit int) (HistoryPage, error) {
	peer, err := c.resolvePeer(ctx, chatID)
	if err != nil {
		return HistoryPage{}, err
	}

	result, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		Limit:    limit,
		OffsetID: offsetID,
	})
	if err != nil {
		return HistoryPage{}, classify("get history", err)
	}

	return convertHistoryResult(result)
}

// resolvePeer looks up the input peer for a marked id, walking the full
// dialog list when it is not cached yet.
func (c *GotdClient) resolvePeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	if ref, ok := c.findPeer(chatID); ok {
		return ref.peer, nil
	}

	iter := dialogs.NewQueryBuilder(c.api).GetDialogs().BatchSize(100).Iter()
	for iter.Next(ctx) {
		if d, ok := c.rememberDialog(iter.Value()); ok && d.ID == chatID {
			ref, _ := c.findPeer(chatID)
			return ref.peer, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, classify("resolve peer", err)
	}
	return nil, domain.E(domain.KindNotFound, "resolve peer", errors.Errorf("unknown peer: %d", chatID))
}

// rememberDialog converts a dialog element and caches its peer.
func (c *GotdClient) rememberDialog(elem dialogs.Elem) (Dialog, bool) {
	var (
		d   Dialog
		ref = peerRef{peer: elem.Peer}
	)

	switch p := elem.Peer.(type) {
	case *tg.InputPeerUser:
		d = Dialog{ID: p.UserID, Kind: PeerUser, Title: "Unknown"}
		if u, ok := elem.Entities.User(p.UserID); ok {
			d.Title = formatUserName(u)
		}
	case *tg.InputPeerChat:
		d = Dialog{ID: MarkChatID(p.ChatID), Kind: PeerGroup, Title: "Unknown"}
		if ch, ok := elem.Entities.Chat(p.ChatID); ok {
			d.Title = ch.Title
			if photo, ok := ch.Photo.(*tg.ChatPhoto); ok {
				ref.photoID = photo.PhotoID
			}
		}
	case *tg.InputPeerChannel:
		d = Dialog{ID: MarkChannelID(p.ChannelID), Kind: PeerChannel, Title: "Unknown"}
		if ch, ok := elem.Entities.Channel(p.ChannelID); ok {
			d.Title = ch.Title
			if ch.Megagroup {
				d.Kind = PeerGroup
			}
			if photo, ok := ch.Photo.(*tg.ChatPhoto); ok {
				ref.photoID = photo.PhotoID
			}
		}
	default:
		return Dialog{}, false
	}

	d.HasPhoto = ref.photoID != 0
	c.cachePeer(d.ID, ref)
	return d, true
}

func (c *GotdClient) findPeer(chatID int64) (peerRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.peers[chatID]
	return ref, ok
}

func (c *GotdClient) cachePeer(chatID int64, ref peerRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[chatID] = ref
}

func accountFromAuthorization(a *tg.AuthAuthorization) (domain.Account, error) {
	u, ok := a.User.(*tg.User)
	if !ok {
		return domain.Account{}, domain.E(domain.KindProtocol, "authorization", errors.Errorf("unexpected user type %T", a.User))
	}
	return domain.Account{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}, nil
}

// convertHistoryResult extracts one page from a MessagesMessagesClass
// response, keeping the server's newest-first order.
func convertHistoryResult(result tg.MessagesMessagesClass) (HistoryPage, error) {
	var (
		messages []tg.MessageClass
		users    []tg.UserClass
	)

	switch r := result.(type) {
	case *tg.MessagesMessages:
		messages = r.Messages
		users = r.Users
	case *tg.MessagesMessagesSlice:
		messages = r.Messages
		users = r.Users
	case *tg.MessagesChannelMessages:
		messages = r.Messages
		users = r.Users
	default:
		return HistoryPage{}, domain.E(domain.KindProtocol, "get history", errors.Errorf("unexpected messages type: %T", result))
	}

	page := HistoryPage{Fetched: len(messages)}
	if len(messages) == 0 {
		return page, nil
	}
	page.OldestID = messages[len(messages)-1].GetID()

	userMap := usersToMap(users)
	for _, m := range messages {
		switch msg := m.(type) {
		case *tg.Message:
			page.Messages = append(page.Messages, convertMessage(msg, userMap))
		case *tg.MessageService:
			page.Messages = append(page.Messages, domain.Message{
				ID:        msg.ID,
				Timestamp: time.Unix(int64(msg.Date), 0),
			})
		}
	}
	return page, nil
}

// convertMessage converts a tg.Message to a domain.Message.
func convertMessage(msg *tg.Message, users map[int64]*tg.User) domain.Message {
	out := domain.Message{
		ID:        msg.ID,
		Text:      msg.Message,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	switch p := msg.FromID.(type) {
	case *tg.PeerUser:
		out.AuthorID = p.UserID
		out.AuthorName = "Unknown"
		if u, ok := users[p.UserID]; ok {
			out.AuthorName = formatUserName(u)
		}
	case *tg.PeerChannel:
		out.AuthorID = MarkChannelID(p.ChannelID)
	case *tg.PeerChat:
		out.AuthorID = MarkChatID(p.ChatID)
	}
	return out
}

// formatUserName returns a display name for a user.
func formatUserName(u *tg.User) string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return "Unknown"
}

// usersToMap converts a UserClass slice to a map of User by ID.
func usersToMap(users []tg.UserClass) map[int64]*tg.User {
	m := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		m[user.ID] = user
	}
	return m
}
