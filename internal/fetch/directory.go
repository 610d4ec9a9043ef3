// Package fetch reads conversations and message history through pooled
// connections.
package fetch

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danhigham/tgscope/internal/domain"
	"github.com/danhigham/tgscope/internal/telegram"
)

const (
	DialogLimit = 100

	avatarWorkers = 8
	avatarPrefix  = "data:image/jpeg;base64,"
)

// Connections looks up a live pooled connection without dialing.
type Connections interface {
	Get(accountID int64) (telegram.Client, bool)
}

// Directory lists an account's groups and channels.
type Directory struct {
	conns  Connections
	logger *zap.Logger
}

func NewDirectory(conns Connections, logger *zap.Logger) *Directory {
	return &Directory{conns: conns, logger: logger}
}

// Conversations returns the groups and channels among the account's 100 most
// recent dialogs. A failed avatar download leaves that entry without one.
func (d *Directory) Conversations(ctx context.Context, accountID int64) ([]domain.Conversation, error) {
	client, ok := d.conns.Get(accountID)
	if !ok {
		return nil, domain.E(domain.KindNotConnected, "fetch.Conversations", nil)
	}

	dialogs, err := client.GetDialogs(ctx, DialogLimit)
	if err != nil {
		return nil, err
	}

	convs := make([]domain.Conversation, 0, len(dialogs))
	var withPhoto []int
	for _, dlg := range dialogs {
		var kind domain.ConversationKind
		switch dlg.Kind {
		case telegram.PeerGroup:
			kind = domain.KindGroup
		case telegram.PeerChannel:
			kind = domain.KindChannel
		default:
			continue
		}
		title := dlg.Title
		if title == "" {
			title = "Unknown"
		}
		if dlg.HasPhoto {
			withPhoto = append(withPhoto, len(convs))
		}
		convs = append(convs, domain.Conversation{ID: dlg.ID, Title: title, Kind: kind})
	}

	var g errgroup.Group
	g.SetLimit(avatarWorkers)
	for _, i := range withPhoto {
		g.Go(func() error {
			data, err := client.DownloadAvatar(ctx, convs[i].ID)
			if err != nil {
				d.logger.Warn("Failed to download avatar",
					zap.Int64("chat_id", convs[i].ID),
					zap.Error(err))
				return nil
			}
			if len(data) > 0 {
				convs[i].Avatar = avatarPrefix + base64.StdEncoding.EncodeToString(data)
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Debug("Listed conversations",
		zap.Int64("account_id", accountID),
		zap.Int("dialogs", len(dialogs)),
		zap.Int("conversations", len(convs)))
	return convs, nil
}
