package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danhigham/tgscope/internal/domain"
)

const PageSize = 100

// History reads a conversation's messages inside a time window.
type History struct {
	conns  Connections
	logger *zap.Logger
}

func NewHistory(conns Connections, logger *zap.Logger) *History {
	return &History{conns: conns, logger: logger}
}

// Messages pages backward from the newest message and returns, newest
// first, every message with text whose timestamp lies in [from, to]. Paging
// stops at the first message older than from or at a short page.
func (h *History) Messages(ctx context.Context, accountID, chatID int64, from, to time.Time) ([]domain.Message, error) {
	client, ok := h.conns.Get(accountID)
	if !ok {
		return nil, domain.E(domain.KindNotConnected, "fetch.Messages", nil)
	}

	var (
		out      []domain.Message
		offsetID int
		pages    int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := client.GetHistory(ctx, chatID, offsetID, PageSize)
		if err != nil {
			return nil, err
		}
		pages++
		if page.Fetched == 0 {
			break
		}

		done := false
		for _, m := range page.Messages {
			if m.Timestamp.Before(from) {
				done = true
				break
			}
			if !m.Timestamp.After(to) && m.Text != "" {
				out = append(out, m)
			}
		}
		if done || page.Fetched < PageSize {
			break
		}
		offsetID = page.OldestID
	}

	h.logger.Debug("Fetched history",
		zap.Int64("account_id", accountID),
		zap.Int64("chat_id", chatID),
		zap.Int("pages", pages),
		zap.Int("messages", len(out)))
	return out, nil
}
