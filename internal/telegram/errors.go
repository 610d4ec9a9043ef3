package telegram

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"

	"github.com/danhigham/tgscope/internal/domain"
)

const errAuthKeyDuplicated = "AUTH_KEY_DUPLICATED"

// classify turns an RPC failure into a domain error. This is the only place
// that looks at Telegram error codes.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, op)
	case tgerr.Is(err, errAuthKeyDuplicated):
		return domain.E(domain.KindDuplicateKey, op, err)
	default:
		return domain.E(domain.KindProtocol, op, err)
	}
}
