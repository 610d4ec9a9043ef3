package telegram

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"

	"github.com/danhigham/tgscope/internal/domain"
)

// tokenStorage is an in-memory session.Storage seeded from, and serialized
// back to, a SessionToken.
type tokenStorage struct {
	mu   sync.Mutex
	data []byte
}

func newTokenStorage(tok domain.SessionToken) (*tokenStorage, error) {
	s := &tokenStorage{}
	if tok == "" {
		return s, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(string(tok))
	if err != nil {
		return nil, errors.Wrap(err, "decode session token")
	}
	s.data = data
	return s, nil
}

func (s *tokenStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *tokenStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data[:0], data...)
	return nil
}

func (s *tokenStorage) Token() (domain.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return "", errors.New("session not initialized")
	}
	return domain.SessionToken(base64.RawURLEncoding.EncodeToString(s.data)), nil
}
