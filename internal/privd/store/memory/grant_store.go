package memory

import (
	"context"
	"sync"

	"github.com/tbruckner/privd/internal/privd/store"
	"github.com/tbruckner/privd/internal/privd/types"
)

// GrantStore is an in-memory active-grants table for tests and dev runs.
type GrantStore struct {
	mu     sync.Mutex
	grants map[string]types.Grant
}

func NewGrantStore() *GrantStore {
	return &GrantStore{grants: make(map[string]types.Grant)}
}

func (s *GrantStore) Put(_ context.Context, g types.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.User] = g
	return nil
}

func (s *GrantStore) Get(_ context.Context, user string) (types.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[user]
	if !ok {
		return types.Grant{}, store.ErrNotFound
	}
	return g, nil
}

func (s *GrantStore) Delete(_ context.Context, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, user)
	return nil
}

func (s *GrantStore) ListActive(_ context.Context) ([]types.Grant, []store.CorruptGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g)
	}
	return out, nil, nil
}
