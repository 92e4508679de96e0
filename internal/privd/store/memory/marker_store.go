package memory

import (
	"context"
	"sync"
	"time"
)

// MarkerStore is an in-memory revoke-at-login marker table for tests.
type MarkerStore struct {
	mu      sync.Mutex
	markers map[string]time.Time
}

func NewMarkerStore() *MarkerStore {
	return &MarkerStore{markers: make(map[string]time.Time)}
}

func (s *MarkerStore) SetLoginRevoke(_ context.Context, user string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[user] = at
	return nil
}

func (s *MarkerStore) ConsumeLoginRevoke(_ context.Context, user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.markers[user]
	delete(s.markers, user)
	return ok, nil
}

func (s *MarkerStore) ClearLoginRevoke(_ context.Context, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, user)
	return nil
}

// Has reports whether a marker exists for user. Test-only helper.
func (s *MarkerStore) Has(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.markers[user]
	return ok
}
