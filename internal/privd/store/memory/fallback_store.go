package memory

import (
	"context"
	"sync"

	"github.com/tbruckner/privd/internal/privd/store"
)

// FallbackStore is an in-memory append-only log of undeliverable audit
// records. It is intended for use in tests and dev environments.
type FallbackStore struct {
	mu      sync.Mutex
	records []store.FallbackRecord
}

func NewFallbackStore() *FallbackStore {
	return &FallbackStore{}
}

func (s *FallbackStore) SaveFallback(_ context.Context, rec store.FallbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of all saved records. Test-only helper.
func (s *FallbackStore) Records() []store.FallbackRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.FallbackRecord, len(s.records))
	copy(out, s.records)
	return out
}
