package policy

import (
	"sync/atomic"

	"github.com/tbruckner/privd/internal/privd/types"
)

// Snapshot holds the current policy as an immutable value published
// atomically. Readers never observe a partially-updated config; writers
// replace the whole document.
type Snapshot struct {
	cur     atomic.Pointer[types.PolicyConfig]
	version atomic.Uint64
}

// NewSnapshot publishes cfg as version 1.
func NewSnapshot(cfg types.PolicyConfig) *Snapshot {
	s := &Snapshot{}
	s.Store(cfg)
	return s
}

// Load returns the current policy. Lock-free.
func (s *Snapshot) Load() types.PolicyConfig {
	return *s.cur.Load()
}

// Store publishes cfg wholesale and returns the new version number.
// The caller must have normalized cfg first.
func (s *Snapshot) Store(cfg types.PolicyConfig) uint64 {
	c := cfg // private copy; the pointer must never alias caller memory
	s.cur.Store(&c)
	return s.version.Add(1)
}

// Version returns the number of publishes so far.
func (s *Snapshot) Version() uint64 {
	return s.version.Load()
}
