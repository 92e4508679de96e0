package service

import (
	"sync"
	"time"
)

// Scheduler maintains one armed expiration timer per user. Timers are
// monotonic (time.AfterFunc), so wall-clock adjustments cannot stretch or
// shrink a grant. Firing calls back with the user's name only; the grant
// state machine re-checks the grant under its per-user lock, so a callback
// for an already-revoked grant is a no-op.
type Scheduler struct {
	onExpire func(user string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler(onExpire func(user string)) *Scheduler {
	return &Scheduler{
		onExpire: onExpire,
		timers:   make(map[string]*time.Timer),
	}
}

// Arm schedules expiry for user at the given time, replacing any existing
// timer (rearming on config clamp goes through here too). Times already
// past fire immediately.
func (s *Scheduler) Arm(user string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[user]; ok {
		t.Stop()
	}

	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.timers[user] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, user)
		s.mu.Unlock()
		s.onExpire(user)
	})
}

// Cancel drops the user's timer if one is armed. Safe to call when none is.
func (s *Scheduler) Cancel(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[user]; ok {
		t.Stop()
		delete(s.timers, user)
	}
}

// Stop cancels every armed timer. Called on daemon shutdown; persisted
// grants re-arm on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for user, t := range s.timers {
		t.Stop()
		delete(s.timers, user)
	}
}

// Armed reports whether a timer is currently armed for user.
func (s *Scheduler) Armed(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[user]
	return ok
}
