package service_test

import (
	"testing"
	"time"

	"github.com/tbruckner/privd/internal/privd/service"
)

func TestScheduler_FiresAtExpiry(t *testing.T) {
	fired := make(chan string, 1)
	s := service.NewScheduler(func(user string) { fired <- user })
	defer s.Stop()

	s.Arm("alice", time.Now().Add(20*time.Millisecond))

	select {
	case user := <-fired:
		if user != "alice" {
			t.Errorf("expected callback for alice, got %q", user)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	if s.Armed("alice") {
		t.Error("expected timer to be disarmed after firing")
	}
}

func TestScheduler_PastExpiryFiresImmediately(t *testing.T) {
	fired := make(chan string, 1)
	s := service.NewScheduler(func(user string) { fired <- user })
	defer s.Stop()

	s.Arm("alice", time.Now().Add(-time.Hour))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("past expiry should fire immediately")
	}
}

func TestScheduler_CancelPreventsFiring(t *testing.T) {
	fired := make(chan string, 1)
	s := service.NewScheduler(func(user string) { fired <- user })
	defer s.Stop()

	s.Arm("alice", time.Now().Add(30*time.Millisecond))
	s.Cancel("alice")

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
	if s.Armed("alice") {
		t.Error("expected no armed timer after cancel")
	}
}

func TestScheduler_CancelWithoutTimerIsSafe(t *testing.T) {
	s := service.NewScheduler(func(string) {})
	defer s.Stop()
	s.Cancel("nobody")
}

func TestScheduler_RearmReplacesTimer(t *testing.T) {
	fired := make(chan string, 2)
	s := service.NewScheduler(func(user string) { fired <- user })
	defer s.Stop()

	// The far timer is replaced by the near one; exactly one firing.
	s.Arm("alice", time.Now().Add(time.Hour))
	s.Arm("alice", time.Now().Add(20*time.Millisecond))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("rearmed timer never fired")
	}

	select {
	case <-fired:
		t.Fatal("replaced timer fired too")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_StopCancelsAll(t *testing.T) {
	fired := make(chan string, 2)
	s := service.NewScheduler(func(user string) { fired <- user })

	s.Arm("alice", time.Now().Add(30*time.Millisecond))
	s.Arm("bob", time.Now().Add(30*time.Millisecond))
	s.Stop()

	select {
	case user := <-fired:
		t.Fatalf("timer for %q fired after Stop", user)
	case <-time.After(150 * time.Millisecond):
	}
}
