package audit_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/tbruckner/privd/internal/privd/audit"
	"github.com/tbruckner/privd/internal/privd/store/memory"
	"github.com/tbruckner/privd/internal/privd/types"
)

// fakeSink collects delivered records. failures makes the first N
// deliveries fail; failAll makes every delivery fail.
type fakeSink struct {
	name     string
	failures int
	failAll  bool
	delay    time.Duration

	mu   sync.Mutex
	recs []audit.Record
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Deliver(_ context.Context, rec audit.Record) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("injected delivery failure")
	}
	if s.failures > 0 {
		s.failures--
		return errors.New("injected delivery failure")
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *fakeSink) records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Record, len(s.recs))
	copy(out, s.recs)
	return out
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func testDispatcherConfig() audit.DispatcherConfig {
	return audit.DispatcherConfig{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &fakeSink{name: "test"}
	fb := memory.NewFallbackStore()
	d := audit.NewDispatcher(testLogger(), fb, testDispatcherConfig(), sink)

	now := time.Now()
	for i := 0; i < 5; i++ {
		d.Emit(audit.NewRecord(types.EventGranted, "alice", now.Add(time.Duration(i)*time.Second), "", ""))
	}
	d.Close()

	recs := sink.records()
	if len(recs) != 5 {
		t.Fatalf("expected 5 delivered records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp.Before(recs[i-1].Timestamp) {
			t.Errorf("records delivered out of order at index %d", i)
		}
	}
	if len(fb.Records()) != 0 {
		t.Errorf("expected empty fallback, got %d records", len(fb.Records()))
	}
}

func TestDispatcher_RetryEventuallyDelivers(t *testing.T) {
	sink := &fakeSink{name: "flaky", failures: 2}
	fb := memory.NewFallbackStore()
	d := audit.NewDispatcher(testLogger(), fb, testDispatcherConfig(), sink)

	d.Emit(audit.NewRecord(types.EventGranted, "alice", time.Now(), "", ""))
	d.Close()

	if got := len(sink.records()); got != 1 {
		t.Errorf("expected delivery after retries, got %d records", got)
	}
	if len(fb.Records()) != 0 {
		t.Errorf("expected empty fallback, got %d records", len(fb.Records()))
	}
}

func TestDispatcher_ExhaustedRetriesLandInFallback(t *testing.T) {
	dead := &fakeSink{name: "dead", failAll: true}
	healthy := &fakeSink{name: "healthy"}
	fb := memory.NewFallbackStore()
	d := audit.NewDispatcher(testLogger(), fb, testDispatcherConfig(), dead, healthy)

	rec := audit.NewRecord(types.EventRevoked, "alice", time.Now(), "manual", "grant_id=g1")
	d.Emit(rec)
	d.Close()

	// The dead sink must not cost the healthy one its copy.
	if got := len(healthy.records()); got != 1 {
		t.Errorf("expected healthy sink to receive the record, got %d", got)
	}

	saved := fb.Records()
	if len(saved) != 1 {
		t.Fatalf("expected 1 fallback record, got %d", len(saved))
	}
	if saved[0].Sink != "dead" {
		t.Errorf("expected fallback attributed to sink dead, got %q", saved[0].Sink)
	}
	if saved[0].RecordID != rec.ID {
		t.Errorf("expected record id %s preserved, got %s", rec.ID, saved[0].RecordID)
	}
	if saved[0].Attempts != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", saved[0].Attempts)
	}
}

func TestDispatcher_EmitDoesNotBlockOnSlowSink(t *testing.T) {
	slow := &fakeSink{name: "slow", delay: 200 * time.Millisecond}
	fb := memory.NewFallbackStore()
	d := audit.NewDispatcher(testLogger(), fb, testDispatcherConfig(), slow)
	defer d.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		d.Emit(audit.NewRecord(types.EventGranted, "alice", time.Now(), "", ""))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Emit blocked for %s on a slow sink", elapsed)
	}
}

func TestDispatcher_EmitAfterCloseGoesToFallback(t *testing.T) {
	fb := memory.NewFallbackStore()
	d := audit.NewDispatcher(testLogger(), fb, testDispatcherConfig())
	d.Close()

	d.Emit(audit.NewRecord(types.EventGranted, "alice", time.Now(), "", ""))

	waitUntil(t, "record to land in fallback", func() bool {
		return len(fb.Records()) == 1
	})
}

func TestDispatcher_ReconfigureSwapsSinks(t *testing.T) {
	old := &fakeSink{name: "old"}
	fb := memory.NewFallbackStore()
	d := audit.NewDispatcher(testLogger(), fb, testDispatcherConfig(), old)

	d.Emit(audit.NewRecord(types.EventGranted, "alice", time.Now(), "", "before swap"))
	waitUntil(t, "first record to drain", func() bool {
		return len(old.records()) == 1
	})

	fresh := &fakeSink{name: "fresh"}
	d.Reconfigure(fresh)
	d.Emit(audit.NewRecord(types.EventGranted, "bob", time.Now(), "", "after swap"))
	d.Close()

	if got := len(old.records()); got != 1 {
		t.Errorf("expected old sink to keep only the pre-swap record, got %d", got)
	}
	recs := fresh.records()
	if len(recs) != 1 {
		t.Fatalf("expected fresh sink to receive the post-swap record, got %d", len(recs))
	}
	if recs[0].User != "bob" {
		t.Errorf("expected post-swap record, got user %q", recs[0].User)
	}
}

func TestSinksFromPolicy(t *testing.T) {
	sinks := audit.SinksFromPolicy(types.PolicyConfig{
		SyslogSinks:  []types.SyslogSinkConfig{{Address: "logs.example.com", Port: 6514}},
		WebhookSinks: []types.WebhookSinkConfig{{Address: "https://hooks.example.com/audit"}},
	})
	if len(sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(sinks))
	}
	if sinks[0].Name() != "syslog:logs.example.com:6514" {
		t.Errorf("unexpected syslog sink name %q", sinks[0].Name())
	}
	if sinks[1].Name() != "webhook:https://hooks.example.com/audit" {
		t.Errorf("unexpected webhook sink name %q", sinks[1].Name())
	}

	if got := audit.SinksFromPolicy(types.PolicyConfig{}); len(got) != 0 {
		t.Errorf("expected no sinks for empty policy, got %d", len(got))
	}
}
