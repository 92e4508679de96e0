package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tbruckner/privd/internal/privd/store"
	"github.com/tbruckner/privd/internal/privd/types"
)

const drainGrace = 10 * time.Second

// DispatcherConfig tunes delivery behavior. Zero values get production
// defaults; tests shrink the backoffs.
type DispatcherConfig struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
	QueueDepth     int
}

func (c *DispatcherConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
}

// Dispatcher fans grant lifecycle records out to the configured sinks.
// Emit never blocks grant processing: each sink has its own single-writer
// queue and worker, so a slow or unreachable endpoint degrades only its
// own delivery. Records that exhaust their retry budget (or find a full
// queue) are written to the fallback store, never discarded.
type Dispatcher struct {
	logger   *log.Logger
	fallback store.FallbackStore
	cfg      DispatcherConfig
	wg       sync.WaitGroup

	mu     sync.RWMutex
	queues []*sinkQueue
	closed bool
}

type sinkQueue struct {
	sink Sink
	ch   chan Record
}

func NewDispatcher(logger *log.Logger, fallback store.FallbackStore, cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		logger:   logger,
		fallback: fallback,
		cfg:      cfg,
	}
	d.Reconfigure(sinks...)
	return d
}

// SinksFromPolicy builds the sink set a policy document describes.
func SinksFromPolicy(cfg types.PolicyConfig) []Sink {
	var sinks []Sink
	for _, sc := range cfg.SyslogSinks {
		sinks = append(sinks, NewSyslogSink(sc))
	}
	for _, wc := range cfg.WebhookSinks {
		sinks = append(sinks, NewWebhookSink(wc))
	}
	return sinks
}

// Emit queues rec for delivery to every sink and returns immediately.
// A sink whose queue is full gets the record via the fallback store
// instead; backpressure must never reach the grant state machine.
func (d *Dispatcher) Emit(rec Record) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		go d.saveFallback("dispatcher-closed", rec, 0)
		return
	}
	for _, q := range d.queues {
		select {
		case q.ch <- rec:
		default:
			d.logger.Printf("audit: sink %s queue full, record %s diverted to fallback", q.sink.Name(), rec.ID)
			go d.saveFallback(q.sink.Name(), rec, 0)
		}
	}
}

// Reconfigure swaps the sink set for a new policy. Old queues finish
// draining in the background; records emitted after the swap go only to
// the new sinks.
func (d *Dispatcher) Reconfigure(sinks ...Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	for _, q := range d.queues {
		close(q.ch)
	}
	d.queues = nil
	for _, s := range sinks {
		q := &sinkQueue{sink: s, ch: make(chan Record, d.cfg.QueueDepth)}
		d.queues = append(d.queues, q)
		d.wg.Add(1)
		go d.run(q)
	}
}

// Close stops accepting new records and waits for in-flight queues to
// drain, up to a grace period.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q.ch)
	}
	d.queues = nil
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGrace):
		d.logger.Printf("audit: drain grace period elapsed, abandoning queued deliveries")
	}
}

func (d *Dispatcher) run(q *sinkQueue) {
	defer d.wg.Done()

	for rec := range q.ch {
		d.deliver(q.sink, rec)
	}
	if c, ok := q.sink.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

// deliver attempts one record against one sink with exponential backoff.
// After maxAttempts failures the record goes to the fallback store.
func (d *Dispatcher) deliver(s Sink, rec Record) {
	backoff := d.cfg.BackoffBase
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.AttemptTimeout)
		err := s.Deliver(ctx, rec)
		cancel()
		if err == nil {
			return
		}

		d.logger.Printf("audit: sink %s attempt %d/%d for record %s failed: %v",
			s.Name(), attempt, d.cfg.MaxAttempts, rec.ID, err)

		if attempt < d.cfg.MaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > d.cfg.BackoffCap {
				backoff = d.cfg.BackoffCap
			}
		}
	}
	d.saveFallback(s.Name(), rec, d.cfg.MaxAttempts)
}

func (d *Dispatcher) saveFallback(sink string, rec Record, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.AttemptTimeout)
	defer cancel()

	err := d.fallback.SaveFallback(ctx, store.FallbackRecord{
		Sink:      sink,
		RecordID:  rec.ID,
		EventType: string(rec.EventType),
		User:      rec.User,
		Timestamp: rec.Timestamp,
		Reason:    rec.Reason,
		Detail:    rec.Detail,
		Attempts:  attempts,
	})
	if err != nil {
		// Last resort: the record survives only in the daemon log.
		d.logger.Printf("audit: fallback write failed for record %s (sink %s): %v; record: %s %s %s",
			rec.ID, sink, err, rec.EventType, rec.User, rec.Timestamp.Format(time.RFC3339))
	}
}
