package db

import (
	"context"
	"database/sql"
)

// TxFn runs inside a write transaction owned by the Worker.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// Worker funnels every write through a single goroutine. SQLite allows
// one writer at a time; serializing grant, marker, and fallback writes
// here keeps them from contending on SQLITE_BUSY.
type Worker struct {
	db   *sql.DB
	jobs chan writeJob
	done chan struct{}
}

type writeJob struct {
	ctx context.Context
	fn  TxFn
	res chan error
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan writeJob, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close stops accepting jobs and waits for queued writes to finish.
func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

// Do runs fn in its own transaction on the writer goroutine and returns
// its result. The caller's context bounds both the queue wait and the
// transaction; if the caller gives up while the job is queued or running,
// the loop still finishes the transaction and the result is discarded.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	j := writeJob{ctx: ctx, fn: fn, res: make(chan error, 1)}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		tx, err := w.db.BeginTx(j.ctx, nil)
		if err != nil {
			j.res <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.res <- err
			continue
		}

		j.res <- tx.Commit()
	}
}
