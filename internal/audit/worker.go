package audit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var errWorkerClosed = errors.New("audit: worker closed")

type txFunc func(ctx context.Context, tx *sql.Tx) error

type txJob struct {
	ctx    context.Context
	fn     txFunc
	result chan error
}

// worker runs every write transaction on one goroutine, in submission order.
type worker struct {
	db   *sql.DB
	jobs chan txJob
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWorker(db *sql.DB) *worker {
	w := &worker{
		db:   db,
		jobs: make(chan txJob, 64),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// close runs the jobs already queued, then stops the loop.
func (w *worker) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

// do runs fn in a transaction and waits for the commit. If ctx ends while
// the job is queued or running, the transaction still completes and its
// result is dropped.
func (w *worker) do(ctx context.Context, fn txFunc) error {
	j := txJob{ctx: ctx, fn: fn, result: make(chan error, 1)}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return errWorkerClosed
	}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) loop() {
	defer close(w.done)
	for j := range w.jobs {
		j.result <- w.run(j)
	}
}

func (w *worker) run(j txJob) error {
	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
