// Package memory implements brokers that live in the memory of one process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker"
)

// Ensure Queue implements broker.Broker.
var _ broker.Broker[int] = (*Queue[int])(nil)

// Queue is a FIFO broker backed by a slice.
//
// Blocked callers are woken up by state changes rather than by polling. It is
// safe for concurrent use.
type Queue[T any] struct {
	opts broker.Options

	mu         sync.Mutex
	items      []T
	unfinished int
	// changed is closed and replaced on every state change.
	changed chan struct{}
}

// NewQueue returns an empty Queue.
func NewQueue[T any](opts broker.Options) *Queue[T] {
	if opts.Name == "" {
		opts.Name = "memory"
	}
	return &Queue[T]{
		opts:    opts,
		changed: make(chan struct{}),
	}
}

// Name returns the name of the queue.
func (q *Queue[T]) Name() string { return q.opts.Name }

// MaxSize returns the capacity of the queue.
func (q *Queue[T]) MaxSize() int { return q.opts.MaxSize }

func (q *Queue[T]) String() string { return q.opts.String() }

// Len returns the number of queued items.
func (q *Queue[T]) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty(ctx context.Context) (bool, error) {
	n, err := q.Len(ctx)
	return n == 0, err
}

// Full reports whether the queue is at capacity.
func (q *Queue[T]) Full(ctx context.Context) (bool, error) {
	n, err := q.Len(ctx)
	return broker.IsFullAt(n, q.opts.MaxSize), err
}

// Get removes and returns the oldest item.
func (q *Queue[T]) Get(ctx context.Context, opts ...broker.WaitOption) (T, error) {
	return q.get(ctx, q.opts.Wait(opts...))
}

// GetNoWait removes and returns the oldest item, or fails with
// broker.ErrEmpty.
func (q *Queue[T]) GetNoWait(ctx context.Context) (T, error) {
	return q.get(ctx, broker.Wait{})
}

func (q *Queue[T]) get(ctx context.Context, w broker.Wait) (T, error) {
	var zero T
	deadline, stop := timer(w)
	defer stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.notifyLocked()
			q.mu.Unlock()
			return item, nil
		}
		changed := q.changed
		q.mu.Unlock()

		if !w.Block {
			return zero, errors.Wrapf(broker.ErrEmpty, "queue %q", q.opts.Name)
		}
		select {
		case <-changed:
		case <-deadline:
			return zero, errors.Wrapf(broker.ErrTimeout, "queue %q still empty after %s", q.opts.Name, w.Timeout)
		case <-ctx.Done():
			return zero, broker.ContextError(ctx)
		}
	}
}

// Put appends item to the queue.
func (q *Queue[T]) Put(ctx context.Context, item T, opts ...broker.WaitOption) error {
	return q.put(ctx, item, q.opts.Wait(opts...))
}

// PutNoWait appends item to the queue, or fails with broker.ErrFull.
func (q *Queue[T]) PutNoWait(ctx context.Context, item T) error {
	return q.put(ctx, item, broker.Wait{})
}

func (q *Queue[T]) put(ctx context.Context, item T, w broker.Wait) error {
	deadline, stop := timer(w)
	defer stop()

	for {
		q.mu.Lock()
		if !broker.IsFullAt(len(q.items), q.opts.MaxSize) {
			q.items = append(q.items, item)
			q.unfinished++
			q.notifyLocked()
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		if !w.Block {
			return errors.Wrapf(broker.ErrFull, "queue %q", q.opts.Name)
		}
		select {
		case <-changed:
		case <-deadline:
			return errors.Wrapf(broker.ErrTimeout, "queue %q still full after %s", q.opts.Name, w.Timeout)
		case <-ctx.Done():
			return broker.ContextError(ctx)
		}
	}
}

// TaskDone marks one retrieved item as processed.
func (q *Queue[T]) TaskDone(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished <= 0 {
		return errors.WithStack(broker.ErrTaskDone)
	}
	q.unfinished--
	if q.unfinished == 0 {
		q.notifyLocked()
	}
	return nil
}

// Join blocks until every put item has been marked done.
func (q *Queue[T]) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.unfinished == 0 {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return broker.ContextError(ctx)
		}
	}
}

// Close is a no-op kept for the broker contract.
func (q *Queue[T]) Close() error { return nil }

func (q *Queue[T]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// timer returns a channel that fires when a blocking wait expires. It never
// fires for non-blocking or unbounded waits.
func timer(w broker.Wait) (<-chan time.Time, func()) {
	if !w.Block || w.Timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(w.Timeout)
	return t.C, func() { t.Stop() }
}
