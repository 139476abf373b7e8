// Package broker defines the contract shared by every message queue backend.
package broker

import (
	"context"
	"fmt"
	"time"
)

// Broker wraps the set of methods for putting items into and getting items
// out of a named, optionally bounded queue.
//
// Every backend reports queue-state failures with exactly three kinds of
// error: ErrEmpty, ErrFull and ErrTimeout (see IsEmpty, IsFull and IsTimeout),
// whatever its substrate natively returns. Producers and consumers rely on
// this to stay backend agnostic.
//
// Len is a point-in-time value. For remote backends it is an estimate that is
// not transactionally consistent with the operations that follow it.
type Broker[T any] interface {
	Name() string
	// MaxSize is the capacity of the broker. Values <= 0 mean unbounded.
	MaxSize() int

	Len(ctx context.Context) (int, error)
	Empty(ctx context.Context) (bool, error)
	Full(ctx context.Context) (bool, error)

	// Get removes and returns the item at the head of the queue. Unless
	// overridden by opts, the broker default block mode and timeout apply.
	Get(ctx context.Context, opts ...WaitOption) (T, error)
	GetNoWait(ctx context.Context) (T, error)

	// Put appends item to the queue. Unless overridden by opts, the broker
	// default block mode and timeout apply.
	Put(ctx context.Context, item T, opts ...WaitOption) error
	PutNoWait(ctx context.Context, item T) error

	// TaskDone marks one previously retrieved item as fully processed.
	TaskDone(ctx context.Context) error
	// Join blocks until every put item has had a matching TaskDone.
	Join(ctx context.Context) error

	// Close releases backend resources. Closing a closed broker returns nil.
	Close() error
}

// Options holds the construction parameters shared by every backend.
//
// The zero value describes an unbounded broker whose operations block
// forever by default.
type Options struct {
	Name    string
	MaxSize int
	// NonBlocking makes Get and Put fail immediately by default instead of
	// waiting.
	NonBlocking bool
	// Timeout is the default bound of a blocking wait. Values <= 0 wait
	// until the context ends.
	Timeout time.Duration
}

// String implements fmt.Stringer.
func (o Options) String() string {
	return fmt.Sprintf("Broker(name=%s, maxsize=%d)", o.Name, o.MaxSize)
}

// Wait resolves per-call options against the defaults in o.
func (o Options) Wait(opts ...WaitOption) Wait {
	w := Wait{Block: !o.NonBlocking, Timeout: o.Timeout}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

// Wait describes how a single Get or Put waits for the queue.
type Wait struct {
	Block   bool
	Timeout time.Duration
}

// WaitOption overrides the broker default wait for one call.
type WaitOption func(*Wait)

// Blocking sets whether the call waits for an item or free capacity.
func Blocking(block bool) WaitOption {
	return func(w *Wait) { w.Block = block }
}

// WithTimeout bounds a blocking call. Values <= 0 wait until the context
// ends.
func WithTimeout(d time.Duration) WaitOption {
	return func(w *Wait) { w.Timeout = d }
}

// IsFullAt reports whether size items fill a broker of capacity maxSize.
func IsFullAt(size, maxSize int) bool {
	return maxSize > 0 && size >= maxSize
}

// Drain gets items without waiting until the broker reports it is empty.
func Drain[T any](ctx context.Context, b Broker[T]) ([]T, error) {
	var out []T
	for {
		item, err := b.GetNoWait(ctx)
		if IsEmpty(err) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
}
