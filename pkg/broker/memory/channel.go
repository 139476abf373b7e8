package memory

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker"
)

// DefaultChannelCapacity is the buffer size of a Channel created without a
// capacity. Channels cannot be unbounded.
const DefaultChannelCapacity = 1 << 15

// Ensure Channel implements broker.Broker.
var _ broker.Broker[int] = (*Channel[int])(nil)

// Channel is a broker backed by a buffered Go channel, meant to be shared by
// many goroutines.
type Channel[T any] struct {
	opts broker.Options
	c    chan T

	mu         sync.Mutex
	unfinished int
	drained    chan struct{}

	closeOnce sync.Once
}

// NewChannel returns an empty Channel. A MaxSize <= 0 is replaced by
// DefaultChannelCapacity.
func NewChannel[T any](opts broker.Options) *Channel[T] {
	if opts.Name == "" {
		opts.Name = "channel"
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultChannelCapacity
	}
	return &Channel[T]{
		opts:    opts,
		c:       make(chan T, opts.MaxSize),
		drained: make(chan struct{}),
	}
}

// Name returns the name of the channel.
func (c *Channel[T]) Name() string { return c.opts.Name }

// MaxSize returns the buffer size of the channel.
func (c *Channel[T]) MaxSize() int { return c.opts.MaxSize }

func (c *Channel[T]) String() string { return c.opts.String() }

// Len returns the number of buffered items.
func (c *Channel[T]) Len(_ context.Context) (int, error) { return len(c.c), nil }

// Empty reports whether the buffer is empty.
func (c *Channel[T]) Empty(_ context.Context) (bool, error) { return len(c.c) == 0, nil }

// Full reports whether the buffer is full.
func (c *Channel[T]) Full(_ context.Context) (bool, error) {
	return broker.IsFullAt(len(c.c), c.opts.MaxSize), nil
}

// Get receives one item.
func (c *Channel[T]) Get(ctx context.Context, opts ...broker.WaitOption) (T, error) {
	w := c.opts.Wait(opts...)
	if !w.Block {
		return c.GetNoWait(ctx)
	}
	var zero T
	deadline, stop := timer(w)
	defer stop()
	select {
	case item := <-c.c:
		return item, nil
	case <-deadline:
		return zero, errors.Wrapf(broker.ErrTimeout, "channel %q still empty after %s", c.opts.Name, w.Timeout)
	case <-ctx.Done():
		return zero, broker.ContextError(ctx)
	}
}

// GetNoWait receives one item or fails with broker.ErrEmpty.
func (c *Channel[T]) GetNoWait(_ context.Context) (T, error) {
	select {
	case item := <-c.c:
		return item, nil
	default:
		var zero T
		return zero, errors.Wrapf(broker.ErrEmpty, "channel %q", c.opts.Name)
	}
}

// Put sends item.
func (c *Channel[T]) Put(ctx context.Context, item T, opts ...broker.WaitOption) error {
	w := c.opts.Wait(opts...)
	if !w.Block {
		return c.PutNoWait(ctx, item)
	}
	deadline, stop := timer(w)
	defer stop()
	// Count before sending so a fast consumer never sees a negative count.
	c.addUnfinished(1)
	select {
	case c.c <- item:
		return nil
	case <-deadline:
		c.addUnfinished(-1)
		return errors.Wrapf(broker.ErrTimeout, "channel %q still full after %s", c.opts.Name, w.Timeout)
	case <-ctx.Done():
		c.addUnfinished(-1)
		return broker.ContextError(ctx)
	}
}

// PutNoWait sends item or fails with broker.ErrFull.
func (c *Channel[T]) PutNoWait(_ context.Context, item T) error {
	c.addUnfinished(1)
	select {
	case c.c <- item:
		return nil
	default:
		c.addUnfinished(-1)
		return errors.Wrapf(broker.ErrFull, "channel %q", c.opts.Name)
	}
}

// TaskDone marks one received item as processed.
func (c *Channel[T]) TaskDone(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unfinished <= 0 {
		return errors.WithStack(broker.ErrTaskDone)
	}
	c.unfinished--
	if c.unfinished == 0 {
		close(c.drained)
		c.drained = make(chan struct{})
	}
	return nil
}

// Join blocks until every sent item has been marked done.
func (c *Channel[T]) Join(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.unfinished == 0 {
			c.mu.Unlock()
			return nil
		}
		drained := c.drained
		c.mu.Unlock()

		select {
		case <-drained:
		case <-ctx.Done():
			return broker.ContextError(ctx)
		}
	}
}

// Close releases the channel. The underlying Go channel is left open so that
// late senders cannot panic; buffered items are dropped with it.
func (c *Channel[T]) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.unfinished > 0 {
			c.unfinished = 0
			close(c.drained)
			c.drained = make(chan struct{})
		}
	})
	return nil
}

func (c *Channel[T]) addUnfinished(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unfinished += n
	if c.unfinished == 0 && n < 0 {
		close(c.drained)
		c.drained = make(chan struct{})
	}
}
