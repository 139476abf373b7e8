// Package consumer implements the task that takes items out of a broker and
// hands them to a Handler.
package consumer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/internal/backoff"
	"github.com/dockhardman/mqflow/pkg/internal/lifecycle"
)

// Handler processes one item taken out of b.
type Handler[T any] func(ctx context.Context, item T, b broker.Broker[T]) error

// Discard is a Handler that drops every item.
func Discard[T any](context.Context, T, broker.Broker[T]) error { return nil }

// Config configures a Consumer.
type Config struct {
	Name string
	// NonBlocking makes each get fail fast on an empty broker and retry
	// after a backoff instead of waiting on the broker.
	NonBlocking bool
	// Timeout bounds the whole listen, counted from its start. It is checked
	// whenever the broker has nothing to give. Values <= 0 wait until
	// stopped.
	Timeout time.Duration
	// MaxCount is the number of items to consume. Values <= 0 are unlimited.
	MaxCount int
	Log      log.Logger
}

// Consumer hands items of a broker to a Handler.
type Consumer[T any] struct {
	cfg     Config
	handler Handler[T]
	l       log.Logger

	count   atomic.Int64
	stopper lifecycle.Stopper
}

// New returns a Consumer passing items to handler.
func New[T any](handler Handler[T], cfg Config) *Consumer[T] {
	if handler == nil {
		panic("nil consumer handler")
	}
	if cfg.Name == "" {
		cfg.Name = "consumer"
	}
	l := cfg.Log
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Consumer[T]{
		cfg:     cfg,
		handler: handler,
		l:       log.With(l, "consumer", cfg.Name),
	}
}

// Name returns the name of the consumer.
func (c *Consumer[T]) Name() string { return c.cfg.Name }

// Count returns the number of items handled so far.
func (c *Consumer[T]) Count() int { return int(c.count.Load()) }

// Stop asks Listen to return. It can be called more than once.
func (c *Consumer[T]) Stop() { c.stopper.Stop() }

// Stopped reports whether the consumer has been stopped.
func (c *Consumer[T]) Stopped() bool { return c.stopper.Stopped() }

// Listen gets items from b until MaxCount items have been handled, the
// consumer is stopped or ctx is canceled, in which cases it returns nil.
//
// Every handled item is acknowledged with TaskDone. When the broker is empty
// and Timeout has elapsed since Listen started, the consumer stops and
// returns the last broker error.
// Handler and other broker errors also stop the consumer and are returned.
func (c *Consumer[T]) Listen(ctx context.Context, b broker.Broker[T]) error {
	ctx, cancel := c.stopper.Context(ctx)
	defer cancel()

	_ = c.l.Log("LEVEL", "INFO", "MESSAGE", "Starting consumer.", "broker", b.Name())
	bo := backoff.New(broker.PollInterval, lifecycle.MaxWaitSlice)
	start := time.Now()
	for handled := 0; c.cfg.MaxCount <= 0 || handled < c.cfg.MaxCount; {
		if c.Stopped() {
			return nil
		}

		item, err := b.Get(ctx,
			broker.Blocking(!c.cfg.NonBlocking),
			broker.WithTimeout(lifecycle.Slice(c.cfg.Timeout, start)))
		if broker.IsEmpty(err) || broker.IsTimeout(err) {
			if ctx.Err() != nil {
				return c.exit(ctx, broker.ContextError(ctx))
			}
			if lifecycle.Expired(c.cfg.Timeout, start) {
				return c.exit(ctx, errors.Wrapf(err, "consumer %q timed out after %s", c.cfg.Name, c.cfg.Timeout))
			}
			if c.cfg.NonBlocking {
				if err := broker.Sleep(ctx, bo.Next()); err != nil {
					return c.exit(ctx, err)
				}
			}
			continue
		}
		if err != nil {
			return c.exit(ctx, err)
		}
		bo.Reset()

		if err := c.handler(ctx, item, b); err != nil {
			return c.exit(ctx, errors.Wrap(err, "unable to handle item"))
		}
		if err := b.TaskDone(ctx); err != nil {
			return c.exit(ctx, err)
		}
		handled++
		c.count.Add(1)
	}
	_ = c.l.Log("LEVEL", "INFO", "MESSAGE", "Consumer done.", "count", c.Count())
	return nil
}

// exit stops the consumer. The end of ctx is a normal way out and is not
// reported.
func (c *Consumer[T]) exit(ctx context.Context, err error) error {
	c.Stop()
	if broker.IsCanceled(err) || ctx.Err() != nil {
		_ = c.l.Log("LEVEL", "INFO", "MESSAGE", "Consumer stopped.", "count", c.Count())
		return nil
	}
	_ = c.l.Log("LEVEL", "ERROR", "MESSAGE", "Consumer failed.", "count", c.Count(), "err", err)
	return err
}
