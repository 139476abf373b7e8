// Package producer implements the task that generates items and puts them
// into a broker.
package producer

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

// Source generates the next item to publish.
type Source[T any] func(ctx context.Context) (T, error)

// Constant returns a Source that always generates v.
func Constant[T any](v T) Source[T] {
	return func(context.Context) (T, error) { return v, nil }
}

// Config configures a Producer.
type Config struct {
	Name string
	// NonBlocking makes each put fail fast on a full broker and retry after
	// a backoff instead of waiting on the broker.
	NonBlocking bool
	// Timeout is the longest the producer keeps retrying one item before it
	// gives up. Values <= 0 retry until stopped.
	Timeout time.Duration
	// MaxCount is the number of items to publish. Values <= 0 are unlimited.
	MaxCount int
	// Delay is slept once before the first item.
	Delay time.Duration
	// Interval is slept after every published item.
	Interval time.Duration
	Log      log.Logger
}

// Producer publishes items generated by a Source.
type Producer[T any] struct {
	cfg    Config
	source Source[T]
	l      log.Logger

	count   atomic.Int64
	stopper lifecycle.Stopper
}

// New returns a Producer publishing items from source.
func New[T any](source Source[T], cfg Config) *Producer[T] {
	if source == nil {
		panic("nil producer source")
	}
	if cfg.Name == "" {
		cfg.Name = "producer"
	}
	l := cfg.Log
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Producer[T]{
		cfg:    cfg,
		source: source,
		l:      log.With(l, "producer", cfg.Name),
	}
}

// NewTimer returns a Producer that puts value once after delay.
func NewTimer[T any](value T, delay time.Duration, cfg Config) *Producer[T] {
	if cfg.Name == "" {
		cfg.Name = "timer"
	}
	cfg.Delay = max(delay, 0)
	cfg.MaxCount = 1
	return New(Constant(value), cfg)
}

// NewCountDown returns a Producer that puts value count times, sleeping
// interval after each put.
func NewCountDown[T any](value T, count int, interval time.Duration, cfg Config) *Producer[T] {
	if cfg.Name == "" {
		cfg.Name = "count-down"
	}
	cfg.MaxCount = count
	cfg.Interval = max(interval, 0)
	return New(Constant(value), cfg)
}

// Name returns the name of the producer.
func (p *Producer[T]) Name() string { return p.cfg.Name }

// Count returns the number of items published so far.
func (p *Producer[T]) Count() int { return int(p.count.Load()) }

// Stop asks Publish to return. It can be called more than once.
func (p *Producer[T]) Stop() { p.stopper.Stop() }

// Stopped reports whether the producer has been stopped.
func (p *Producer[T]) Stopped() bool { return p.stopper.Stopped() }

// Publish puts items into b until MaxCount items have been published, the
// producer is stopped or ctx is canceled, in which cases it returns nil.
//
// A put failing with broker.ErrFull or broker.ErrTimeout is retried after a
// backoff. Once an item has been retried for longer than Timeout, the
// producer stops and returns the last broker error. Any other error also
// stops the producer and is returned.
func (p *Producer[T]) Publish(ctx context.Context, b broker.Broker[T]) error {
	ctx, cancel := p.stopper.Context(ctx)
	defer cancel()

	_ = p.l.Log("LEVEL", "INFO", "MESSAGE", "Starting producer.", "broker", b.Name())
	if err := broker.Sleep(ctx, p.cfg.Delay); err != nil {
		return p.exit(ctx, err)
	}

	for published := 0; p.cfg.MaxCount <= 0 || published < p.cfg.MaxCount; published++ {
		if p.Stopped() {
			return nil
		}

		item, err := p.source(ctx)
		if err != nil {
			return p.exit(ctx, errors.Wrap(err, "unable to produce item"))
		}
		if err := p.put(ctx, b, item); err != nil {
			return p.exit(ctx, err)
		}
		p.count.Add(1)

		if err := broker.Sleep(ctx, p.cfg.Interval); err != nil {
			return p.exit(ctx, err)
		}
	}
	_ = p.l.Log("LEVEL", "INFO", "MESSAGE", "Producer done.", "count", p.Count())
	return nil
}

func (p *Producer[T]) put(ctx context.Context, b broker.Broker[T], item T) error {
	start := time.Now()
	bo := backoff.New(broker.PollInterval, lifecycle.MaxWaitSlice)
	for {
		err := b.Put(ctx, item,
			broker.Blocking(!p.cfg.NonBlocking),
			broker.WithTimeout(lifecycle.Slice(p.cfg.Timeout, start)))
		if err == nil || !broker.IsFull(err) && !broker.IsTimeout(err) {
			return err
		}
		if ctx.Err() != nil {
			return broker.ContextError(ctx)
		}
		if lifecycle.Expired(p.cfg.Timeout, start) {
			return errors.Wrapf(err, "producer %q gave up after %s", p.cfg.Name, p.cfg.Timeout)
		}
		if err := broker.Sleep(ctx, bo.Next()); err != nil {
			return err
		}
	}
}

// exit stops the producer. The end of ctx is a normal way out and is not
// reported.
func (p *Producer[T]) exit(ctx context.Context, err error) error {
	p.Stop()
	if broker.IsCanceled(err) || ctx.Err() != nil {
		_ = p.l.Log("LEVEL", "INFO", "MESSAGE", "Producer stopped.", "count", p.Count())
		return nil
	}
	_ = p.l.Log("LEVEL", "ERROR", "MESSAGE", "Producer failed.", "count", p.Count(), "err", err)
	return err
}
