// Package amqp implements a broker on top of an AMQP 0-9-1 queue such as a
// RabbitMQ classic queue.
package amqp

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/codec"
)

// Channel is the subset of *amqp091.Channel used by the adapter.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Get(queue string, autoAck bool) (amqp091.Delivery, bool, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Ensure the client channel satisfies Channel.
var _ Channel = (*amqp091.Channel)(nil)

// Config configures an Adapter.
type Config struct {
	broker.Options
	// URL of the server, used by Dial only.
	URL string
	// Queue names the AMQP queue. Defaults to Name.
	Queue   string
	Durable bool
	// Passive only checks that the queue exists instead of declaring it.
	Passive bool
	// PollInterval is the delay between two attempts of a blocking wait.
	PollInterval time.Duration
	Codec        codec.Codec
}

// Ensure Adapter implements broker.Broker.
var _ broker.Broker[int] = (*Adapter[int])(nil)

// Adapter for an AMQP channel to implement the broker.Broker interface.
//
// Items are fetched with basic.get and acknowledged on receipt, so an item
// is lost if the process dies while handling it. Channel operations are
// serialized since AMQP channels must not be shared between goroutines.
type Adapter[T any] struct {
	opts     broker.Options
	queue    string
	durable  bool
	interval time.Duration
	codec    codec.Codec

	mu         sync.Mutex
	ch         Channel
	conn       io.Closer
	unfinished int

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to cfg.URL, opens a channel and declares the queue.
func Dial[T any](cfg Config) (*Adapter[T], error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to AMQP server")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "unable to open AMQP channel")
	}
	a, err := NewAdapter[T](ch, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	a.conn = conn
	return a, nil
}

// NewAdapter declares the queue on ch and returns an adapter using it. The
// adapter owns ch and closes it on Close.
func NewAdapter[T any](ch Channel, cfg Config) (*Adapter[T], error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Queue
	}
	if cfg.Queue == "" {
		cfg.Queue = cfg.Name
	}
	if cfg.Queue == "" {
		return nil, errors.New("missing AMQP queue name")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = broker.PollInterval
	}

	a := &Adapter[T]{
		opts:     cfg.Options,
		queue:    cfg.Queue,
		durable:  cfg.Durable,
		interval: cfg.PollInterval,
		codec:    codec.OrDefault(cfg.Codec),
		ch:       ch,
	}
	var err error
	if cfg.Passive {
		_, err = ch.QueueDeclarePassive(cfg.Queue, cfg.Durable, false, false, false, nil)
	} else {
		_, err = ch.QueueDeclare(cfg.Queue, cfg.Durable, false, false, false, nil)
	}
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "unable to declare AMQP queue %q", cfg.Queue)
	}
	return a, nil
}

// Name returns the name of the broker.
func (a *Adapter[T]) Name() string { return a.opts.Name }

// MaxSize returns the capacity enforced by the adapter.
func (a *Adapter[T]) MaxSize() int { return a.opts.MaxSize }

func (a *Adapter[T]) String() string { return a.opts.String() }

// Len returns the number of ready messages reported by the server.
func (a *Adapter[T]) Len(_ context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lenLocked()
}

func (a *Adapter[T]) lenLocked() (int, error) {
	q, err := a.ch.QueueDeclarePassive(a.queue, a.durable, false, false, false, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to inspect AMQP queue %q", a.queue)
	}
	return q.Messages, nil
}

// Empty reports whether the queue has no ready messages.
func (a *Adapter[T]) Empty(ctx context.Context) (bool, error) {
	n, err := a.Len(ctx)
	return n == 0, err
}

// Full reports whether the queue is at capacity.
func (a *Adapter[T]) Full(ctx context.Context) (bool, error) {
	n, err := a.Len(ctx)
	return broker.IsFullAt(n, a.opts.MaxSize), err
}

// Get fetches the oldest message, polling while the queue is empty.
func (a *Adapter[T]) Get(ctx context.Context, opts ...broker.WaitOption) (T, error) {
	w := a.opts.Wait(opts...)
	if !w.Block {
		return a.GetNoWait(ctx)
	}
	var item T
	err := broker.Poll(ctx, w.Timeout, a.interval, func() (bool, error) {
		v, err := a.GetNoWait(ctx)
		if broker.IsEmpty(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		item = v
		return true, nil
	})
	return item, errors.Wrapf(err, "unable to get from AMQP queue %q", a.queue)
}

// GetNoWait fetches the oldest message or fails with broker.ErrEmpty.
func (a *Adapter[T]) GetNoWait(_ context.Context) (T, error) {
	var item T
	a.mu.Lock()
	d, ok, err := a.ch.Get(a.queue, true)
	a.mu.Unlock()
	if err != nil {
		return item, errors.Wrapf(err, "error reading from AMQP queue %q", a.queue)
	}
	if !ok {
		return item, errors.Wrapf(broker.ErrEmpty, "AMQP queue %q", a.queue)
	}
	err = a.codec.Unmarshal(d.Body, &item)
	return item, errors.Wrapf(err, "invalid message in AMQP queue %q", a.queue)
}

// Put publishes item, polling while the queue is full.
func (a *Adapter[T]) Put(ctx context.Context, item T, opts ...broker.WaitOption) error {
	w := a.opts.Wait(opts...)
	if !w.Block {
		return a.PutNoWait(ctx, item)
	}
	body, err := a.codec.Marshal(item)
	if err != nil {
		return err
	}
	err = broker.Poll(ctx, w.Timeout, a.interval, func() (bool, error) {
		err := a.publish(ctx, body)
		if broker.IsFull(err) {
			return false, nil
		}
		return err == nil, err
	})
	return errors.Wrapf(err, "unable to put into AMQP queue %q", a.queue)
}

// PutNoWait publishes item or fails with broker.ErrFull.
//
// The capacity check and the publish are two round trips, so concurrent
// publishers on other connections can overshoot MaxSize.
func (a *Adapter[T]) PutNoWait(ctx context.Context, item T) error {
	body, err := a.codec.Marshal(item)
	if err != nil {
		return err
	}
	return a.publish(ctx, body)
}

func (a *Adapter[T]) publish(ctx context.Context, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opts.MaxSize > 0 {
		n, err := a.lenLocked()
		if err != nil {
			return err
		}
		if broker.IsFullAt(n, a.opts.MaxSize) {
			return errors.Wrapf(broker.ErrFull, "AMQP queue %q holds %d messages", a.queue, n)
		}
	}

	msg := amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	}
	if a.durable {
		msg.DeliveryMode = amqp091.Persistent
	}
	if err := a.ch.PublishWithContext(ctx, "", a.queue, false, false, msg); err != nil {
		return errors.Wrapf(err, "error publishing to AMQP queue %q", a.queue)
	}
	a.unfinished++
	return nil
}

// TaskDone marks one item published by this adapter as processed. Items
// may be consumed through other connections, so extra calls are ignored.
func (a *Adapter[T]) TaskDone(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unfinished > 0 {
		a.unfinished--
	}
	return nil
}

// Join polls until the queue is empty and every item published by this
// adapter has been marked done.
func (a *Adapter[T]) Join(ctx context.Context) error {
	return broker.Poll(ctx, 0, a.interval, func() (bool, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.unfinished > 0 {
			return false, nil
		}
		n, err := a.lenLocked()
		return n == 0, err
	})
}

// Close closes the channel and, when dialed by Dial, the connection.
func (a *Adapter[T]) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		err := a.ch.Close()
		if a.conn != nil {
			if cerr := a.conn.Close(); err == nil {
				err = cerr
			}
		}
		a.closeErr = errors.Wrap(err, "unable to close AMQP client")
	})
	return a.closeErr
}
