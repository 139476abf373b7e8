// Package pipeline runs producers and consumers concurrently against one
// broker.
package pipeline

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/consumer"
	"github.com/dockhardman/mqflow/pkg/internal/lifecycle"
	"github.com/dockhardman/mqflow/pkg/producer"
)

// ErrConfiguration is returned by Run when the pipeline lacks producers,
// consumers or a broker.
var ErrConfiguration = errors.New("pipeline needs at least one producer, one consumer and a broker")

// Publisher is the producer role. *producer.Producer implements it.
type Publisher[T any] interface {
	Name() string
	Publish(ctx context.Context, b broker.Broker[T]) error
	Stop()
}

// Listener is the consumer role. *consumer.Consumer implements it.
type Listener[T any] interface {
	Name() string
	Listen(ctx context.Context, b broker.Broker[T]) error
	Stop()
}

var (
	_ Publisher[int] = (*producer.Producer[int])(nil)
	_ Listener[int]  = (*consumer.Consumer[int])(nil)
)

// Config configures a Pipeline.
type Config[T any] struct {
	Name      string
	Producers []Publisher[T]
	Consumers []Listener[T]
	Broker    broker.Broker[T]
	Log       log.Logger
}

// Pipeline runs one task per producer and per consumer.
type Pipeline[T any] struct {
	cfg     Config[T]
	l       log.Logger
	stopper lifecycle.Stopper
}

// New returns a Pipeline. The configuration is checked by Run.
func New[T any](cfg Config[T]) *Pipeline[T] {
	if cfg.Name == "" {
		cfg.Name = "pipeline"
	}
	l := cfg.Log
	if l == nil {
		l = log.NewNopLogger()
	}
	return &Pipeline[T]{
		cfg: cfg,
		l:   log.With(l, "pipeline", cfg.Name),
	}
}

// Stop asks every task to stop. Run then returns once they have.
func (p *Pipeline[T]) Stop() {
	p.stopper.Stop()
}

// Run starts every producer and consumer and waits for all of them.
//
// When a task fails, or ctx is canceled, or Stop is called, every producer
// and consumer is stopped. After a run in which every task completed, the
// roles are left usable. The broker is closed once all tasks are done. Run
// returns the first task failure, else the error of ctx, else nil.
func (p *Pipeline[T]) Run(ctx context.Context) (err error) {
	if len(p.cfg.Producers) == 0 || len(p.cfg.Consumers) == 0 || p.cfg.Broker == nil {
		return errors.WithStack(ErrConfiguration)
	}
	b := p.cfg.Broker
	defer func() {
		if cerr := b.Close(); cerr != nil {
			_ = p.l.Log("LEVEL", "ERROR", "MESSAGE", "Unable to close broker.", "broker", b.Name(), "err", cerr)
			if err == nil {
				err = errors.Wrap(cerr, "unable to close broker")
			}
		}
	}()

	runCtx, cancel := p.stopper.Context(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)

	// Roles are only stopped on interruption or failure so that they can be
	// run again after a pipeline that completed.
	done := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-runCtx.Done():
			p.stopAll()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-watcher
	}()
	fail := func(err error) error {
		if err != nil {
			p.stopAll()
		}
		return err
	}

	_ = p.l.Log("LEVEL", "INFO", "MESSAGE", "Starting pipeline.", "broker", b.Name(),
		"producers", len(p.cfg.Producers), "consumers", len(p.cfg.Consumers))
	for _, pr := range p.cfg.Producers {
		pr := pr
		group.Go(func() error {
			return fail(errors.Wrapf(pr.Publish(groupCtx, b), "producer %q", pr.Name()))
		})
	}
	for _, c := range p.cfg.Consumers {
		c := c
		group.Go(func() error {
			return fail(errors.Wrapf(c.Listen(groupCtx, b), "consumer %q", c.Name()))
		})
	}

	if err := group.Wait(); err != nil {
		_ = p.l.Log("LEVEL", "ERROR", "MESSAGE", "Pipeline failed.", "err", err)
		return err
	}
	_ = p.l.Log("LEVEL", "INFO", "MESSAGE", "Pipeline done.")
	return errors.WithStack(ctx.Err())
}

func (p *Pipeline[T]) stopAll() {
	for _, pr := range p.cfg.Producers {
		pr.Stop()
	}
	for _, c := range p.cfg.Consumers {
		c.Stop()
	}
}
