// Package metrics instruments brokers with Prometheus metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dockhardman/mqflow/pkg/broker"
)

// Results recorded in the result label of OperationsTotal.
const (
	ResultOK       = "ok"
	ResultEmpty    = "empty"
	ResultFull     = "full"
	ResultTimeout  = "timeout"
	ResultCanceled = "canceled"
	ResultError    = "error"
)

// Metrics holds the broker collectors.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Size              *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqflow_broker_operations_total",
				Help: "Total number of broker operations by result",
			},
			[]string{"broker", "operation", "result"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mqflow_broker_operation_duration_seconds",
				Help:    "Broker operation duration in seconds, waiting included",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"broker", "operation"},
		),
		Size: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mqflow_broker_size",
				Help: "Last observed number of items in the broker",
			},
			[]string{"broker"},
		),
	}
}

// Result classifies err for the result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case broker.IsEmpty(err):
		return ResultEmpty
	case broker.IsFull(err):
		return ResultFull
	case broker.IsTimeout(err):
		return ResultTimeout
	case broker.IsCanceled(err):
		return ResultCanceled
	default:
		return ResultError
	}
}

// Ensure Broker implements broker.Broker.
var _ broker.Broker[int] = (*Broker[int])(nil)

// Broker records metrics for every operation of the broker it wraps.
type Broker[T any] struct {
	next broker.Broker[T]
	m    *Metrics
}

// Instrument wraps b.
func Instrument[T any](b broker.Broker[T], m *Metrics) *Broker[T] {
	return &Broker[T]{next: b, m: m}
}

func (b *Broker[T]) observe(op string, start time.Time, err error) {
	name := b.next.Name()
	b.m.OperationsTotal.WithLabelValues(name, op, Result(err)).Inc()
	b.m.OperationDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())
}

// Name returns the name of the wrapped broker.
func (b *Broker[T]) Name() string { return b.next.Name() }

// MaxSize returns the capacity of the wrapped broker.
func (b *Broker[T]) MaxSize() int { return b.next.MaxSize() }

// Len returns the size of the wrapped broker and updates the size gauge.
func (b *Broker[T]) Len(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { b.observe("len", start, err) }(time.Now())
	n, err = b.next.Len(ctx)
	if err == nil {
		b.m.Size.WithLabelValues(b.next.Name()).Set(float64(n))
	}
	return n, err
}

// Empty is not instrumented.
func (b *Broker[T]) Empty(ctx context.Context) (bool, error) { return b.next.Empty(ctx) }

// Full is not instrumented.
func (b *Broker[T]) Full(ctx context.Context) (bool, error) { return b.next.Full(ctx) }

// Get records a get operation.
func (b *Broker[T]) Get(ctx context.Context, opts ...broker.WaitOption) (item T, err error) {
	defer func(start time.Time) { b.observe("get", start, err) }(time.Now())
	return b.next.Get(ctx, opts...)
}

// GetNoWait records a get operation.
func (b *Broker[T]) GetNoWait(ctx context.Context) (item T, err error) {
	defer func(start time.Time) { b.observe("get", start, err) }(time.Now())
	return b.next.GetNoWait(ctx)
}

// Put records a put operation.
func (b *Broker[T]) Put(ctx context.Context, item T, opts ...broker.WaitOption) (err error) {
	defer func(start time.Time) { b.observe("put", start, err) }(time.Now())
	return b.next.Put(ctx, item, opts...)
}

// PutNoWait records a put operation.
func (b *Broker[T]) PutNoWait(ctx context.Context, item T) (err error) {
	defer func(start time.Time) { b.observe("put", start, err) }(time.Now())
	return b.next.PutNoWait(ctx, item)
}

// TaskDone records a task_done operation.
func (b *Broker[T]) TaskDone(ctx context.Context) (err error) {
	defer func(start time.Time) { b.observe("task_done", start, err) }(time.Now())
	return b.next.TaskDone(ctx)
}

// Join waits on the wrapped broker.
func (b *Broker[T]) Join(ctx context.Context) error { return b.next.Join(ctx) }

// Close closes the wrapped broker.
func (b *Broker[T]) Close() error { return b.next.Close() }
