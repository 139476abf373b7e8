// Package brokermock implements a broker whose failures can be scripted.
//
// Intended for testing only.
package brokermock

import (
	"context"
	"sync"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/memory"
)

// Ensure BrokerMock implements broker.Broker.
var _ broker.Broker[int] = (*BrokerMock[int])(nil)

// BrokerMock is an in-memory broker that returns injected errors and counts
// calls.
type BrokerMock[T any] struct {
	q *memory.Queue[T]

	mu     sync.Mutex
	getErr error
	putErr error
	gets   int
	puts   int
	closes int
}

// New returns a new BrokerMock.
func New[T any](opts broker.Options) *BrokerMock[T] {
	return &BrokerMock[T]{q: memory.NewQueue[T](opts)}
}

// FailGet makes every following Get and GetNoWait return err. A nil err
// restores normal behavior.
func (m *BrokerMock[T]) FailGet(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// FailPut makes every following Put and PutNoWait return err. A nil err
// restores normal behavior.
func (m *BrokerMock[T]) FailPut(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// Gets returns the number of successful gets.
func (m *BrokerMock[T]) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// Puts returns the number of successful puts.
func (m *BrokerMock[T]) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Closes returns the number of calls to Close.
func (m *BrokerMock[T]) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *BrokerMock[T]) Name() string { return m.q.Name() }

func (m *BrokerMock[T]) MaxSize() int { return m.q.MaxSize() }

func (m *BrokerMock[T]) Len(ctx context.Context) (int, error) { return m.q.Len(ctx) }

func (m *BrokerMock[T]) Empty(ctx context.Context) (bool, error) { return m.q.Empty(ctx) }

func (m *BrokerMock[T]) Full(ctx context.Context) (bool, error) { return m.q.Full(ctx) }

func (m *BrokerMock[T]) Get(ctx context.Context, opts ...broker.WaitOption) (T, error) {
	return m.get(func() (T, error) { return m.q.Get(ctx, opts...) })
}

func (m *BrokerMock[T]) GetNoWait(ctx context.Context) (T, error) {
	return m.get(func() (T, error) { return m.q.GetNoWait(ctx) })
}

func (m *BrokerMock[T]) get(fn func() (T, error)) (T, error) {
	m.mu.Lock()
	err := m.getErr
	m.mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}

	item, err := fn()
	if err == nil {
		m.mu.Lock()
		m.gets++
		m.mu.Unlock()
	}
	return item, err
}

func (m *BrokerMock[T]) Put(ctx context.Context, item T, opts ...broker.WaitOption) error {
	return m.put(func() error { return m.q.Put(ctx, item, opts...) })
}

func (m *BrokerMock[T]) PutNoWait(ctx context.Context, item T) error {
	return m.put(func() error { return m.q.PutNoWait(ctx, item) })
}

func (m *BrokerMock[T]) put(fn func() error) error {
	m.mu.Lock()
	err := m.putErr
	m.mu.Unlock()
	if err != nil {
		return err
	}

	err = fn()
	if err == nil {
		m.mu.Lock()
		m.puts++
		m.mu.Unlock()
	}
	return err
}

func (m *BrokerMock[T]) TaskDone(ctx context.Context) error { return m.q.TaskDone(ctx) }

func (m *BrokerMock[T]) Join(ctx context.Context) error { return m.q.Join(ctx) }

func (m *BrokerMock[T]) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return m.q.Close()
}
