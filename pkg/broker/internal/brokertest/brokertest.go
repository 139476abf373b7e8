// Package brokertest implements a behavioral test suite shared by every
// broker backend.
package brokertest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dockhardman/mqflow/pkg/broker"
)

// Factory creates a fresh, empty broker for one test.
type Factory func(t *testing.T, opts broker.Options) broker.Broker[int]

// Slack is the scheduling allowance added on top of the polling bound when
// checking that a timeout did not fire late.
const Slack = 150 * time.Millisecond

// Option adjusts the suite to documented backend differences.
type Option func(*suite)

type suite struct {
	lenientTaskDone bool
}

// LenientTaskDone accepts a TaskDone without a matching Get. Backends whose
// consumers may live in another process cannot tell this apart from misuse.
func LenientTaskDone() Option {
	return func(s *suite) { s.lenientTaskDone = true }
}

// Run runs the suite against brokers created by newBroker.
func Run(t *testing.T, newBroker Factory, opts ...Option) {
	var s suite
	for _, opt := range opts {
		opt(&s)
	}

	t.Run("FIFO", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		b := newBroker(t, broker.Options{Name: "fifo"})
		defer closeBroker(t, b)

		for i := 1; i <= 3; i++ {
			require.NoError(t, b.PutNoWait(ctx, i), "Putting into an unbounded broker should succeed.")
		}
		n, err := b.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n, "Length should count every put item.")

		for i := 1; i <= 3; i++ {
			v, err := b.GetNoWait(ctx)
			require.NoError(t, err, "Getting a queued item should succeed.")
			assert.Equal(t, i, v, "Items should come out in insertion order.")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		b := newBroker(t, broker.Options{Name: "empty"})
		defer closeBroker(t, b)

		empty, err := b.Empty(ctx)
		require.NoError(t, err)
		assert.True(t, empty, "New broker should be empty.")

		_, err = b.GetNoWait(ctx)
		assert.True(t, broker.IsEmpty(err), "Non-blocking get should report empty, got %v.", err)

		_, err = b.Get(ctx, broker.Blocking(false))
		assert.True(t, broker.IsEmpty(err), "Get with blocking disabled should report empty, got %v.", err)
	})

	t.Run("Capacity", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		b := newBroker(t, broker.Options{Name: "capacity", MaxSize: 2})
		defer closeBroker(t, b)

		assert.Equal(t, 2, b.MaxSize())
		require.NoError(t, b.PutNoWait(ctx, 1))
		require.NoError(t, b.PutNoWait(ctx, 2))

		full, err := b.Full(ctx)
		require.NoError(t, err)
		assert.True(t, full, "Broker at capacity should be full.")

		err = b.PutNoWait(ctx, 3)
		assert.True(t, broker.IsFull(err), "Put beyond capacity should report full, got %v.", err)

		n, err := b.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "Rejected put should not change the length.")
	})

	t.Run("Get Timeout", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		b := newBroker(t, broker.Options{Name: "get-timeout"})
		defer closeBroker(t, b)

		const timeout = 150 * time.Millisecond
		start := time.Now()
		_, err := b.Get(ctx, broker.WithTimeout(timeout))
		elapsed := time.Since(start)
		assert.True(t, broker.IsTimeout(err), "Blocking get on empty broker should time out, got %v.", err)
		assert.GreaterOrEqual(t, elapsed, timeout, "Timeout should not fire early.")
		assert.Less(t, elapsed, timeout+broker.PollInterval+Slack, "Timeout should not fire late.")
	})

	t.Run("Put Timeout", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		b := newBroker(t, broker.Options{Name: "put-timeout", MaxSize: 1, Timeout: 150 * time.Millisecond})
		defer closeBroker(t, b)

		require.NoError(t, b.PutNoWait(ctx, 1))
		start := time.Now()
		err := b.Put(ctx, 2)
		elapsed := time.Since(start)
		assert.True(t, broker.IsTimeout(err), "Blocking put on full broker should time out, got %v.", err)
		assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "Default timeout should apply.")
		assert.Less(t, elapsed, 150*time.Millisecond+broker.PollInterval+Slack, "Timeout should not fire late.")
	})

	t.Run("Blocking Handoff", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		b := newBroker(t, broker.Options{Name: "handoff"})
		defer closeBroker(t, b)

		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = b.Put(ctx, 42)
		}()
		v, err := b.Get(ctx, broker.WithTimeout(5*time.Second))
		require.NoError(t, err, "Blocking get should receive a later put.")
		assert.Equal(t, 42, v)
	})

	t.Run("Canceled", func(t *testing.T) {
		t.Parallel()
		b := newBroker(t, broker.Options{Name: "canceled"})
		defer closeBroker(t, b)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		_, err := b.Get(ctx)
		assert.True(t, broker.IsCanceled(err), "Cancellation should end a blocking get, got %v.", err)
	})

	t.Run("Task Tracking", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		b := newBroker(t, broker.Options{Name: "tasks"})
		defer closeBroker(t, b)

		require.NoError(t, b.Put(ctx, 1))
		require.NoError(t, b.Put(ctx, 2))

		joinCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		err := b.Join(joinCtx)
		cancel()
		assert.True(t, broker.IsTimeout(err), "Join should wait for unfinished items, got %v.", err)

		for i := 0; i < 2; i++ {
			_, err := b.Get(ctx)
			require.NoError(t, err)
			require.NoError(t, b.TaskDone(ctx), "TaskDone should succeed for a retrieved item.")
		}

		joinCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, b.Join(joinCtx), "Join should return once every item is done.")

		err = b.TaskDone(ctx)
		if s.lenientTaskDone {
			assert.NoError(t, err, "Extra TaskDone should be ignored.")
			assert.NoError(t, b.Join(joinCtx), "Extra TaskDone should not unbalance Join.")
		} else {
			assert.Equal(t, broker.ErrTaskDone, errors.Cause(err), "Extra TaskDone should fail.")
		}
	})

	t.Run("Drain", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		b := newBroker(t, broker.Options{Name: "drain"})
		defer closeBroker(t, b)

		for i := 0; i < 5; i++ {
			require.NoError(t, b.Put(ctx, i))
		}
		items, err := broker.Drain[int](ctx, b)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3, 4}, items)
	})

	t.Run("Concurrent", func(t *testing.T) {
		t.Parallel()
		b := newBroker(t, broker.Options{Name: "concurrent", MaxSize: 10})
		defer closeBroker(t, b)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		group, ctx := errgroup.WithContext(ctx)

		const workers, perWorker = 4, 10
		var mu sync.Mutex
		var got []int

		for w := 0; w < workers; w++ {
			w := w
			group.Go(func() error {
				for i := 0; i < perWorker; i++ {
					if err := b.Put(ctx, w*perWorker+i); err != nil {
						return err
					}
				}
				return nil
			})
			group.Go(func() error {
				for i := 0; i < perWorker; i++ {
					v, err := b.Get(ctx)
					if err != nil {
						return err
					}
					mu.Lock()
					got = append(got, v)
					mu.Unlock()
				}
				return nil
			})
		}
		require.NoError(t, group.Wait(), "Concurrent puts and gets should not fail.")

		sort.Ints(got)
		want := make([]int, workers*perWorker)
		for i := range want {
			want[i] = i
		}
		assert.Equal(t, want, got, "Every item should be received exactly once.")
	})

	t.Run("Close", func(t *testing.T) {
		t.Parallel()
		b := newBroker(t, broker.Options{Name: "close"})
		assert.NoError(t, b.Close(), "First close should succeed.")
		assert.NoError(t, b.Close(), "Second close should be a no-op.")
	})
}

func closeBroker(t *testing.T, b broker.Broker[int]) {
	assert.NoError(t, b.Close(), "Closing %s should not fail.", b.Name())
}
