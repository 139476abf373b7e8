package consumer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/memory"
	"github.com/dockhardman/mqflow/pkg/consumer"
	"github.com/dockhardman/mqflow/pkg/internal/brokermock"
)

type collector struct {
	mu    sync.Mutex
	items []int
}

func (c *collector) handle(_ context.Context, item int, _ broker.Broker[int]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return nil
}

func fill(t *testing.T, b broker.Broker[int], n int) {
	for i := 0; i < n; i++ {
		require.NoError(t, b.PutNoWait(context.Background(), i))
	}
}

func TestMaxCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.NewQueue[int](broker.Options{})
	fill(t, b, 5)

	var got collector
	c := consumer.New[int](got.handle, consumer.Config{MaxCount: 3, Log: log.NewNopLogger()})
	require.NoError(t, c.Listen(ctx, b))

	assert.Equal(t, 3, c.Count(), "Consumer should count every handled item.")
	assert.Equal(t, []int{0, 1, 2}, got.items, "Consumer should get exactly MaxCount items in order.")
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTaskDone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.NewQueue[int](broker.Options{})
	fill(t, b, 3)
	c := consumer.New(consumer.Discard[int], consumer.Config{MaxCount: 3})
	require.NoError(t, c.Listen(ctx, b))

	joinCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, b.Join(joinCtx), "Every handled item should be marked done.")
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	for _, nonBlocking := range []bool{false, true} {
		nonBlocking := nonBlocking
		name := "Blocking"
		if nonBlocking {
			name = "Non-Blocking"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			b := memory.NewQueue[int](broker.Options{})
			c := consumer.New(consumer.Discard[int], consumer.Config{
				NonBlocking: nonBlocking,
				Timeout:     200 * time.Millisecond,
			})

			start := time.Now()
			err := c.Listen(context.Background(), b)
			assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "Consumer should wait until the timeout.")
			if nonBlocking {
				assert.True(t, broker.IsEmpty(err), "Last error should be empty, got %v.", err)
			} else {
				assert.True(t, broker.IsTimeout(err), "Last error should be a timeout, got %v.", err)
			}
			assert.True(t, c.Stopped())
		})
	}
}

func TestTimeoutCountsFromStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := memory.NewQueue[int](broker.Options{})
	go func() {
		for i := 0; i < 10; i++ {
			if broker.Sleep(ctx, 100*time.Millisecond) != nil {
				return
			}
			_ = b.Put(ctx, i)
		}
	}()

	const timeout = 300 * time.Millisecond
	c := consumer.New(consumer.Discard[int], consumer.Config{Timeout: timeout})
	start := time.Now()
	err := c.Listen(ctx, b)
	elapsed := time.Since(start)

	assert.True(t, broker.IsTimeout(err), "Last error should be a timeout, got %v.", err)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+300*time.Millisecond, "Items arriving steadily should not extend the timeout.")
	assert.Less(t, c.Count(), 10)
}

func TestLateItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.NewQueue[int](broker.Options{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = b.Put(ctx, 9)
	}()

	var got collector
	c := consumer.New[int](got.handle, consumer.Config{MaxCount: 1, NonBlocking: true, Timeout: 5 * time.Second})
	require.NoError(t, c.Listen(ctx, b))
	assert.Equal(t, []int{9}, got.items)
}

func TestHandlerError(t *testing.T) {
	t.Parallel()

	b := memory.NewQueue[int](broker.Options{})
	fill(t, b, 2)

	boom := errors.New("boom")
	c := consumer.New[int](func(context.Context, int, broker.Broker[int]) error { return boom }, consumer.Config{})
	err := c.Listen(context.Background(), b)
	assert.Equal(t, boom, errors.Cause(err))
	assert.True(t, c.Stopped(), "Handler failure should stop the consumer.")
	assert.Zero(t, c.Count())
}

func TestBrokerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	b := brokermock.New[int](broker.Options{})
	b.FailGet(boom)

	c := consumer.New(consumer.Discard[int], consumer.Config{Timeout: time.Minute})
	err := c.Listen(context.Background(), b)
	assert.Equal(t, boom, errors.Cause(err), "Unexpected broker errors should not be retried.")
}

func TestStop(t *testing.T) {
	t.Parallel()

	b := memory.NewQueue[int](broker.Options{})
	c := consumer.New(consumer.Discard[int], consumer.Config{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		c.Stop()
	}()
	start := time.Now()
	require.NoError(t, c.Listen(context.Background(), b), "Stopping should not be an error.")
	assert.Less(t, time.Since(start), time.Second, "Stop should interrupt a blocked get.")
}

func TestCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	c := consumer.New(consumer.Discard[int], consumer.Config{})
	assert.NoError(t, c.Listen(ctx, memory.NewQueue[int](broker.Options{})))
}
