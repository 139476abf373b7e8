package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhardman/mqflow/pkg/broker"
)

func TestOptionsWait(t *testing.T) {
	t.Parallel()

	o := broker.Options{Name: "q", Timeout: time.Second}
	w := o.Wait()
	assert.True(t, w.Block, "Zero value options should block.")
	assert.Equal(t, time.Second, w.Timeout, "Default timeout should apply.")

	w = o.Wait(broker.Blocking(false), broker.WithTimeout(time.Millisecond))
	assert.False(t, w.Block, "Call option should override block mode.")
	assert.Equal(t, time.Millisecond, w.Timeout, "Call option should override timeout.")

	w = broker.Options{NonBlocking: true}.Wait()
	assert.False(t, w.Block, "NonBlocking default should be honored.")
	assert.Equal(t, "Broker(name=q, maxsize=0)", o.String())
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, broker.IsEmpty(errors.Wrap(broker.ErrEmpty, "x")))
	assert.True(t, broker.IsFull(errors.Wrap(broker.ErrFull, "x")))
	assert.True(t, broker.IsTimeout(errors.Wrap(broker.ErrTimeout, "x")))
	assert.False(t, broker.IsEmpty(nil))
	assert.False(t, broker.IsFull(broker.ErrEmpty))
	assert.True(t, broker.IsUnavailable(broker.ErrFull))
	assert.False(t, broker.IsUnavailable(errors.New("boom")))
	assert.True(t, broker.IsCanceled(errors.WithStack(context.Canceled)))
}

func TestIsFullAt(t *testing.T) {
	t.Parallel()

	assert.False(t, broker.IsFullAt(100, 0), "Unbounded brokers are never full.")
	assert.False(t, broker.IsFullAt(1, 2))
	assert.True(t, broker.IsFullAt(2, 2))
}

func TestPoll(t *testing.T) {
	t.Parallel()

	t.Run("Done", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := broker.Poll(context.Background(), time.Second, time.Millisecond, func() (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err, "Poll should succeed once attempt is done.")
		assert.Equal(t, 3, calls)
	})

	t.Run("Timeout Fidelity", func(t *testing.T) {
		t.Parallel()
		const timeout = 120 * time.Millisecond
		start := time.Now()
		err := broker.Poll(context.Background(), timeout, broker.PollInterval, func() (bool, error) {
			return false, nil
		})
		elapsed := time.Since(start)
		assert.True(t, broker.IsTimeout(err), "Poll should time out.")
		assert.GreaterOrEqual(t, elapsed, timeout, "Poll should not time out early.")
		assert.Less(t, elapsed, timeout+broker.PollInterval+50*time.Millisecond, "Poll should not time out late.")
	})

	t.Run("Attempt Error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		err := broker.Poll(context.Background(), 0, 0, func() (bool, error) {
			return false, boom
		})
		assert.Equal(t, boom, err)
	})

	t.Run("Canceled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := broker.Poll(ctx, 0, time.Millisecond, func() (bool, error) {
			return false, nil
		})
		assert.True(t, broker.IsCanceled(err), "Poll should report cancellation.")
	})

	t.Run("Context Deadline", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := broker.Poll(ctx, 0, time.Millisecond, func() (bool, error) {
			return false, nil
		})
		assert.True(t, broker.IsTimeout(err), "Context deadline should be a timeout.")
	})
}
