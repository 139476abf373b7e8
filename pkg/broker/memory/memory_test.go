package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/internal/brokertest"
	"github.com/dockhardman/mqflow/pkg/broker/memory"
)

func TestQueue(t *testing.T) {
	t.Parallel()
	brokertest.Run(t, func(t *testing.T, opts broker.Options) broker.Broker[int] {
		return memory.NewQueue[int](opts)
	})
}

func TestChannel(t *testing.T) {
	t.Parallel()
	brokertest.Run(t, func(t *testing.T, opts broker.Options) broker.Broker[int] {
		return memory.NewChannel[int](opts)
	})
}

func TestChannelDefaultCapacity(t *testing.T) {
	t.Parallel()

	c := memory.NewChannel[string](broker.Options{})
	assert.Equal(t, memory.DefaultChannelCapacity, c.MaxSize(), "Unbounded channels should get the default capacity.")
	assert.Equal(t, "channel", c.Name())
}

func TestQueueUnbounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := memory.NewQueue[string](broker.Options{})
	for i := 0; i < 1000; i++ {
		require.NoError(t, q.PutNoWait(ctx, "x"))
	}
	full, err := q.Full(ctx)
	require.NoError(t, err)
	assert.False(t, full, "Unbounded queue should never be full.")
	assert.Equal(t, "Broker(name=memory, maxsize=0)", q.String())
}
