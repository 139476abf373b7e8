package endpoint_test

import (
	"context"
	"testing"

	"github.com/go-kit/kit/endpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/memory"
	mqendpoint "github.com/dockhardman/mqflow/pkg/endpoint"
	"github.com/dockhardman/mqflow/pkg/internal/brokermock"
)

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.NewQueue[int](broker.Options{Name: "jobs", MaxSize: 2})
	require.NoError(t, b.Put(ctx, 1))
	require.NoError(t, b.Put(ctx, 2))

	resp, err := mqendpoint.MakeStatsEndpoint(b)(ctx, nil)
	require.NoError(t, err)
	stats := resp.(mqendpoint.StatsResponse)
	assert.NoError(t, stats.Failed())
	assert.Equal(t, "jobs", stats.Name)
	assert.Equal(t, 2, stats.MaxSize)
	assert.Equal(t, 2, stats.Len)
	assert.True(t, stats.Full)
}

func TestPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memory.NewQueue[string](broker.Options{MaxSize: 1})
	put := mqendpoint.MakePutEndpoint[string](b)

	resp, err := put(ctx, mqendpoint.PutRequest[string]{Item: "a"})
	require.NoError(t, err)
	assert.True(t, resp.(mqendpoint.PutResponse).Accepted)

	resp, err = put(ctx, mqendpoint.PutRequest[string]{Item: "b"})
	require.NoError(t, err, "Business failures should be returned in the response.")
	failer, ok := resp.(endpoint.Failer)
	require.True(t, ok)
	assert.True(t, broker.IsFull(failer.Failed()))
	assert.False(t, resp.(mqendpoint.PutResponse).Accepted)
}

func TestPutBrokerError(t *testing.T) {
	t.Parallel()

	b := brokermock.New[int](broker.Options{})
	b.FailPut(assert.AnError)
	resp, err := mqendpoint.MakePutEndpoint[int](b)(context.Background(), mqendpoint.PutRequest[int]{Item: 1})
	require.NoError(t, err)
	assert.Equal(t, assert.AnError, resp.(mqendpoint.PutResponse).Failed())
}
