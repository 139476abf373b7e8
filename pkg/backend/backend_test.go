package backend_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhardman/mqflow/pkg/backend"
	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/file"
	"github.com/dockhardman/mqflow/pkg/broker/memory"
	redisbroker "github.com/dockhardman/mqflow/pkg/broker/redis"
	"github.com/dockhardman/mqflow/pkg/config"
)

func roundTrip(t *testing.T, b broker.Broker[string]) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "hello"))
	v, err := b.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	require.NoError(t, b.Close())
}

func TestKinds(t *testing.T) {
	t.Parallel()

	t.Run("Memory", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		b, err := backend.New[string](cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &memory.Queue[string]{}, b)
		assert.Equal(t, "mqflow", b.Name())
		roundTrip(t, b)
	})

	t.Run("Channel", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Broker.Kind = backend.KindChannel
		cfg.Broker.MaxSize = 4
		b, err := backend.New[string](cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &memory.Channel[string]{}, b)
		assert.Equal(t, 4, b.MaxSize())
		roundTrip(t, b)
	})

	t.Run("File", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Broker.Kind = backend.KindFile
		cfg.File.Path = filepath.Join(t.TempDir(), "queue.json")
		b, err := backend.New[string](cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &file.Broker[string]{}, b)
		roundTrip(t, b)
	})

	t.Run("Redis", func(t *testing.T) {
		t.Parallel()
		s := miniredis.RunT(t)
		cfg := config.Default()
		cfg.Broker.Kind = backend.KindRedis
		cfg.Redis.Address = s.Addr()
		cfg.Redis.KeyPrefix = "test:"
		b, err := backend.New[string](cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &redisbroker.RedisAdapter[string]{}, b)
		require.NoError(t, b.Put(context.Background(), "hello"))
		assert.True(t, s.Exists("test:mqflow"), "Prefix should be applied to the list key.")
		roundTrip(t, b)
	})
}

func TestUnknownKind(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Broker.Kind = "kafka"
	_, err := backend.New[string](cfg, nil)
	assert.Equal(t, backend.ErrUnknownKind, errors.Cause(err))
}

func TestRedisUnreachable(t *testing.T) {
	t.Parallel()

	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	cfg := config.Default()
	cfg.Redis.Address = addr
	_, err := backend.NewRedisClient(cfg.Redis)
	assert.Error(t, err)
}
