// Package redis implements a broker on top of a Redis list.
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/codec"
)

// DefaultKeyExpire is how long an idle queue survives in Redis.
const DefaultKeyExpire = 7 * 24 * time.Hour

// UnfinishedSuffix is appended to the list key to form the key of the
// unfinished task counter.
const UnfinishedSuffix = ":unfinished"

// Config configures a RedisAdapter.
type Config struct {
	broker.Options
	// KeyBase names the list. Defaults to Name.
	KeyBase    string
	KeyPrefix  string
	KeyPostfix string
	// KeyExpire is refreshed on every put. Negative values disable expiry.
	KeyExpire time.Duration
	// PollInterval is the delay between two attempts of a blocking wait.
	PollInterval time.Duration
	Codec        codec.Codec
}

// Key returns the name of the list holding the queue.
func (c Config) Key() string {
	base := c.KeyBase
	if base == "" {
		base = c.Name
	}
	return c.KeyPrefix + base + c.KeyPostfix
}

// putScript pushes ARGV[1] unless the list already holds ARGV[2] items,
// refreshes the expiry and counts the new unfinished task. It returns 0 when
// the list is full.
var putScript = redis.NewScript(`
local maxsize = tonumber(ARGV[2])
if maxsize > 0 and redis.call('LLEN', KEYS[1]) >= maxsize then
	return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
redis.call('INCR', KEYS[2])
local expire = tonumber(ARGV[3])
if expire > 0 then
	redis.call('EXPIRE', KEYS[1], expire)
	redis.call('EXPIRE', KEYS[2], expire)
end
return 1
`)

// Ensure RedisAdapter implements broker.Broker.
var _ broker.Broker[int] = (*RedisAdapter[int])(nil)

// RedisAdapter for a Redis client to implement the broker.Broker interface.
//
// Items are pushed on the left of the list and popped from the right. Len is
// a point-in-time estimate when several clients share the list.
type RedisAdapter[T any] struct {
	c        *redis.Client
	opts     broker.Options
	key      string
	expire   time.Duration
	interval time.Duration
	codec    codec.Codec
	counter  *counter

	closeOnce sync.Once
	closeErr  error
}

// NewAdapter creates a new RedisAdapter. The adapter owns c and closes it on
// Close.
func NewAdapter[T any](c *redis.Client, cfg Config) *RedisAdapter[T] {
	if c == nil {
		panic("nil redis client")
	}
	if cfg.Name == "" {
		cfg.Name = "mqflow"
	}
	if cfg.KeyExpire == 0 {
		cfg.KeyExpire = DefaultKeyExpire
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = broker.PollInterval
	}
	key := cfg.Key()
	return &RedisAdapter[T]{
		c:        c,
		opts:     cfg.Options,
		key:      key,
		expire:   cfg.KeyExpire,
		interval: cfg.PollInterval,
		codec:    codec.OrDefault(cfg.Codec),
		counter:  &counter{c: c, key: key + UnfinishedSuffix},
	}
}

// Name returns the name of the broker.
func (r *RedisAdapter[T]) Name() string { return r.opts.Name }

// MaxSize returns the capacity of the broker.
func (r *RedisAdapter[T]) MaxSize() int { return r.opts.MaxSize }

// Key returns the name of the list holding the queue.
func (r *RedisAdapter[T]) Key() string { return r.key }

func (r *RedisAdapter[T]) String() string { return r.opts.String() }

// Len returns the length of the list.
func (r *RedisAdapter[T]) Len(ctx context.Context) (int, error) {
	n, err := r.c.WithContext(ctx).LLen(r.key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "unable to get length of Redis list %q", r.key)
	}
	return int(n), nil
}

// Empty reports whether the list is empty.
func (r *RedisAdapter[T]) Empty(ctx context.Context) (bool, error) {
	n, err := r.Len(ctx)
	return n == 0, err
}

// Full reports whether the list is at capacity.
func (r *RedisAdapter[T]) Full(ctx context.Context) (bool, error) {
	n, err := r.Len(ctx)
	return broker.IsFullAt(n, r.opts.MaxSize), err
}

// Get pops the oldest item, polling while the list is empty.
//
// BRPOP is not used since its timeout has a resolution of one second.
func (r *RedisAdapter[T]) Get(ctx context.Context, opts ...broker.WaitOption) (T, error) {
	w := r.opts.Wait(opts...)
	if !w.Block {
		return r.GetNoWait(ctx)
	}
	var item T
	err := broker.Poll(ctx, w.Timeout, r.interval, func() (bool, error) {
		v, err := r.GetNoWait(ctx)
		if broker.IsEmpty(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		item = v
		return true, nil
	})
	return item, errors.Wrapf(err, "unable to get from Redis list %q", r.key)
}

// GetNoWait pops the oldest item or fails with broker.ErrEmpty.
func (r *RedisAdapter[T]) GetNoWait(ctx context.Context) (T, error) {
	var item T
	v, err := r.c.WithContext(ctx).RPop(r.key).Result()
	if err == redis.Nil {
		return item, errors.Wrapf(broker.ErrEmpty, "Redis list %q", r.key)
	}
	if err != nil {
		return item, errors.Wrapf(err, "error reading from Redis list %q", r.key)
	}
	err = decode(r.codec, v, &item)
	return item, errors.Wrapf(err, "invalid item in Redis list %q", r.key)
}

// Put pushes item, polling while the list is full.
func (r *RedisAdapter[T]) Put(ctx context.Context, item T, opts ...broker.WaitOption) error {
	w := r.opts.Wait(opts...)
	if !w.Block {
		return r.PutNoWait(ctx, item)
	}
	value, err := encode(r.codec, item)
	if err != nil {
		return err
	}
	err = broker.Poll(ctx, w.Timeout, r.interval, func() (bool, error) {
		err := r.push(ctx, value)
		if broker.IsFull(err) {
			return false, nil
		}
		return err == nil, err
	})
	return errors.Wrapf(err, "unable to put into Redis list %q", r.key)
}

// PutNoWait pushes item or fails with broker.ErrFull.
func (r *RedisAdapter[T]) PutNoWait(ctx context.Context, item T) error {
	value, err := encode(r.codec, item)
	if err != nil {
		return err
	}
	return r.push(ctx, value)
}

func (r *RedisAdapter[T]) push(ctx context.Context, value string) error {
	expire := int64(0)
	if r.expire > 0 {
		expire = int64(r.expire / time.Second)
	}
	pushed, err := putScript.Run(r.c.WithContext(ctx),
		[]string{r.key, r.counter.key},
		value, r.opts.MaxSize, expire,
	).Int64()
	if err != nil {
		return errors.Wrapf(err, "error pushing to Redis list %q", r.key)
	}
	if pushed == 0 {
		return errors.Wrapf(broker.ErrFull, "Redis list %q", r.key)
	}
	return nil
}

// TaskDone decrements the shared unfinished task counter.
func (r *RedisAdapter[T]) TaskDone(ctx context.Context) error {
	return r.counter.decrement(ctx)
}

// Join polls until the shared unfinished task counter drops to zero.
func (r *RedisAdapter[T]) Join(ctx context.Context) error {
	return broker.Poll(ctx, 0, r.interval, func() (bool, error) {
		n, err := r.counter.get(ctx)
		return n <= 0, err
	})
}

// Close closes the Redis client.
func (r *RedisAdapter[T]) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = errors.Wrap(r.c.Close(), "unable to close Redis client")
	})
	return r.closeErr
}
