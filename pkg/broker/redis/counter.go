package redis

import (
	"context"
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker"
)

// decrementScript decrements KEYS[1] unless it is already zero, in which case
// it returns -1.
var decrementScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n <= 0 then
	return -1
end
return redis.call('DECR', KEYS[1])
`)

// counter is the number of unfinished tasks of a list, shared by every
// client of that list.
type counter struct {
	c   *redis.Client
	key string
}

// get gets the current value of the counter. A missing key reads as zero.
func (k *counter) get(ctx context.Context) (int64, error) {
	current, err := k.c.WithContext(ctx).Get(k.key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get number for key %q", k.key)
	}
	v, err := strconv.ParseInt(current, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "unexpected format or not a number for key %q", k.key)
	}
	return v, nil
}

// decrement decrements the counter, refusing to go below zero.
func (k *counter) decrement(ctx context.Context) error {
	v, err := decrementScript.Run(k.c.WithContext(ctx), []string{k.key}).Int64()
	if err != nil {
		return errors.Wrapf(err, "failed to decrement value for key %q", k.key)
	}
	if v < 0 {
		return errors.Wrapf(broker.ErrTaskDone, "counter %q", k.key)
	}
	return nil
}
