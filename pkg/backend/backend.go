// Package backend builds the broker selected by the configuration.
package backend

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/amqp"
	"github.com/dockhardman/mqflow/pkg/broker/file"
	"github.com/dockhardman/mqflow/pkg/broker/memory"
	redisbroker "github.com/dockhardman/mqflow/pkg/broker/redis"
	"github.com/dockhardman/mqflow/pkg/config"
)

// Broker kinds accepted in config.BrokerConfig.Kind.
const (
	KindMemory  = "memory"
	KindChannel = "channel"
	KindFile    = "file"
	KindRedis   = "redis"
	KindAMQP    = "amqp"
)

// ErrUnknownKind is returned for a broker kind New does not know.
var ErrUnknownKind = errors.New("unknown broker kind")

// New returns the broker described by cfg.
func New[T any](cfg *config.Config, l log.Logger) (broker.Broker[T], error) {
	if l == nil {
		l = log.NewNopLogger()
	}
	opts := broker.Options{
		Name:        cfg.Broker.Name,
		MaxSize:     cfg.Broker.MaxSize,
		NonBlocking: cfg.Broker.NonBlocking,
		Timeout:     cfg.Broker.Timeout,
	}

	var (
		b   broker.Broker[T]
		err error
	)
	switch cfg.Broker.Kind {
	case KindMemory, "":
		b = memory.NewQueue[T](opts)
	case KindChannel:
		b = memory.NewChannel[T](opts)
	case KindFile:
		b, err = newFile[T](opts, cfg.File)
	case KindRedis:
		b, err = newRedis[T](opts, cfg.Redis)
	case KindAMQP:
		b, err = amqp.Dial[T](amqp.Config{
			Options: opts,
			URL:     cfg.AMQP.URL,
			Durable: cfg.AMQP.Durable,
			Passive: cfg.AMQP.Passive,
		})
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q", cfg.Broker.Kind)
	}
	if err != nil {
		return nil, err
	}
	_ = l.Log("LEVEL", "INFO", "MESSAGE", "Broker ready.", "kind", cfg.Broker.Kind, "broker", opts)
	return b, nil
}

func newFile[T any](opts broker.Options, cfg config.FileConfig) (broker.Broker[T], error) {
	b, err := file.New[T](file.Config{
		Options:    opts,
		Path:       cfg.Path,
		StaleAfter: cfg.StaleAfter,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newRedis[T any](opts broker.Options, cfg config.RedisConfig) (broker.Broker[T], error) {
	c, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return redisbroker.NewAdapter[T](c, redisbroker.Config{
		Options:    opts,
		KeyPrefix:  cfg.KeyPrefix,
		KeyPostfix: cfg.KeyPostfix,
		KeyExpire:  cfg.KeyExpire,
	}), nil
}

// NewRedisClient connects to the server in cfg and checks it answers.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("missing Redis address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   10,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "unable to reach Redis at %s", cfg.Address)
	}
	return client, nil
}
