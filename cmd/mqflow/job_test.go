package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/memory"
	"github.com/dockhardman/mqflow/pkg/config"
	"github.com/dockhardman/mqflow/pkg/pipeline"
)

func TestJobSource(t *testing.T) {
	t.Parallel()

	src := NewJobSource("p")
	a, err := src(context.Background())
	require.NoError(t, err)
	b, err := src(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p", a.Producer)
	assert.NotEqual(t, a.ID, b.ID, "Every job should get its own ID.")
}

func TestConsumerQuotas(t *testing.T) {
	t.Parallel()

	l := log.NewNopLogger()
	assert.Len(t, consumers(config.DemoConfig{Producers: 1, Consumers: 3, MaxCount: 2}, l), 2, "Consumers without a quota should not be started.")
	assert.Len(t, consumers(config.DemoConfig{Producers: 1, Consumers: 3}, l), 3)
}

func TestDemoPipeline(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := log.NewLogfmtLogger(log.NewSyncWriter(&buf))
	demo := config.DemoConfig{Producers: 2, Consumers: 4, MaxCount: 3, Interval: time.Millisecond}

	b := memory.NewQueue[Job](broker.Options{Name: "demo", MaxSize: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := pipeline.New(pipeline.Config[Job]{
		Producers: producers(demo, l),
		Consumers: consumers(demo, l),
		Broker:    b,
		Log:       l,
	})
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, 4, bytes.Count(buf.Bytes(), []byte("Consumer done.")))
	assert.Equal(t, 6, bytes.Count(buf.Bytes(), []byte("Handled job.")), "Every produced job should be handled.")
}

type closeCounter struct {
	*memory.Queue[Job]
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.Queue.Close()
}

func TestDemoWithoutConsumersClosesBroker(t *testing.T) {
	t.Parallel()

	b := &closeCounter{Queue: memory.NewQueue[Job](broker.Options{})}
	err := runDemo(context.Background(), "demo", config.DemoConfig{Producers: 1}, b, log.NewNopLogger())
	assert.Equal(t, pipeline.ErrConfiguration, errors.Cause(err))
	assert.Equal(t, 1, b.closes, "Broker should be closed when the pipeline never starts.")
}
