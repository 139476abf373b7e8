package main

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/consumer"
	"github.com/dockhardman/mqflow/pkg/producer"
)

// Job is the item moved through the demo pipeline.
type Job struct {
	ID        string    `json:"id"`
	Producer  string    `json:"producer"`
	CreatedAt time.Time `json:"created_at"`
	Payload   string    `json:"payload,omitempty"`
}

// NewJobSource returns a source of jobs stamped with the producer name.
func NewJobSource(producerName string) producer.Source[Job] {
	return func(context.Context) (Job, error) {
		return Job{
			ID:        uuid.NewString(),
			Producer:  producerName,
			CreatedAt: time.Now().UTC(),
		}, nil
	}
}

// LogJob returns a handler that logs every job with its queueing latency.
func LogJob(l log.Logger) consumer.Handler[Job] {
	return func(_ context.Context, j Job, b broker.Broker[Job]) error {
		_ = l.Log("LEVEL", "INFO", "MESSAGE", "Handled job.",
			"id", j.ID,
			"producer", j.Producer,
			"latency", time.Since(j.CreatedAt),
			"broker", b.Name())
		return nil
	}
}
